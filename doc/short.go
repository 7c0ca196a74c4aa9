package doc

import (
	"github.com/mr-tron/base58"

	"github.com/teranos/docsync/sync"
)

// ShortHash renders the first 8 bytes of a change hash in base58, for CLI
// tables and log lines where the full hex form is too wide.
func ShortHash(h sync.Hash) string {
	return base58.Encode(h[:8])
}

// ShortHashes renders each hash with ShortHash.
func ShortHashes(hashes []sync.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = ShortHash(h)
	}
	return out
}
