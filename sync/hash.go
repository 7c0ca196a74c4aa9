package sync

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/teranos/docsync/errors"
)

// HashSize is the length in bytes of a change hash.
const HashSize = sha256.Size

// Hash is the SHA-256 content identifier of a single change.
// Hashes order lexicographically by byte value.
type Hash [HashSize]byte

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// MarshalText encodes the hash as hex so it can key JSON objects and arrays.
func (h Hash) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(HashSize))
	hex.Encode(out, h[:])
	return out, nil
}

// UnmarshalText decodes a 64-character hex hash.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Compare orders two hashes lexicographically.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(HashSize) {
		return h, errors.Wrapf(errors.ErrInvalidRequest, "hash %q must be %d hex characters", s, hex.EncodedLen(HashSize))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, errors.Wrapf(errors.ErrInvalidRequest, "hash %q: %v", s, err)
	}
	return h, nil
}

// SortHashes sorts a slice of hashes in place lexicographically.
func SortHashes(hashes []Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].Compare(hashes[j]) < 0
	})
}

// SortedUnique returns a sorted copy of hashes with duplicates removed.
// The result is never nil.
func SortedUnique(hashes []Hash) []Hash {
	seen := make(map[Hash]struct{}, len(hashes))
	out := make([]Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	SortHashes(out)
	return out
}

// HeadsEqual reports whether a and b hold the same set of hashes,
// ignoring order and duplicates.
func HeadsEqual(a, b []Hash) bool {
	as := toSet(a)
	bs := toSet(b)
	if len(as) != len(bs) {
		return false
	}
	for h := range as {
		if _, ok := bs[h]; !ok {
			return false
		}
	}
	return true
}

// HexHashes renders hashes for structured log fields.
func HexHashes(hashes []Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Short()
	}
	return out
}

func toSet(hashes []Hash) map[Hash]struct{} {
	set := make(map[Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set
}

// cloneHashes copies hashes, keeping nil as nil.
func cloneHashes(hashes []Hash) []Hash {
	if hashes == nil {
		return nil
	}
	out := make([]Hash, len(hashes))
	copy(out, hashes)
	return out
}
