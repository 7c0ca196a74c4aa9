package doc

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/sync"
)

// Bloom filter parameters: ~1% false positives at 10 bits per entry.
const (
	bloomBitsPerEntry = 10
	bloomHashes       = 7

	// Limits on filters received from peers.
	maxBloomBitsPerEntry = 64
	maxBloomHashes       = 32
	maxBloomBytes        = math.MaxUint32 / 8
)

// BloomFilter is a probabilistic set of change hashes. Bit positions are
// taken from the hash bytes themselves, which are already uniformly
// distributed.
type BloomFilter struct {
	numEntries   uint64
	bitsPerEntry uint64
	numHashes    uint64
	bits         []byte
}

// NewBloomFilter builds a filter containing hashes.
func NewBloomFilter(hashes []sync.Hash) *BloomFilter {
	f := &BloomFilter{
		numEntries:   uint64(len(hashes)),
		bitsPerEntry: bloomBitsPerEntry,
		numHashes:    bloomHashes,
	}
	f.bits = make([]byte, (f.numEntries*f.bitsPerEntry+7)/8)
	for _, h := range hashes {
		f.add(h)
	}
	return f
}

// DecodeBloomFilter parses the encoding produced by Bytes. An empty input
// is the empty filter.
func DecodeBloomFilter(data []byte) (*BloomFilter, error) {
	if len(data) == 0 {
		return &BloomFilter{bitsPerEntry: bloomBitsPerEntry, numHashes: bloomHashes}, nil
	}
	r := bytes.NewReader(data)
	var header [3]uint64
	for i := range header {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, errors.Wrap(errors.ErrMalformedMessage, "truncated bloom filter header")
		}
		header[i] = v
	}
	f := &BloomFilter{numEntries: header[0], bitsPerEntry: header[1], numHashes: header[2]}
	if f.numHashes == 0 || f.bitsPerEntry == 0 {
		return nil, errors.Wrap(errors.ErrMalformedMessage, "bloom filter with zero hash count or bits per entry")
	}
	if f.numHashes > maxBloomHashes || f.bitsPerEntry > maxBloomBitsPerEntry {
		return nil, errors.Wrapf(errors.ErrMalformedMessage,
			"bloom filter with %d hashes and %d bits per entry exceeds %d and %d",
			f.numHashes, f.bitsPerEntry, maxBloomHashes, maxBloomBitsPerEntry)
	}
	if f.numEntries > maxBloomBytes*8/f.bitsPerEntry {
		return nil, errors.Wrapf(errors.ErrMalformedMessage, "bloom filter with %d entries is too large", f.numEntries)
	}
	want := (f.numEntries*f.bitsPerEntry + 7) / 8
	if uint64(r.Len()) != want {
		return nil, errors.Wrapf(errors.ErrMalformedMessage, "bloom filter has %d bytes of bits, want %d", r.Len(), want)
	}
	f.bits = make([]byte, want)
	copy(f.bits, data[len(data)-r.Len():])
	return f, nil
}

// Bytes encodes the filter: uvarint entry count, bits per entry, hash
// count, then the bit array. The empty filter encodes to no bytes.
func (f *BloomFilter) Bytes() []byte {
	if f.numEntries == 0 {
		return []byte{}
	}
	out := make([]byte, 0, 3*binary.MaxVarintLen64+len(f.bits))
	out = binary.AppendUvarint(out, f.numEntries)
	out = binary.AppendUvarint(out, f.bitsPerEntry)
	out = binary.AppendUvarint(out, f.numHashes)
	return append(out, f.bits...)
}

// Contains reports whether h may be in the set. False positives are
// possible, false negatives are not.
func (f *BloomFilter) Contains(h sync.Hash) bool {
	if f.numEntries == 0 {
		return false
	}
	found := true
	f.eachPosition(h, func(p uint32) bool {
		if f.bits[p>>3]&(1<<(p&7)) == 0 {
			found = false
		}
		return found
	})
	return found
}

func (f *BloomFilter) add(h sync.Hash) {
	f.eachPosition(h, func(p uint32) bool {
		f.bits[p>>3] |= 1 << (p & 7)
		return true
	})
}

// eachPosition calls fn with every bit position of h until fn returns false.
func (f *BloomFilter) eachPosition(h sync.Hash, fn func(uint32) bool) {
	modulo := uint32(8 * len(f.bits))
	x := binary.LittleEndian.Uint32(h[0:4]) % modulo
	y := binary.LittleEndian.Uint32(h[4:8]) % modulo
	z := binary.LittleEndian.Uint32(h[8:12]) % modulo

	if !fn(x) {
		return
	}
	for i := uint64(1); i < f.numHashes; i++ {
		x = (x + y) % modulo
		y = (y + z) % modulo
		if !fn(x) {
			return
		}
	}
}
