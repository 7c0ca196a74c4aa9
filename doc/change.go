// Package doc is the document engine behind docsync: a hash-linked history
// of changes over a flat key/value document with last-writer-wins
// registers.
//
// A Doc is immutable. Every operation that adds changes returns a new Doc,
// so a *Doc can be handed to concurrent readers while a writer builds the
// next version.
package doc

import (
	"crypto/sha256"
	"encoding/json"
	"math"

	"github.com/teranos/docsync/errors"
	"github.com/teranos/docsync/sync"
)

// OpAction is the kind of a single operation inside a change.
type OpAction string

const (
	// OpSet assigns a value to a key.
	OpSet OpAction = "set"
	// OpDelete removes a key.
	OpDelete OpAction = "del"
)

// Op is one mutation of the document.
type Op struct {
	Action OpAction `json:"action"`
	Key    string   `json:"key"`
	Value  string   `json:"value,omitempty"`
}

// Set returns an op assigning value to key.
func Set(key, value string) Op {
	return Op{Action: OpSet, Key: key, Value: value}
}

// Delete returns an op removing key.
func Delete(key string) Op {
	return Op{Action: OpDelete, Key: key}
}

// Change is a decoded change. Its identity is the SHA-256 of its encoding.
type Change struct {
	Actor   string      `json:"actor"`
	Seq     uint64      `json:"seq"`
	Lamport uint64      `json:"lamport"`
	Time    int64       `json:"time"`
	Message string      `json:"message,omitempty"`
	Deps    []sync.Hash `json:"deps"`
	Ops     []Op        `json:"ops"`
}

// Encode serialises a change. Deps are sorted first so that equal changes
// encode, and therefore hash, identically.
func Encode(c Change) (sync.Change, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.Deps = sync.SortedUnique(c.Deps)
	if c.Ops == nil {
		c.Ops = []Op{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode change")
	}
	return sync.Change(data), nil
}

// Decode parses an encoded change.
func Decode(raw sync.Change) (Change, error) {
	var c Change
	if err := json.Unmarshal(raw, &c); err != nil {
		return Change{}, errors.Wrap(errors.ErrMalformedMessage, "change is not valid JSON: "+err.Error())
	}
	if err := c.validate(); err != nil {
		return Change{}, err
	}
	return c, nil
}

// HashOf returns the content hash of an encoded change.
func HashOf(raw sync.Change) sync.Hash {
	return sync.Hash(sha256.Sum256(raw))
}

func (c Change) validate() error {
	if c.Actor == "" {
		return errors.Wrap(errors.ErrMalformedMessage, "change has no actor")
	}
	if c.Seq == 0 {
		return errors.Wrapf(errors.ErrMalformedMessage, "change from %s has seq 0", c.Actor)
	}
	// Local commits take max lamport + 1 and must not wrap
	if c.Lamport == math.MaxUint64 {
		return errors.Wrapf(errors.ErrMalformedMessage, "change from %s has lamport clock at its maximum", c.Actor)
	}
	for _, op := range c.Ops {
		switch op.Action {
		case OpSet, OpDelete:
		default:
			return errors.Wrapf(errors.ErrMalformedMessage, "unknown op action %q", op.Action)
		}
		if op.Key == "" {
			return errors.Wrap(errors.ErrMalformedMessage, "op with empty key")
		}
	}
	return nil
}
