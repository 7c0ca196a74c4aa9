package sync

import (
	"encoding/json"

	"github.com/teranos/docsync/errors"
)

// Message is one negotiation unit sent to a peer.
//
// All four fields are always present on the wire; an empty field is an
// empty array, never absent.
type Message struct {
	Heads   []Hash        `json:"heads"`
	Have    []HaveSummary `json:"have"`
	Need    []Hash        `json:"need"`
	Changes []Change      `json:"changes"`
}

// wireMessage mirrors Message with pointer fields so absence is detectable.
type wireMessage struct {
	Heads   *[]Hash        `json:"heads"`
	Have    *[]HaveSummary `json:"have"`
	Need    *[]Hash        `json:"need"`
	Changes *[]Change      `json:"changes"`
}

// normalized returns a copy with nil slices replaced by empty ones.
func (m Message) normalized() Message {
	out := m
	if out.Heads == nil {
		out.Heads = []Hash{}
	}
	if out.Need == nil {
		out.Need = []Hash{}
	}
	if out.Changes == nil {
		out.Changes = []Change{}
	}
	if out.Have == nil {
		out.Have = []HaveSummary{}
	} else {
		have := make([]HaveSummary, len(out.Have))
		for i, h := range out.Have {
			if h.LastSync == nil {
				h.LastSync = []Hash{}
			}
			if h.Bloom == nil {
				h.Bloom = []byte{}
			}
			have[i] = h
		}
		out.Have = have
	}
	return out
}

// MarshalJSON always emits all four arrays.
func (m Message) MarshalJSON() ([]byte, error) {
	n := m.normalized()
	return json.Marshal(wireMessage{
		Heads:   &n.Heads,
		Have:    &n.Have,
		Need:    &n.Need,
		Changes: &n.Changes,
	})
}

// UnmarshalJSON rejects a message with any of the four fields missing.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(errors.ErrMalformedMessage, err.Error())
	}
	switch {
	case w.Heads == nil:
		return errors.Wrap(errors.ErrMalformedMessage, "missing heads")
	case w.Have == nil:
		return errors.Wrap(errors.ErrMalformedMessage, "missing have")
	case w.Need == nil:
		return errors.Wrap(errors.ErrMalformedMessage, "missing need")
	case w.Changes == nil:
		return errors.Wrap(errors.ErrMalformedMessage, "missing changes")
	}
	for i, h := range *w.Have {
		if h.LastSync == nil {
			return errors.Wrapf(errors.ErrMalformedMessage, "have[%d] missing lastSync", i)
		}
	}
	*m = Message{
		Heads:   *w.Heads,
		Have:    *w.Have,
		Need:    *w.Need,
		Changes: *w.Changes,
	}
	return nil
}
