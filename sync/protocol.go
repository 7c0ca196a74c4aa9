package sync

// Session envelope exchanged between docsync peers.
//
// The session is symmetric: both sides run the same loop and neither is
// "server" or "client".
//
// Protocol flow:
//
//	1. Both send SyncHello (replica name)
//	2. Each round, both send exactly one envelope, then read one:
//	   SyncMessage carrying a Message, or SyncIdle when Generate had
//	   nothing to say
//	3. A round in which both sides sent SyncIdle ends the session
//	4. Both send SyncDone with message counts

// MsgType identifies the session envelope kind.
type MsgType string

const (
	// MsgHello is the initial handshake: "this is who I am."
	MsgHello MsgType = "sync_hello"

	// MsgSync carries one negotiation Message.
	MsgSync MsgType = "sync_message"

	// MsgIdle says "I have nothing to send this round."
	MsgIdle MsgType = "sync_idle"

	// MsgDone signals the session is complete.
	MsgDone MsgType = "sync_done"
)

// Msg is the envelope for all session messages.
type Msg struct {
	Type MsgType `json:"type"`

	// Hello
	Name string `json:"name,omitempty"`

	// Sync
	Sync *Message `json:"sync,omitempty"`

	// Stats (on Done)
	Sent     int `json:"sent,omitempty"`
	Received int `json:"received,omitempty"`
}
