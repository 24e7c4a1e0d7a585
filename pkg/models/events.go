package models

// Outbound event types pushed over the duplex connection. Every
// mutation event carries full current state (the whole message, the
// whole aggregate), never a delta, so clients treat each broadcast as
// a replacement.
const (
	EvtMessageNew      = "message.new"
	EvtMessageEdited   = "message.edited"
	EvtMessageDeleted  = "message.deleted"
	EvtReactionUpdated = "reaction.updated"
	EvtDeliveryUpdated = "delivery.updated"
	EvtReadUpdated     = "read.updated"
	EvtCallOffer       = "call.offer"
	EvtCallAnswer      = "call.answer"
	EvtCallCandidate   = "call.candidate"
	EvtCallEnded       = "call.ended"
	EvtCallRoomJoined  = "call.room.joined"
	EvtCallRoomLeft    = "call.room.left"
	EvtError           = "error"
)

// MessageEvent carries a fully-hydrated message. For message.new the
// client replaces its optimistic placeholder using CorrelationID, which
// it generated at submit time.
type MessageEvent struct {
	Message       Message `json:"message"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// ReactionEvent carries the full aggregate after any reaction mutation.
type ReactionEvent struct {
	MessageID    string       `json:"message_id"`
	Conversation string       `json:"conversation"`
	Aggregate    []EmojiCount `json:"aggregate"`
}

// DeliveryEvent tells the original sender their counterpart's receipt
// advanced, so the tick UI moves forward.
type DeliveryEvent struct {
	Conversation string         `json:"conversation"`
	User         string         `json:"user"`
	Status       DeliveryStatus `json:"status"`
	TS           int64          `json:"ts"`
}

// ReadEvent reports a read watermark advance.
type ReadEvent struct {
	Conversation string `json:"conversation"`
	User         string `json:"user"`
	TS           int64  `json:"ts"`
}

// SignalEvent relays a call-setup payload annotated with the caller's
// identity. The relay never interprets Payload.
type SignalEvent struct {
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	CallType string `json:"call_type,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// RoomEvent reports call-room membership changes so existing members
// can open a peer connection to the newcomer (full mesh).
type RoomEvent struct {
	Room string `json:"room"`
	User string `json:"user"`
	Conn string `json:"conn"`
}

// ErrorEvent answers one inbound event that failed, correlated to the
// client's request.
type ErrorEvent struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Error         string `json:"error"`
}
