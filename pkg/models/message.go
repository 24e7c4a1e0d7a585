package models

// MessageKind tags the payload shape of a message. A message is text,
// attachment-only, or both; kind is explicit so consumers never probe
// field presence.
type MessageKind string

const (
	KindText           MessageKind = "text"
	KindAttachment     MessageKind = "attachment"
	KindTextAttachment MessageKind = "text_attachment"
)

// Attachment describes an uploaded file referenced by a message. The
// bytes themselves live outside the core; only the descriptor is stored.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Mime string `json:"mime,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is one message in a conversation (channel or direct). Edits
// and deletes append new versions under the same ID; the stored latest
// pointer always reflects the current state.
type Message struct {
	ID           string      `json:"id"`
	Conversation string      `json:"conversation"`
	Sender       string      `json:"sender"`
	SenderName   string      `json:"sender_name,omitempty"`
	Kind         MessageKind `json:"kind"`
	Body         string      `json:"body,omitempty"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	// ParentID links a reply to the message it answers.
	ParentID string `json:"parent_id,omitempty"`
	Edited   bool   `json:"edited,omitempty"`
	// Deleted marks a soft delete; the row is excluded from history
	// reads but never physically removed.
	Deleted   bool  `json:"deleted,omitempty"`
	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts,omitempty"`
}

// DeliveryStatus is the recipient-side state of a direct message.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusSeen      DeliveryStatus = "seen"
	StatusFailed    DeliveryStatus = "failed"
)

// DeliveryReceipt tracks per-recipient delivered/read progress in a
// direct conversation. Timestamps only ever move forward.
type DeliveryReceipt struct {
	Conversation string `json:"conversation"`
	User         string `json:"user"`
	DeliveredTS  int64  `json:"delivered_ts,omitempty"`
	ReadTS       int64  `json:"read_ts,omitempty"`
}

// Status derives the receipt's current state for the tick UI.
func (r DeliveryReceipt) Status() DeliveryStatus {
	switch {
	case r.ReadTS > 0:
		return StatusSeen
	case r.DeliveredTS > 0:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Reaction is one user's emoji on one message. The (message, user,
// emoji) triple is unique; the same user may add distinct emojis.
type Reaction struct {
	MessageID string `json:"message_id"`
	User      string `json:"user"`
	Emoji     string `json:"emoji"`
	TS        int64  `json:"ts"`
}

// EmojiCount is one entry of the aggregate broadcast on every reaction
// mutation. The full list is always sent, never a delta.
type EmojiCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// ReadWatermark records "messages at or before this timestamp are read"
// for one user in one conversation. Monotonically advances.
type ReadWatermark struct {
	Conversation string `json:"conversation"`
	User         string `json:"user"`
	TS           int64  `json:"ts"`
}

// ClearWatermark hides messages at or before TS for one user only.
// Repeated clears overwrite the value; other participants are
// unaffected.
type ClearWatermark struct {
	User         string `json:"user"`
	Conversation string `json:"conversation"`
	TS           int64  `json:"ts"`
}
