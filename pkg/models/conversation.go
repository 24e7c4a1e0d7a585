package models

import "strings"

// Team groups channels inside an organization.
type Team struct {
	ID          string `json:"id"`
	Org         string `json:"org"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedTS   int64  `json:"created_ts"`
}

// Channel is a named team conversation.
type Channel struct {
	ID          string `json:"id"`
	Team        string `json:"team"`
	Org         string `json:"org"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedTS   int64  `json:"created_ts"`
	UpdatedTS   int64  `json:"updated_ts,omitempty"`
}

// Membership records one user's membership in a channel.
type Membership struct {
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Role     string `json:"role,omitempty"`
	JoinedTS int64  `json:"joined_ts"`
}

// DirectConversation is the 1:1 conversation between an unordered pair
// of users. Exactly one row family exists per pair because the pair id
// is canonically ordered.
type DirectConversation struct {
	ID        string `json:"id"`
	UserA     string `json:"user_a"`
	UserB     string `json:"user_b"`
	CreatedTS int64  `json:"created_ts"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
}

// Other returns the participant that is not user.
func (d DirectConversation) Other(user string) string {
	if d.UserA == user {
		return d.UserB
	}
	return d.UserA
}

// Has reports whether user is one of the pair.
func (d DirectConversation) Has(user string) bool {
	return d.UserA == user || d.UserB == user
}

// DirectPairID returns the canonical conversation id for a user pair:
// the lexically smaller id first, joined with "~". Both orderings of
// the same pair map to the same id.
func DirectPairID(u1, u2 string) string {
	if strings.Compare(u1, u2) > 0 {
		u1, u2 = u2, u1
	}
	return u1 + "~" + u2
}

// IsDirectID reports whether a conversation id names a direct pair.
func IsDirectID(convID string) bool {
	return strings.Contains(convID, "~")
}

// UserProfile carries the display attributes hydrated into fan-out
// events. The authoritative user directory lives outside the core.
type UserProfile struct {
	ID          string `json:"id"`
	Org         string `json:"org"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role,omitempty"`
}

// ConversationSummary is one entry of the conversation list: the
// conversation plus the requester-scoped unread count and last message.
type ConversationSummary struct {
	ID          string   `json:"id"`
	Direct      bool     `json:"direct"`
	Name        string   `json:"name,omitempty"`
	Peer        string   `json:"peer,omitempty"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}
