// Package reactions manages emoji reactions on messages. Every
// mutation recomputes and broadcasts the full aggregate, so clients
// replace state instead of patching it and double-taps cannot skew
// counts.
package reactions

import (
	"teamwire/pkg/auth"
	"teamwire/pkg/errs"
	"teamwire/pkg/logger"
	"teamwire/pkg/membership"
	"teamwire/pkg/models"
	"teamwire/pkg/presence"
	"teamwire/pkg/store"
)

type Service struct {
	Reg *presence.Registry
}

func NewService(reg *presence.Registry) *Service {
	return &Service{Reg: reg}
}

// Add records the caller's emoji on a message. Adding the same emoji
// twice is idempotent; distinct emojis from the same user coexist.
func (s *Service) Add(id auth.Identity, msgID, emoji string) ([]models.EmojiCount, error) {
	msg, err := s.authorize(id, msgID)
	if err != nil {
		return nil, err
	}
	if emoji == "" {
		return nil, errs.Validationf("emoji is required")
	}
	r := models.Reaction{MessageID: msgID, User: id.UserID, Emoji: emoji, TS: store.NowTS()}
	if err := store.PutReaction(r); err != nil {
		return nil, errs.Storef("persist reaction: %v", err)
	}
	return s.broadcast(msg)
}

// Remove deletes the caller's emoji from a message. Removing a reaction
// never placed is a no-op that still rebroadcasts current state.
func (s *Service) Remove(id auth.Identity, msgID, emoji string) ([]models.EmojiCount, error) {
	msg, err := s.authorize(id, msgID)
	if err != nil {
		return nil, err
	}
	if emoji == "" {
		return nil, errs.Validationf("emoji is required")
	}
	if err := store.DeleteReaction(msgID, id.UserID, emoji); err != nil {
		return nil, errs.Storef("remove reaction: %v", err)
	}
	return s.broadcast(msg)
}

// ListDetail returns the individual reaction rows for the "who reacted"
// view.
func (s *Service) ListDetail(id auth.Identity, msgID string) ([]models.Reaction, error) {
	if _, err := s.authorize(id, msgID); err != nil {
		return nil, err
	}
	rows, err := store.ListReactions(msgID)
	if err != nil {
		return nil, errs.Storef("list reactions: %v", err)
	}
	return rows, nil
}

// authorize resolves the message and checks conversation membership.
// Reacting to a deleted message is rejected.
func (s *Service) authorize(id auth.Identity, msgID string) (models.Message, error) {
	msg, err := store.GetLatestMessage(msgID)
	if err != nil {
		if store.IsNotFound(err) {
			return msg, errs.NotFoundf("message %s not found", msgID)
		}
		return msg, errs.Storef("load message: %v", err)
	}
	if msg.Deleted {
		return msg, errs.Validationf("cannot react to a deleted message")
	}
	if err := membership.Require(msg.Conversation, id.UserID); err != nil {
		return msg, err
	}
	return msg, nil
}

// broadcast recomputes the aggregate and pushes it to every
// participant, the actor included, so all devices converge on the same
// counts.
func (s *Service) broadcast(msg models.Message) ([]models.EmojiCount, error) {
	agg, err := store.AggregateReactions(msg.ID)
	if err != nil {
		return nil, errs.Storef("aggregate reactions: %v", err)
	}
	parts, err := membership.Participants(msg.Conversation)
	if err != nil {
		logger.Error("fanout_participants_failed", "conversation", msg.Conversation, "error", err)
		return agg, nil
	}
	s.Reg.SendToUsers(parts, models.EvtReactionUpdated, models.ReactionEvent{
		MessageID:    msg.ID,
		Conversation: msg.Conversation,
		Aggregate:    agg,
	})
	return agg, nil
}
