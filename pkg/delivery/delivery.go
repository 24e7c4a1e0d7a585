// Package delivery is the message pipeline: validate, authorize,
// persist, then fan out. Persistence is the commit point; fan-out after
// it is best effort per connection, and offline devices catch up from
// history on reconnect.
package delivery

import (
	"strings"

	"teamwire/pkg/auth"
	"teamwire/pkg/errs"
	"teamwire/pkg/logger"
	"teamwire/pkg/membership"
	"teamwire/pkg/models"
	"teamwire/pkg/presence"
	"teamwire/pkg/store"
	"teamwire/pkg/utils"
)

// Service routes persisted mutations to live connections.
type Service struct {
	Reg *presence.Registry
}

func NewService(reg *presence.Registry) *Service {
	return &Service{Reg: reg}
}

// SendInput is one message submission from a client device.
type SendInput struct {
	Conversation  string             `json:"conversation"`
	Body          string             `json:"body,omitempty"`
	Attachment    *models.Attachment `json:"attachment,omitempty"`
	ParentID      string             `json:"parent_id,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
}

// kindOf derives the explicit payload kind from what the input carries.
func kindOf(body string, att *models.Attachment) models.MessageKind {
	switch {
	case body != "" && att != nil:
		return models.KindTextAttachment
	case att != nil:
		return models.KindAttachment
	default:
		return models.KindText
	}
}

// SendMessage validates and persists a new message, then fans it out to
// the other participants' devices. The sender is skipped: the submitting
// transport echoes the confirmed record back on its own response path,
// carrying CorrelationID so the device can reconcile its optimistic
// placeholder.
func (s *Service) SendMessage(id auth.Identity, in SendInput) (models.Message, error) {
	in.Body = strings.TrimSpace(in.Body)
	if in.Conversation == "" {
		return models.Message{}, errs.Validationf("conversation is required")
	}
	if in.Body == "" && in.Attachment == nil {
		return models.Message{}, errs.Validationf("message needs a body or an attachment")
	}
	if in.Attachment != nil && in.Attachment.URL == "" {
		return models.Message{}, errs.Validationf("attachment needs a url")
	}
	if err := membership.Require(in.Conversation, id.UserID); err != nil {
		return models.Message{}, err
	}
	if in.ParentID != "" {
		parent, err := store.GetLatestMessage(in.ParentID)
		if err != nil {
			if store.IsNotFound(err) {
				return models.Message{}, errs.Validationf("parent message %s not found", in.ParentID)
			}
			return models.Message{}, errs.Storef("load parent: %v", err)
		}
		if parent.Conversation != in.Conversation {
			return models.Message{}, errs.Validationf("parent message belongs to another conversation")
		}
	}
	if models.IsDirectID(in.Conversation) {
		a, b := pairUsers(in.Conversation)
		if _, err := store.EnsureDirectConversation(a, b); err != nil {
			return models.Message{}, errs.Storef("ensure conversation: %v", err)
		}
	}

	msg := models.Message{
		ID:           utils.GenMsgID(),
		Conversation: in.Conversation,
		Sender:       id.UserID,
		SenderName:   displayName(id),
		Kind:         kindOf(in.Body, in.Attachment),
		Body:         in.Body,
		Attachment:   in.Attachment,
		ParentID:     in.ParentID,
		CreatedTS:    store.NowTS(),
	}
	if err := store.SaveNewMessage(msg); err != nil {
		return models.Message{}, errs.Storef("persist message: %v", err)
	}

	recipients, err := membership.Recipients(in.Conversation, id.UserID)
	if err != nil {
		logger.Error("fanout_recipients_failed", "conversation", in.Conversation, "error", err)
		return msg, nil
	}
	s.Reg.SendToUsers(recipients, models.EvtMessageNew, models.MessageEvent{Message: msg})
	return msg, nil
}

// EditMessage replaces the body of the sender's own message and
// broadcasts the full updated record.
func (s *Service) EditMessage(id auth.Identity, msgID, body string) (models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, errs.Validationf("edited body cannot be empty")
	}
	msg, err := s.loadOwned(id, msgID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Deleted {
		return models.Message{}, errs.Validationf("cannot edit a deleted message")
	}
	msg.Body = body
	if msg.Kind == models.KindAttachment {
		msg.Kind = models.KindTextAttachment
	}
	msg.Edited = true
	msg.UpdatedTS = store.NowTS()
	if err := store.RewriteMessage(msg); err != nil {
		return models.Message{}, errs.Storef("persist edit: %v", err)
	}
	s.broadcastMessage(models.EvtMessageEdited, msg)
	return msg, nil
}

// DeleteMessage soft deletes the sender's own message. The row survives
// with its content blanked; history reads skip it.
func (s *Service) DeleteMessage(id auth.Identity, msgID string) (models.Message, error) {
	msg, err := s.loadOwned(id, msgID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Deleted {
		return msg, nil
	}
	msg.Deleted = true
	msg.Body = ""
	msg.Attachment = nil
	msg.UpdatedTS = store.NowTS()
	if err := store.RewriteMessage(msg); err != nil {
		return models.Message{}, errs.Storef("persist delete: %v", err)
	}
	s.broadcastMessage(models.EvtMessageDeleted, msg)
	return msg, nil
}

// loadOwned returns the current message if id's user is its sender.
func (s *Service) loadOwned(id auth.Identity, msgID string) (models.Message, error) {
	msg, err := store.GetLatestMessage(msgID)
	if err != nil {
		if store.IsNotFound(err) {
			return msg, errs.NotFoundf("message %s not found", msgID)
		}
		return msg, errs.Storef("load message: %v", err)
	}
	if msg.Sender != id.UserID {
		return msg, errs.Authorizationf("only the sender may modify a message")
	}
	return msg, nil
}

func (s *Service) broadcastMessage(eventType string, msg models.Message) {
	parts, err := membership.Participants(msg.Conversation)
	if err != nil {
		logger.Error("fanout_participants_failed", "conversation", msg.Conversation, "error", err)
		return
	}
	s.Reg.SendToUsers(parts, eventType, models.MessageEvent{Message: msg})
}

// MarkDelivered advances the caller's delivered watermark in a direct
// conversation and notifies the counterpart so their ticks move.
// Channels have no delivery receipts; the call is a no-op there.
func (s *Service) MarkDelivered(id auth.Identity, conv string, ts int64) error {
	if !models.IsDirectID(conv) {
		return nil
	}
	if err := membership.Require(conv, id.UserID); err != nil {
		return err
	}
	if ts <= 0 {
		ts = store.NowTS()
	}
	r, changed, err := store.AdvanceDelivered(conv, id.UserID, ts)
	if err != nil {
		return errs.Storef("advance delivered: %v", err)
	}
	if changed {
		s.notifyCounterpart(conv, id.UserID, models.EvtDeliveryUpdated, models.DeliveryEvent{
			Conversation: conv,
			User:         id.UserID,
			Status:       r.Status(),
			TS:           r.DeliveredTS,
		})
	}
	return nil
}

// MarkRead advances the caller's read state for a conversation. In a
// direct conversation the counterpart learns about it (seen ticks); in a
// channel only the caller's own devices hear, to clear the badge
// everywhere.
func (s *Service) MarkRead(id auth.Identity, conv string, ts int64) error {
	if err := membership.Require(conv, id.UserID); err != nil {
		return err
	}
	if ts <= 0 {
		ts = store.NowTS()
	}
	w, changed, err := store.AdvanceReadWatermark(conv, id.UserID, ts)
	if err != nil {
		return errs.Storef("advance watermark: %v", err)
	}
	if models.IsDirectID(conv) {
		r, rchanged, err := store.AdvanceRead(conv, id.UserID, ts)
		if err != nil {
			return errs.Storef("advance read: %v", err)
		}
		if rchanged {
			s.notifyCounterpart(conv, id.UserID, models.EvtDeliveryUpdated, models.DeliveryEvent{
				Conversation: conv,
				User:         id.UserID,
				Status:       r.Status(),
				TS:           r.ReadTS,
			})
		}
	}
	if changed {
		s.Reg.SendToUser(id.UserID, models.EvtReadUpdated, models.ReadEvent{
			Conversation: conv,
			User:         id.UserID,
			TS:           w.TS,
		})
	}
	return nil
}

// ClearConversation hides the conversation's current contents for the
// caller only. Implemented as a watermark, so nothing is destroyed and
// other participants see no change.
func (s *Service) ClearConversation(id auth.Identity, conv string) error {
	if err := membership.Require(conv, id.UserID); err != nil {
		return err
	}
	ts := store.NowTS()
	if last, err := store.LastMessage(conv); err == nil && last.CreatedTS > ts {
		ts = last.CreatedTS
	}
	if err := store.SetClearWatermark(id.UserID, conv, ts); err != nil {
		return errs.Storef("set clear watermark: %v", err)
	}
	logger.Info("conversation_cleared", "conversation", conv, "user", id.UserID)
	return nil
}

// notifyCounterpart sends an event to the other side of a direct pair.
func (s *Service) notifyCounterpart(conv, self, eventType string, payload any) {
	a, b := pairUsers(conv)
	other := a
	if self == a {
		other = b
	}
	if other != "" {
		s.Reg.SendToUser(other, eventType, payload)
	}
}

func pairUsers(pair string) (string, string) {
	if i := strings.IndexByte(pair, '~'); i >= 0 {
		return pair[:i], pair[i+1:]
	}
	return pair, ""
}

func displayName(id auth.Identity) string {
	if p, err := store.GetUserProfile(id.OrgID, id.UserID); err == nil && p.DisplayName != "" {
		return p.DisplayName
	}
	return id.UserID
}
