package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"teamwire/pkg/auth"
	"teamwire/pkg/errs"
	"teamwire/pkg/logger"
	"teamwire/pkg/models"
	"teamwire/pkg/presence"
	"teamwire/pkg/store"
)

type sink struct {
	ch chan []byte
}

func newSink() *sink { return &sink{ch: make(chan []byte, 16)} }

func (s *sink) WriteText(ctx context.Context, p []byte) error {
	s.ch <- append([]byte(nil), p...)
	return nil
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *sink) next(t *testing.T) frame {
	t.Helper()
	select {
	case b := <-s.ch:
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("invalid frame: %v", err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame{}
	}
}

func (s *sink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case b := <-s.ch:
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

type fixture struct {
	svc   *Service
	reg   *presence.Registry
	alice *sink
	bob   *sink
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger.Init("error")
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := presence.NewRegistry(16, 0)
	f := &fixture{svc: NewService(reg), reg: reg, alice: newSink(), bob: newSink()}
	ca := reg.NewConn("conn-a", "alice", "org1", "member", f.alice)
	cb := reg.NewConn("conn-b", "bob", "org1", "member", f.bob)
	reg.Register(ca)
	reg.Register(cb)
	t.Cleanup(func() {
		reg.Unregister(ca)
		reg.Unregister(cb)
	})
	return f
}

func ident(user string) auth.Identity {
	return auth.Identity{UserID: user, OrgID: "org1", Role: "member"}
}

func seedChannel(t *testing.T, ch string, members ...string) {
	t.Helper()
	if err := store.SaveChannel(models.Channel{ID: ch, Org: "org1", Name: ch, CreatedTS: 1}); err != nil {
		t.Fatalf("SaveChannel failed: %v", err)
	}
	for _, m := range members {
		if err := store.AddChannelMember(models.Membership{Channel: ch, User: m, JoinedTS: 1}); err != nil {
			t.Fatalf("AddChannelMember failed: %v", err)
		}
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := setup(t)
	_, err := f.svc.SendMessage(ident("alice"), SendInput{Conversation: "chan-1"})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty message must fail validation, got %v", err)
	}
	_, err = f.svc.SendMessage(ident("alice"), SendInput{Body: "hi"})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("missing conversation must fail validation, got %v", err)
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	f := setup(t)
	seedChannel(t, "chan-1", "bob")
	_, err := f.svc.SendMessage(ident("alice"), SendInput{Conversation: "chan-1", Body: "hi"})
	if !errors.Is(err, errs.ErrAuthorization) {
		t.Fatalf("non-member send must be rejected, got %v", err)
	}
}

func TestSendDirectMessageFansOutToRecipientOnly(t *testing.T) {
	f := setup(t)
	conv := models.DirectPairID("alice", "bob")

	msg, err := f.svc.SendMessage(ident("alice"), SendInput{
		Conversation: conv,
		Body:         "hello bob",
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.Kind != models.KindText || msg.ID == "" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	fr := f.bob.next(t)
	if fr.Type != models.EvtMessageNew {
		t.Fatalf("frame type = %s, want %s", fr.Type, models.EvtMessageNew)
	}
	var ev models.MessageEvent
	if err := json.Unmarshal(fr.Data, &ev); err != nil {
		t.Fatalf("bad event payload: %v", err)
	}
	if ev.Message.ID != msg.ID {
		t.Fatalf("unexpected event: %+v", ev)
	}
	// the sender reconciles from the transport's response path, so the
	// fan-out never targets them
	f.alice.expectNone(t)

	stored, err := store.GetLatestMessage(msg.ID)
	if err != nil || stored.Body != "hello bob" {
		t.Fatalf("message not durable: %+v err=%v", stored, err)
	}
}

func TestSendChannelMessageSkipsSender(t *testing.T) {
	f := setup(t)
	seedChannel(t, "chan-1", "alice", "bob")

	if _, err := f.svc.SendMessage(ident("alice"), SendInput{Conversation: "chan-1", Body: "hi all"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if fr := f.bob.next(t); fr.Type != models.EvtMessageNew {
		t.Fatalf("frame type = %s, want %s", fr.Type, models.EvtMessageNew)
	}
	f.alice.expectNone(t)
}

func TestEditMessageOwnerOnly(t *testing.T) {
	f := setup(t)
	conv := models.DirectPairID("alice", "bob")
	msg, err := f.svc.SendMessage(ident("alice"), SendInput{Conversation: conv, Body: "draft"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	f.bob.next(t)

	if _, err := f.svc.EditMessage(ident("bob"), msg.ID, "hijack"); !errors.Is(err, errs.ErrAuthorization) {
		t.Fatalf("non-owner edit must be rejected, got %v", err)
	}

	edited, err := f.svc.EditMessage(ident("alice"), msg.ID, "final")
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if !edited.Edited || edited.Body != "final" {
		t.Fatalf("unexpected edited message: %+v", edited)
	}
	if fr := f.bob.next(t); fr.Type != models.EvtMessageEdited {
		t.Fatalf("frame type = %s, want %s", fr.Type, models.EvtMessageEdited)
	}
}

func TestDeleteMessageSoftDeletes(t *testing.T) {
	f := setup(t)
	conv := models.DirectPairID("alice", "bob")
	msg, err := f.svc.SendMessage(ident("alice"), SendInput{Conversation: conv, Body: "oops"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	f.bob.next(t)

	deleted, err := f.svc.DeleteMessage(ident("alice"), msg.ID)
	if err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if !deleted.Deleted || deleted.Body != "" {
		t.Fatalf("soft delete must blank content: %+v", deleted)
	}
	if fr := f.bob.next(t); fr.Type != models.EvtMessageDeleted {
		t.Fatalf("frame type = %s", fr.Type)
	}
	f.alice.next(t)

	// deleting again is a no-op, no second broadcast
	if _, err := f.svc.DeleteMessage(ident("alice"), msg.ID); err != nil {
		t.Fatalf("repeat delete failed: %v", err)
	}
	f.bob.expectNone(t)

	if _, err := f.svc.EditMessage(ident("alice"), msg.ID, "resurrect"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("editing a deleted message must be rejected, got %v", err)
	}
}

func TestMarkReadNotifiesCounterpartOnce(t *testing.T) {
	f := setup(t)
	conv := models.DirectPairID("alice", "bob")
	msg, err := f.svc.SendMessage(ident("alice"), SendInput{Conversation: conv, Body: "hi"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	f.bob.next(t)

	if err := f.svc.MarkRead(ident("bob"), conv, msg.CreatedTS); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	fr := f.alice.next(t)
	if fr.Type != models.EvtDeliveryUpdated {
		t.Fatalf("frame type = %s, want %s", fr.Type, models.EvtDeliveryUpdated)
	}
	var ev models.DeliveryEvent
	if err := json.Unmarshal(fr.Data, &ev); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if ev.Status != models.StatusSeen || ev.User != "bob" {
		t.Fatalf("unexpected delivery event: %+v", ev)
	}
	// bob's own devices hear the watermark advance
	if fr := f.bob.next(t); fr.Type != models.EvtReadUpdated {
		t.Fatalf("frame type = %s, want %s", fr.Type, models.EvtReadUpdated)
	}

	// re-reading the same point changes nothing and emits nothing
	if err := f.svc.MarkRead(ident("bob"), conv, msg.CreatedTS); err != nil {
		t.Fatalf("repeat MarkRead failed: %v", err)
	}
	f.alice.expectNone(t)
	f.bob.expectNone(t)
}

func TestMarkDeliveredIsDirectOnly(t *testing.T) {
	f := setup(t)
	seedChannel(t, "chan-1", "alice", "bob")
	if err := f.svc.MarkDelivered(ident("bob"), "chan-1", 100); err != nil {
		t.Fatalf("channel MarkDelivered must be a no-op, got %v", err)
	}
	f.alice.expectNone(t)
}
