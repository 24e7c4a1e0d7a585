package calls

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

func (s *sink) WriteText(ctx context.Context, p []byte) error {
	s.ch <- append([]byte(nil), p...)
	return nil
}

type fixture struct {
	svc *Service
	reg *presence.Registry
	bob *sink
	cb  *presence.Conn
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger.Init("error")
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	reg := presence.NewRegistry(16, 0)
	f := &fixture{svc: NewService(reg), reg: reg, bob: &sink{ch: make(chan []byte, 16)}}
	f.cb = reg.NewConn("conn-b", "bob", "org1", "member", f.bob)
	reg.Register(f.cb)
	t.Cleanup(func() { reg.Unregister(f.cb) })
	return f
}

func ident(user string) auth.Identity {
	return auth.Identity{UserID: user, OrgID: "org1", Role: "member"}
}

func (s *sink) next(t *testing.T) (string, json.RawMessage) {
	t.Helper()
	select {
	case b := <-s.ch:
		var f struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(b, &f))
		return f.Type, f.Data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return "", nil
	}
}

func TestOfferRelaysToOnlineTarget(t *testing.T) {
	f := setup(t)
	err := f.svc.Offer(ident("alice"), SignalInput{
		To: "bob", CallType: "video", Payload: map[string]string{"sdp": "offer-sdp"},
	})
	require.NoError(t, err)

	typ, data := f.bob.next(t)
	require.Equal(t, models.EvtCallOffer, typ)
	var ev models.SignalEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "alice", ev.From)
	require.Equal(t, "video", ev.CallType)
}

func TestOfferToOfflineUserIsDropped(t *testing.T) {
	f := setup(t)
	// no error: the caller's client times out on its own
	require.NoError(t, f.svc.Offer(ident("alice"), SignalInput{To: "carol", Payload: "sdp"}))
}

func TestSignalValidation(t *testing.T) {
	f := setup(t)
	err := f.svc.Offer(ident("alice"), SignalInput{})
	require.True(t, errors.Is(err, errs.ErrValidation))
	err = f.svc.Offer(ident("alice"), SignalInput{To: "alice"})
	require.True(t, errors.Is(err, errs.ErrValidation))
}

func TestCallLifecycle(t *testing.T) {
	f := setup(t)
	rec, err := f.svc.Create(ident("alice"), CreateInput{Receiver: "bob", Type: models.CallAudio})
	require.NoError(t, err)
	require.Equal(t, models.CallInitiated, rec.Status)

	// the callee addresses the call by participants
	rec, err = f.svc.UpdateStatusByParticipants(ident("bob"), "alice", models.CallRinging)
	require.NoError(t, err)
	require.Equal(t, models.CallRinging, rec.Status)

	rec, err = f.svc.UpdateStatus(ident("alice"), rec.ID, models.CallAnswered)
	require.NoError(t, err)

	rec, err = f.svc.UpdateStatus(ident("alice"), rec.ID, models.CallCompleted)
	require.NoError(t, err)
	require.NotZero(t, rec.EndedTS)
	ended := rec.EndedTS

	// terminal state accepts no successor and EndedTS never changes
	_, err = f.svc.UpdateStatus(ident("alice"), rec.ID, models.CallMissed)
	require.True(t, errors.Is(err, errs.ErrValidation))
	got, err := f.svc.Get(ident("bob"), rec.ID)
	require.NoError(t, err)
	require.Equal(t, ended, got.EndedTS)
}

func TestCallLifecycleRejectsBackwardMoves(t *testing.T) {
	f := setup(t)
	rec, err := f.svc.Create(ident("alice"), CreateInput{Receiver: "bob", Type: models.CallVideo})
	require.NoError(t, err)

	rec, err = f.svc.UpdateStatus(ident("alice"), rec.ID, models.CallAnswered)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ident("alice"), rec.ID, models.CallRinging)
	require.True(t, errors.Is(err, errs.ErrValidation))
}

func TestCallRecordAccessIsParticipantOnly(t *testing.T) {
	f := setup(t)
	rec, err := f.svc.Create(ident("alice"), CreateInput{Receiver: "bob", Type: models.CallAudio})
	require.NoError(t, err)

	_, err = f.svc.Get(ident("mallory"), rec.ID)
	require.True(t, errors.Is(err, errs.ErrAuthorization))
	_, err = f.svc.Get(ident("alice"), "call-missing")
	require.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestCreateValidation(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Create(ident("alice"), CreateInput{Receiver: "bob", Type: "screenshare"})
	require.True(t, errors.Is(err, errs.ErrValidation))
	_, err = f.svc.Create(ident("alice"), CreateInput{Receiver: "alice", Type: models.CallAudio})
	require.True(t, errors.Is(err, errs.ErrValidation))
}

func TestRoomJoinNotifiesExistingMembers(t *testing.T) {
	f := setup(t)
	aliceSink := &sink{ch: make(chan []byte, 16)}
	ca := f.reg.NewConn("conn-a", "alice", "org1", "member", aliceSink)
	f.reg.Register(ca)
	defer f.reg.Unregister(ca)

	existing, err := f.svc.JoinRoom(ident("bob"), f.cb, "call:standup")
	require.NoError(t, err)
	require.Empty(t, existing)

	existing, err = f.svc.JoinRoom(ident("alice"), ca, "call:standup")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, existing)

	typ, data := f.bob.next(t)
	require.Equal(t, models.EvtCallRoomJoined, typ)
	var ev models.RoomEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, "alice", ev.User)

	require.NoError(t, f.svc.LeaveRoom(ident("alice"), ca, "call:standup"))
	typ, _ = f.bob.next(t)
	require.Equal(t, models.EvtCallRoomLeft, typ)
}
