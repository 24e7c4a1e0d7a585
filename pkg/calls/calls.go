// Package calls relays WebRTC signaling between live connections and
// keeps the persisted call lifecycle. The relay never inspects SDP or
// candidate payloads and holds no signaling state; if a target is
// offline the payload is dropped and the caller's client times the
// attempt out.
package calls

import (
	"teamwire/pkg/auth"
	"teamwire/pkg/errs"
	"teamwire/pkg/logger"
	"teamwire/pkg/models"
	"teamwire/pkg/presence"
	"teamwire/pkg/store"
	"teamwire/pkg/utils"
)

type Service struct {
	Reg *presence.Registry
}

func NewService(reg *presence.Registry) *Service {
	return &Service{Reg: reg}
}

// SignalInput is one relayed signaling payload. Payload is opaque to
// the server.
type SignalInput struct {
	To       string `json:"to"`
	CallType string `json:"call_type,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// Offer relays a call offer to every device of the callee.
func (s *Service) Offer(id auth.Identity, in SignalInput) error {
	return s.relay(id, in, models.EvtCallOffer)
}

// Answer relays the callee's answer back to the caller.
func (s *Service) Answer(id auth.Identity, in SignalInput) error {
	return s.relay(id, in, models.EvtCallAnswer)
}

// Candidate relays one ICE candidate.
func (s *Service) Candidate(id auth.Identity, in SignalInput) error {
	return s.relay(id, in, models.EvtCallCandidate)
}

// End tells the counterpart the call is over. Ending toward an offline
// user is a silent no-op, the same as any other dropped signal.
func (s *Service) End(id auth.Identity, in SignalInput) error {
	return s.relay(id, in, models.EvtCallEnded)
}

func (s *Service) relay(id auth.Identity, in SignalInput, eventType string) error {
	if in.To == "" {
		return errs.Validationf("signal target is required")
	}
	if in.To == id.UserID {
		return errs.Validationf("cannot signal yourself")
	}
	if !s.Reg.IsOnline(in.To) {
		logger.Debug("signal_dropped", "type", eventType, "from", id.UserID, "to", in.To)
		return nil
	}
	s.Reg.SendToUser(in.To, eventType, models.SignalEvent{
		From:     id.UserID,
		FromName: senderName(id),
		CallType: in.CallType,
		Payload:  in.Payload,
	})
	return nil
}

// JoinRoom puts the connection into a call room and tells the members
// already present, who then open peer connections to the newcomer. The
// returned list is the distinct users already in the room.
func (s *Service) JoinRoom(id auth.Identity, c *presence.Conn, room string) ([]string, error) {
	if room == "" {
		return nil, errs.Validationf("room is required")
	}
	existing := s.Reg.RoomUsers(room)
	s.Reg.JoinRoom(room, c)
	s.Reg.SendToRoomExcept(room, c.ID, models.EvtCallRoomJoined, models.RoomEvent{
		Room: room,
		User: id.UserID,
		Conn: c.ID,
	})
	logger.Info("call_room_joined", "room", room, "user", id.UserID, "conn", c.ID)
	return existing, nil
}

// LeaveRoom removes the connection from a call room and notifies the
// remaining members. Leaving a room never joined is a no-op.
func (s *Service) LeaveRoom(id auth.Identity, c *presence.Conn, room string) error {
	if room == "" {
		return errs.Validationf("room is required")
	}
	s.Reg.LeaveRoom(room, c)
	s.Reg.SendToRoom(room, models.EvtCallRoomLeft, models.RoomEvent{
		Room: room,
		User: id.UserID,
		Conn: c.ID,
	})
	logger.Info("call_room_left", "room", room, "user", id.UserID, "conn", c.ID)
	return nil
}

// CreateInput starts a persisted call record.
type CreateInput struct {
	Receiver string          `json:"receiver,omitempty"`
	Type     models.CallType `json:"type"`
}

// Create persists a new call record in the initiated state. The caller
// owns the record id; the callee side later resolves it by
// participants.
func (s *Service) Create(id auth.Identity, in CreateInput) (models.CallRecord, error) {
	if in.Type != models.CallAudio && in.Type != models.CallVideo {
		return models.CallRecord{}, errs.Validationf("call type must be audio or video")
	}
	if in.Receiver == id.UserID {
		return models.CallRecord{}, errs.Validationf("cannot call yourself")
	}
	rec := models.CallRecord{
		ID:        utils.GenCallID(),
		Caller:    id.UserID,
		Receiver:  in.Receiver,
		Type:      in.Type,
		Status:    models.CallInitiated,
		StartedTS: store.NowTS(),
	}
	if err := store.SaveCallRecord(rec); err != nil {
		return models.CallRecord{}, errs.Storef("persist call: %v", err)
	}
	return rec, nil
}

// Get returns a call record to one of its participants.
func (s *Service) Get(id auth.Identity, callID string) (models.CallRecord, error) {
	rec, err := store.GetCallRecord(callID)
	if err != nil {
		if store.IsNotFound(err) {
			return rec, errs.NotFoundf("call %s not found", callID)
		}
		return rec, errs.Storef("load call: %v", err)
	}
	if rec.Caller != id.UserID && rec.Receiver != id.UserID {
		return rec, errs.Authorizationf("not a participant of call %s", callID)
	}
	return rec, nil
}

// UpdateStatus advances a call record's lifecycle by id. Backward and
// post-terminal transitions are rejected; the first terminal transition
// stamps EndedTS exactly once.
func (s *Service) UpdateStatus(id auth.Identity, callID string, status models.CallStatus) (models.CallRecord, error) {
	rec, err := s.Get(id, callID)
	if err != nil {
		return rec, err
	}
	return s.transition(rec, status)
}

// UpdateStatusByParticipants advances the latest open call between the
// caller and other. The callee never learns the record id from
// signaling, so this is its write path.
func (s *Service) UpdateStatusByParticipants(id auth.Identity, other string, status models.CallStatus) (models.CallRecord, error) {
	if other == "" {
		return models.CallRecord{}, errs.Validationf("participant is required")
	}
	rec, err := store.LatestOpenCallBetween(id.UserID, other)
	if err != nil {
		if store.IsNotFound(err) {
			return rec, errs.NotFoundf("no open call with %s", other)
		}
		return rec, errs.Storef("resolve call: %v", err)
	}
	return s.transition(rec, status)
}

func (s *Service) transition(rec models.CallRecord, status models.CallStatus) (models.CallRecord, error) {
	if !rec.Status.CanTransition(status) {
		return rec, errs.Validationf("cannot move call from %s to %s", rec.Status, status)
	}
	rec.Status = status
	if status.Terminal() && rec.EndedTS == 0 {
		rec.EndedTS = store.NowTS()
		if status == models.CallCompleted {
			rec.DurationSec = (rec.EndedTS - rec.StartedTS) / 1e9
		}
	}
	if err := store.UpdateCallRecord(rec); err != nil {
		return rec, errs.Storef("persist call: %v", err)
	}
	logger.Info("call_status", "call", rec.ID, "status", rec.Status)
	return rec, nil
}

func senderName(id auth.Identity) string {
	if p, err := store.GetUserProfile(id.OrgID, id.UserID); err == nil && p.DisplayName != "" {
		return p.DisplayName
	}
	return id.UserID
}
