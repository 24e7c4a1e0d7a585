package models

// CallType distinguishes audio from video calls.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallStatus walks one-directionally toward a terminal state.
type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallRinging   CallStatus = "ringing"
	CallAnswered  CallStatus = "answered"
	CallCompleted CallStatus = "completed"
	CallDeclined  CallStatus = "declined"
	CallMissed    CallStatus = "missed"
)

// Terminal reports whether the status ends the call lifecycle.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallCompleted, CallDeclined, CallMissed:
		return true
	}
	return false
}

var callRank = map[CallStatus]int{
	CallInitiated: 0,
	CallRinging:   1,
	CallAnswered:  2,
	CallCompleted: 3,
	CallDeclined:  3,
	CallMissed:    3,
}

// CanTransition reports whether moving from s to next respects the
// one-directional lifecycle. Terminal states accept no successor.
func (s CallStatus) CanTransition(next CallStatus) bool {
	if s.Terminal() {
		return false
	}
	c, ok1 := callRank[s]
	n, ok2 := callRank[next]
	return ok1 && ok2 && n > c
}

// CallRecord is the persisted lifecycle of one call. The signaling relay
// itself holds no state; records are written independently of it.
// Receiver is empty for group (room) calls.
type CallRecord struct {
	ID        string     `json:"id"`
	Caller    string     `json:"caller"`
	Receiver  string     `json:"receiver,omitempty"`
	Type      CallType   `json:"type"`
	Status    CallStatus `json:"status"`
	StartedTS int64      `json:"started_ts"`
	// EndedTS is set exactly once, on the first transition into a
	// terminal status.
	EndedTS     int64 `json:"ended_ts,omitempty"`
	DurationSec int64 `json:"duration_sec,omitempty"`
}
