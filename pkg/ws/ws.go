// Package ws owns the duplex connection: websocket handshake, inbound
// event dispatch and the adapter between the socket and the presence
// registry. One connection per device; everything a client can do in
// real time arrives here as a typed event.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"teamwire/pkg/auth"
	"teamwire/pkg/calls"
	"teamwire/pkg/delivery"
	"teamwire/pkg/errs"
	"teamwire/pkg/logger"
	"teamwire/pkg/metrics"
	"teamwire/pkg/models"
	"teamwire/pkg/presence"
	"teamwire/pkg/reactions"
	"teamwire/pkg/utils"
)

// Inbound event types accepted on the duplex connection.
const (
	evtMessageSend       = "message.send"
	evtMessageEdit       = "message.edit"
	evtMessageDelete     = "message.delete"
	evtDeliveryMark      = "delivery.mark"
	evtReadMark          = "read.mark"
	evtReactionAdd       = "reaction.add"
	evtReactionRemove    = "reaction.remove"
	evtConversationClear = "conversation.clear"
	evtCallRoomJoin      = "call.room.join"
	evtCallRoomLeave     = "call.room.leave"
	evtCallOffer         = "call.offer"
	evtCallAnswer        = "call.answer"
	evtCallCandidate     = "call.candidate"
	evtCallEnd           = "call.end"
)

// maxFrameBytes bounds one inbound frame; message bodies are far
// smaller, SDP payloads can be tens of kilobytes.
const maxFrameBytes = 1 << 20

// inbound is the client event envelope. CorrelationID is echoed on
// errors and on the sender's own message.new.
type inbound struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Handler upgrades authenticated requests and pumps inbound events into
// the domain services.
type Handler struct {
	Reg       *presence.Registry
	Delivery  *delivery.Service
	Reactions *reactions.Service
	Calls     *calls.Service

	AllowedOrigins []string
}

func NewHandler(reg *presence.Registry, d *delivery.Service, rx *reactions.Service, c *calls.Service, origins []string) *Handler {
	return &Handler{Reg: reg, Delivery: d, Reactions: rx, Calls: c, AllowedOrigins: origins}
}

// wsSink adapts the socket to the registry's write interface.
type wsSink struct {
	c *websocket.Conn
}

func (s wsSink) WriteText(ctx context.Context, p []byte) error {
	return s.c.Write(ctx, websocket.MessageText, p)
}

func (h *Handler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, o := range h.AllowedOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		opts.OriginPatterns = append(opts.OriginPatterns, strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://"))
	}
	return opts
}

// ServeHTTP performs the handshake and runs the read loop until the
// client disconnects. Identity was verified by the middleware; the
// handshake carries it via the token query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	sock, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		logger.Warn("ws_accept_failed", "user", id.UserID, "error", err)
		return
	}
	sock.SetReadLimit(maxFrameBytes)

	conn := h.Reg.NewConn(utils.GenConnID(), id.UserID, id.OrgID, id.Role, wsSink{c: sock})
	h.Reg.Register(conn)
	defer h.Reg.Unregister(conn)
	defer sock.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	for {
		typ, data, err := sock.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, context.Canceled) {
				logger.Debug("ws_read_failed", "conn", conn.ID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var ev inbound
		if err := json.Unmarshal(data, &ev); err != nil {
			h.sendError(conn, "", "malformed event")
			continue
		}
		metrics.InboundEvents.WithLabelValues(ev.Type).Inc()
		if err := h.dispatch(id, conn, ev); err != nil {
			logger.Debug("event_rejected", "conn", conn.ID, "type", ev.Type, "error", err)
			h.sendError(conn, ev.CorrelationID, err.Error())
		}
	}
}

// dispatch routes one inbound event to its service. Returned errors go
// back to the requesting device only.
func (h *Handler) dispatch(id auth.Identity, conn *presence.Conn, ev inbound) error {
	switch ev.Type {
	case evtMessageSend:
		var in delivery.SendInput
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		if in.CorrelationID == "" {
			in.CorrelationID = ev.CorrelationID
		}
		msg, err := h.Delivery.SendMessage(id, in)
		if err != nil {
			return err
		}
		// response path: the confirmed record goes back to the
		// submitting device only; fan-out covered the recipients
		h.Reg.SendToConn(conn, models.EvtMessageNew, models.MessageEvent{
			Message:       msg,
			CorrelationID: in.CorrelationID,
		})
		return nil

	case evtMessageEdit:
		var in struct {
			ID   string `json:"id"`
			Body string `json:"body"`
		}
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		_, err := h.Delivery.EditMessage(id, in.ID, in.Body)
		return err

	case evtMessageDelete:
		var in struct {
			ID string `json:"id"`
		}
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		_, err := h.Delivery.DeleteMessage(id, in.ID)
		return err

	case evtDeliveryMark:
		var in markInput
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		return h.Delivery.MarkDelivered(id, in.Conversation, in.TS)

	case evtReadMark:
		var in markInput
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		return h.Delivery.MarkRead(id, in.Conversation, in.TS)

	case evtConversationClear:
		var in struct {
			Conversation string `json:"conversation"`
		}
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		return h.Delivery.ClearConversation(id, in.Conversation)

	case evtReactionAdd, evtReactionRemove:
		var in struct {
			MessageID string `json:"message_id"`
			Emoji     string `json:"emoji"`
		}
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		if ev.Type == evtReactionAdd {
			_, err := h.Reactions.Add(id, in.MessageID, in.Emoji)
			return err
		}
		_, err := h.Reactions.Remove(id, in.MessageID, in.Emoji)
		return err

	case evtCallRoomJoin:
		var in roomInput
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		existing, err := h.Calls.JoinRoom(id, conn, in.Room)
		if err != nil {
			return err
		}
		// tell the newcomer who is already here; they will receive
		// offers from each of them
		for _, u := range existing {
			h.Reg.SendToConn(conn, models.EvtCallRoomJoined, models.RoomEvent{Room: in.Room, User: u})
		}
		return nil

	case evtCallRoomLeave:
		var in roomInput
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		return h.Calls.LeaveRoom(id, conn, in.Room)

	case evtCallOffer, evtCallAnswer, evtCallCandidate, evtCallEnd:
		var in calls.SignalInput
		if err := decode(ev.Data, &in); err != nil {
			return err
		}
		switch ev.Type {
		case evtCallOffer:
			return h.Calls.Offer(id, in)
		case evtCallAnswer:
			return h.Calls.Answer(id, in)
		case evtCallCandidate:
			return h.Calls.Candidate(id, in)
		default:
			return h.Calls.End(id, in)
		}

	default:
		return errs.Validationf("unknown event type %q", ev.Type)
	}
}

type markInput struct {
	Conversation string `json:"conversation"`
	TS           int64  `json:"ts,omitempty"`
}

type roomInput struct {
	Room string `json:"room"`
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errs.Validationf("event data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Validationf("malformed event data")
	}
	return nil
}

func (h *Handler) sendError(conn *presence.Conn, correlationID, msg string) {
	h.Reg.SendToConn(conn, models.EvtError, models.ErrorEvent{
		CorrelationID: correlationID,
		Error:         msg,
	})
}
