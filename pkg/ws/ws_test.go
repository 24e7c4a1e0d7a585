package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"teamwire/pkg/auth"
	"teamwire/pkg/calls"
	"teamwire/pkg/config"
	"teamwire/pkg/delivery"
	"teamwire/pkg/logger"
	"teamwire/pkg/models"
	"teamwire/pkg/presence"
	"teamwire/pkg/reactions"
	"teamwire/pkg/store"
)

const signingKey = "test-signing-key"

func setupWS(t *testing.T) (*httptest.Server, *presence.Registry) {
	t.Helper()
	logger.Init("error")
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	config.SetRuntime(&config.RuntimeConfig{
		SigningKeys: map[string]struct{}{signingKey: {}},
	})

	reg := presence.NewRegistry(16, 0)
	h := NewHandler(reg, delivery.NewService(reg), reactions.NewService(reg), calls.NewService(reg), []string{"*"})
	srv := httptest.NewServer(auth.RequireIdentity(h))
	t.Cleanup(srv.Close)
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	tok := auth.Token(signingKey, auth.Identity{UserID: user, OrgID: "org1", Role: "member"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + tok
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial as %s failed: %v", user, err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

// waitOnline blocks until the server goroutine has registered the user,
// so fan-out tests don't race the handshake.
func waitOnline(t *testing.T, reg *presence.Registry, user string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !reg.IsOnline(user) {
		if time.Now().After(deadline) {
			t.Fatalf("%s never came online", user)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sendEvent(t *testing.T, c *websocket.Conn, typ, correlationID string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	frame, err := json.Marshal(map[string]any{
		"type":           typ,
		"correlation_id": correlationID,
		"data":           json.RawMessage(raw),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

type outFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, c *websocket.Conn) outFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, b, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f outFrame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("invalid frame %s: %v", b, err)
	}
	return f
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	srv, _ := setupWS(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		c.Close(websocket.StatusNormalClosure, "")
		t.Fatal("handshake without credentials must be rejected")
	}
}

func TestHandshakeRejectsBadSignature(t *testing.T) {
	srv, _ := setupWS(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=alice.org1.member.deadbeef"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		c.Close(websocket.StatusNormalClosure, "")
		t.Fatal("handshake with a forged signature must be rejected")
	}
}

func TestMessageSendRoundTrip(t *testing.T) {
	srv, reg := setupWS(t)
	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	waitOnline(t, reg, "alice")
	waitOnline(t, reg, "bob")

	conv := models.DirectPairID("alice", "bob")
	sendEvent(t, alice, "message.send", "tmp-42", map[string]string{
		"conversation": conv,
		"body":         "hello over the wire",
	})

	// the submitting device gets the confirmed record echoed back with
	// its correlation id
	f := readFrame(t, alice)
	if f.Type != models.EvtMessageNew {
		t.Fatalf("echo frame type = %s, want %s", f.Type, models.EvtMessageNew)
	}
	var echo models.MessageEvent
	if err := json.Unmarshal(f.Data, &echo); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if echo.Message.Body != "hello over the wire" || echo.Message.Sender != "alice" {
		t.Fatalf("unexpected message: %+v", echo.Message)
	}
	if echo.CorrelationID != "tmp-42" {
		t.Fatalf("correlation id = %q", echo.CorrelationID)
	}

	f = readFrame(t, bob)
	if f.Type != models.EvtMessageNew {
		t.Fatalf("fan-out frame type = %s, want %s", f.Type, models.EvtMessageNew)
	}
	var ev models.MessageEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if ev.Message.ID != echo.Message.ID {
		t.Fatalf("recipient saw %q, sender confirmed %q", ev.Message.ID, echo.Message.ID)
	}
}

func TestReadMarkNotifiesCounterpart(t *testing.T) {
	srv, reg := setupWS(t)
	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	waitOnline(t, reg, "alice")
	waitOnline(t, reg, "bob")

	conv := models.DirectPairID("alice", "bob")
	sendEvent(t, alice, "message.send", "", map[string]string{
		"conversation": conv,
		"body":         "hi",
	})
	readFrame(t, alice)
	readFrame(t, bob)

	sendEvent(t, bob, "read.mark", "", map[string]string{"conversation": conv})

	f := readFrame(t, alice)
	if f.Type != models.EvtDeliveryUpdated {
		t.Fatalf("frame type = %s, want %s", f.Type, models.EvtDeliveryUpdated)
	}
	var ev models.DeliveryEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if ev.Status != models.StatusSeen || ev.User != "bob" {
		t.Fatalf("unexpected delivery event: %+v", ev)
	}
	if f := readFrame(t, bob); f.Type != models.EvtReadUpdated {
		t.Fatalf("frame type = %s, want %s", f.Type, models.EvtReadUpdated)
	}
}

func TestRejectedEventComesBackCorrelated(t *testing.T) {
	srv, reg := setupWS(t)
	alice := dial(t, srv, "alice")
	waitOnline(t, reg, "alice")

	sendEvent(t, alice, "time.travel", "req-7", map[string]string{})

	f := readFrame(t, alice)
	if f.Type != models.EvtError {
		t.Fatalf("frame type = %s, want %s", f.Type, models.EvtError)
	}
	var ev models.ErrorEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if ev.CorrelationID != "req-7" || ev.Error == "" {
		t.Fatalf("unexpected error event: %+v", ev)
	}
}

func TestCallSignalRelaysToTarget(t *testing.T) {
	srv, reg := setupWS(t)
	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	waitOnline(t, reg, "alice")
	waitOnline(t, reg, "bob")

	sendEvent(t, alice, "call.offer", "", map[string]any{
		"to":        "bob",
		"call_type": "video",
		"payload":   map[string]string{"sdp": "v=0 fake offer"},
	})

	f := readFrame(t, bob)
	if f.Type != models.EvtCallOffer {
		t.Fatalf("frame type = %s, want %s", f.Type, models.EvtCallOffer)
	}
	var ev models.SignalEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if ev.From != "alice" || ev.CallType != "video" {
		t.Fatalf("unexpected signal event: %+v", ev)
	}
}
