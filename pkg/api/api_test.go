package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"teamwire/pkg/api/handlers"
	"teamwire/pkg/auth"
	"teamwire/pkg/calls"
	"teamwire/pkg/config"
	"teamwire/pkg/delivery"
	"teamwire/pkg/history"
	"teamwire/pkg/logger"
	"teamwire/pkg/models"
	"teamwire/pkg/presence"
	"teamwire/pkg/reactions"
	"teamwire/pkg/store"
	"teamwire/pkg/utils"
	"teamwire/pkg/ws"
)

const signingKey = "test-signing-key"

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger.Init("error")
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{signingKey: {}}})

	reg := presence.NewRegistry(16, 0)
	deps := handlers.Deps{
		Delivery:  delivery.NewService(reg),
		Reactions: reactions.NewService(reg),
		Calls:     calls.NewService(reg),
		History:   history.NewService(50, 200),
	}
	sec := auth.SecConfig{AllowedOrigins: []string{"*"}, RPS: 1000, Burst: 1000}
	wsHandler := ws.NewHandler(reg, deps.Delivery, deps.Reactions, deps.Calls, sec.AllowedOrigins)
	srv := httptest.NewServer(New(deps, wsHandler, sec))
	t.Cleanup(srv.Close)
	return srv
}

func doAs(t *testing.T, user, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	tok := auth.Token(signingKey, auth.Identity{UserID: user, OrgID: "org1", Role: "member"})
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return res
}

func decodeEnvelope(t *testing.T, res *http.Response, data any) utils.Envelope {
	t.Helper()
	defer res.Body.Close()
	var env utils.Envelope
	raw := json.RawMessage{}
	env.Data = &raw
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if data != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	srv := setupServer(t)
	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
}

func TestV1RequiresIdentity(t *testing.T) {
	srv := setupServer(t)
	res, err := http.Get(srv.URL + "/v1/conversations")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestConversationListAndHistoryFlow(t *testing.T) {
	srv := setupServer(t)

	// seed a direct exchange straight through the delivery path
	conv := models.DirectPairID("alice", "bob")
	if _, err := store.EnsureDirectConversation("alice", "bob"); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	for i, body := range []string{"hi", "hello", "how are you"} {
		if err := store.SaveNewMessage(models.Message{
			ID: "m" + string(rune('1'+i)), Conversation: conv, Sender: "alice",
			Kind: models.KindText, Body: body, CreatedTS: int64(1000 * (i + 1)),
		}); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	var sums []models.ConversationSummary
	res := doAs(t, "bob", http.MethodGet, srv.URL+"/v1/conversations", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("conversations status = %d", res.StatusCode)
	}
	env := decodeEnvelope(t, res, &sums)
	if !env.Success || len(sums) != 1 || sums[0].UnreadCount != 3 {
		t.Fatalf("unexpected summaries: %+v", sums)
	}

	var page history.Page
	res = doAs(t, "bob", http.MethodGet, srv.URL+"/v1/conversations/"+conv+"/history?limit=2", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", res.StatusCode)
	}
	decodeEnvelope(t, res, &page)
	if len(page.Entries) != 2 || !page.HasMore {
		t.Fatalf("unexpected page: %+v", page)
	}

	// an outsider gets a 403, wrapped in the failure envelope
	res = doAs(t, "mallory", http.MethodGet, srv.URL+"/v1/conversations/"+conv+"/history", nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider status = %d, want 403", res.StatusCode)
	}
	env = decodeEnvelope(t, res, nil)
	if env.Success || env.Error == "" {
		t.Fatalf("failure envelope malformed: %+v", env)
	}
}

func TestReactionEndpoints(t *testing.T) {
	srv := setupServer(t)
	conv := models.DirectPairID("alice", "bob")
	if _, err := store.EnsureDirectConversation("alice", "bob"); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	if err := store.SaveNewMessage(models.Message{
		ID: "m1", Conversation: conv, Sender: "alice",
		Kind: models.KindText, Body: "react", CreatedTS: 1000,
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	var agg []models.EmojiCount
	res := doAs(t, "bob", http.MethodPost, srv.URL+"/v1/messages/m1/reactions", map[string]string{"emoji": "👍"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add reaction status = %d", res.StatusCode)
	}
	decodeEnvelope(t, res, &agg)
	if len(agg) != 1 || agg[0].Count != 1 {
		t.Fatalf("unexpected aggregate: %v", agg)
	}

	res = doAs(t, "bob", http.MethodDelete, srv.URL+"/v1/messages/m1/reactions/👍", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove reaction status = %d", res.StatusCode)
	}
	agg = nil
	decodeEnvelope(t, res, &agg)
	if len(agg) != 0 {
		t.Fatalf("aggregate after removal: %v", agg)
	}
}

func TestCallRecordEndpoints(t *testing.T) {
	srv := setupServer(t)

	var rec models.CallRecord
	res := doAs(t, "alice", http.MethodPost, srv.URL+"/v1/calls", map[string]string{"receiver": "bob", "type": "audio"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create call status = %d", res.StatusCode)
	}
	decodeEnvelope(t, res, &rec)
	if rec.Status != models.CallInitiated {
		t.Fatalf("unexpected record: %+v", rec)
	}

	res = doAs(t, "bob", http.MethodPatch, srv.URL+"/v1/calls/by-participants",
		map[string]string{"participant": "alice", "status": "declined"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch by participants status = %d", res.StatusCode)
	}
	decodeEnvelope(t, res, &rec)
	if rec.Status != models.CallDeclined || rec.EndedTS == 0 {
		t.Fatalf("unexpected record after decline: %+v", rec)
	}

	res = doAs(t, "mallory", http.MethodGet, srv.URL+"/v1/calls/"+rec.ID, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider call fetch status = %d, want 403", res.StatusCode)
	}
	res.Body.Close()
}

func TestChannelManagement(t *testing.T) {
	srv := setupServer(t)

	var ch models.Channel
	res := doAs(t, "alice", http.MethodPost, srv.URL+"/v1/channels",
		map[string]string{"name": "general", "team": "team-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create channel status = %d", res.StatusCode)
	}
	decodeEnvelope(t, res, &ch)
	if ch.Name != "general" || ch.CreatedBy != "alice" {
		t.Fatalf("unexpected channel: %+v", ch)
	}

	res = doAs(t, "alice", http.MethodPost, srv.URL+"/v1/channels/"+ch.ID+"/members",
		map[string]string{"user": "bob"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add member status = %d", res.StatusCode)
	}
	res.Body.Close()

	var members []string
	res = doAs(t, "bob", http.MethodGet, srv.URL+"/v1/channels/"+ch.ID+"/members", nil)
	decodeEnvelope(t, res, &members)
	if len(members) != 2 {
		t.Fatalf("members = %v", members)
	}

	// an outsider cannot add themselves
	res = doAs(t, "mallory", http.MethodPost, srv.URL+"/v1/channels/"+ch.ID+"/members",
		map[string]string{"user": "mallory"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider add status = %d, want 403", res.StatusCode)
	}
	res.Body.Close()
}

func TestMemberSearch(t *testing.T) {
	srv := setupServer(t)
	for _, p := range []models.UserProfile{
		{ID: "alice", Org: "org1", DisplayName: "Alice Johnson"},
		{ID: "bob", Org: "org1", DisplayName: "Bob Smith"},
		{ID: "carol", Org: "org2", DisplayName: "Carol Jones"},
	} {
		if err := store.SaveUserProfile(p); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}

	var out []models.UserProfile
	res := doAs(t, "bob", http.MethodGet, srv.URL+"/v1/members/search?q=jo", nil)
	decodeEnvelope(t, res, &out)
	// alice matches "Johnson"; carol is another org; bob never sees himself
	if len(out) != 1 || out[0].ID != "alice" {
		t.Fatalf("search results = %v", out)
	}
}
