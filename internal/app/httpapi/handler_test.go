package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	app "github.com/R3E-Network/walletchat/internal/app"
	"github.com/R3E-Network/walletchat/internal/config"
	"github.com/R3E-Network/walletchat/internal/database"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/identity"
	"github.com/R3E-Network/walletchat/internal/middleware"
	"github.com/R3E-Network/walletchat/pkg/logger"
	"github.com/R3E-Network/walletchat/pkg/testutil"
)

var testSecret = []byte("handler-test-secret")

type testServer struct {
	t       *testing.T
	handler *Handler
	repo    *database.MockRepository
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	repo := database.NewMockRepository()
	application, err := app.NewWithDeps(context.Background(), cfg, app.Deps{Backend: repo}, logger.Discard())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	h := NewHandler(application, Options{JWTSecret: testSecret}, logger.Discard())
	t.Cleanup(h.Close)
	return &testServer{t: t, handler: h, repo: repo}
}

// do sends a request as caller; an empty caller sends no token.
func (s *testServer) do(method, path, caller string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		token, err := middleware.IssueToken(testSecret, caller, time.Hour)
		if err != nil {
			s.t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	s.handler.ServeHTTP(resp, req)
	return resp
}

func expectStatus(t *testing.T, resp *httptest.ResponseRecorder, want int) {
	t.Helper()
	if resp.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, resp.Code, resp.Body.String())
	}
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", resp.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[middleware.ErrorBody](t, resp).Code
}

func TestHealthAndAuth(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(http.MethodGet, "/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if resp.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}

	expectStatus(t, s.do(http.MethodGet, "/v1/me", "", nil), http.StatusUnauthorized)

	alice := testutil.Address(1)
	resp = s.do(http.MethodGet, "/v1/me", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	me := decode[struct {
		User struct {
			Address string `json:"address"`
			Credits int64  `json:"credits"`
		} `json:"user"`
		Operator bool `json:"operator"`
	}](t, resp)
	if me.User.Address != alice || me.User.Credits != 100 || me.Operator {
		t.Fatalf("unexpected profile %+v", me)
	}
}

func TestDirectMessageRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	alice, bob, carol := testutil.Address(1), testutil.Address(2), testutil.Address(3)

	resp := s.do(http.MethodPost, "/v1/dm/"+bob, alice, chat.Payload{Text: "hello"})
	expectStatus(t, resp, http.StatusCreated)
	msg := decode[chat.Message](t, resp)
	if msg.Sender != alice || msg.Payload.Text != "hello" {
		t.Fatalf("unexpected message %+v", msg)
	}

	dm, err := identity.DirectConversationID(alice, bob)
	if err != nil {
		t.Fatalf("dm id: %v", err)
	}
	resp = s.do(http.MethodGet, "/v1/conversations/"+dm+"/messages", bob, nil)
	expectStatus(t, resp, http.StatusOK)
	if msgs := decode[[]chat.Message](t, resp); len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("unexpected log %+v", msgs)
	}

	resp = s.do(http.MethodGet, "/v1/conversations/"+dm+"/messages", carol, nil)
	expectStatus(t, resp, http.StatusForbidden)

	resp = s.do(http.MethodPost, "/v1/messages/"+msg.ID+"/reactions/👍", bob, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[chat.Message](t, resp); got.ReactionCount("👍") != 1 {
		t.Fatalf("expected one reaction, got %v", got.Reactions)
	}

	expectStatus(t, s.do(http.MethodDelete, "/v1/messages/"+msg.ID, bob, nil), http.StatusForbidden)
	expectStatus(t, s.do(http.MethodDelete, "/v1/messages/"+msg.ID, alice, nil), http.StatusNoContent)

	resp = s.do(http.MethodGet, "/v1/ledger", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if entries := decode[[]map[string]any](t, resp); len(entries) != 1 || entries[0]["type"] != "debit" {
		t.Fatalf("unexpected history %v", entries)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Users.DefaultCredits = 2 })
	alice, bob := testutil.Address(1), testutil.Address(2)

	resp := s.do(http.MethodPost, "/v1/dm/"+bob, alice, chat.Payload{Image: &chat.Image{URL: "https://img.example/a.png"}})
	expectStatus(t, resp, http.StatusPaymentRequired)
	if code := errorCode(t, resp); code != "insufficient_credits" {
		t.Fatalf("unexpected code %s", code)
	}

	expectStatus(t, s.do(http.MethodPost, "/v1/blocks/"+alice, bob, nil), http.StatusOK)
	resp = s.do(http.MethodPost, "/v1/dm/"+bob, alice, chat.Payload{Text: "hi"})
	expectStatus(t, resp, http.StatusForbidden)
	if code := errorCode(t, resp); code != "recipient_blocked" {
		t.Fatalf("unexpected code %s", code)
	}
	u, _ := s.repo.GetUser(context.Background(), alice)
	if u.Credits != 2 {
		t.Fatalf("blocked send must not charge, balance %d", u.Credits)
	}

	resp = s.do(http.MethodPost, "/v1/dm/not-an-address", alice, chat.Payload{Text: "hi"})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = s.do(http.MethodPost, "/v1/dm/"+bob, alice, map[string]any{"text": "hi", "extra": true})
	expectStatus(t, resp, http.StatusBadRequest)

	expectStatus(t, s.do(http.MethodDelete, "/v1/messages/missing", alice, nil), http.StatusNoContent)
	expectStatus(t, s.do(http.MethodGet, "/v1/messages/missing/tally", alice, nil), http.StatusNotFound)
}

func TestPollRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	alice, bob := testutil.Address(1), testutil.Address(2)
	dm, _ := identity.DirectConversationID(alice, bob)

	resp := s.do(http.MethodPost, "/v1/conversations/"+dm+"/polls", alice, map[string]any{
		"question": "Color?",
		"options":  []string{"Red", "Blue"},
	})
	expectStatus(t, resp, http.StatusCreated)
	poll := decode[chat.Message](t, resp)

	type voteResult struct {
		Changed bool `json:"changed"`
	}
	resp = s.do(http.MethodPost, "/v1/messages/"+poll.ID+"/votes", bob, map[string]string{"option": "Red"})
	expectStatus(t, resp, http.StatusOK)
	if !decode[voteResult](t, resp).Changed {
		t.Fatalf("first vote should change the poll")
	}
	resp = s.do(http.MethodPost, "/v1/messages/"+poll.ID+"/votes", bob, map[string]string{"option": "Blue"})
	expectStatus(t, resp, http.StatusOK)
	if decode[voteResult](t, resp).Changed {
		t.Fatalf("second vote should be ignored")
	}

	resp = s.do(http.MethodGet, "/v1/messages/"+poll.ID+"/tally", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	results := decode[[]struct {
		Option string `json:"option"`
		Count  int    `json:"count"`
	}](t, resp)
	if len(results) != 2 || results[0].Option != "Red" || results[0].Count != 1 || results[1].Count != 0 {
		t.Fatalf("unexpected tally %+v", results)
	}

	resp = s.do(http.MethodPost, "/v1/conversations/"+dm+"/polls", alice, map[string]any{
		"question": "Only one?",
		"options":  []string{"Yes"},
	})
	expectStatus(t, resp, http.StatusBadRequest)
	if code := errorCode(t, resp); code != "invalid_poll" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestGroupRoundTrip(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Users.DefaultCredits = 150 })
	alice, bob, carol := testutil.Address(1), testutil.Address(2), testutil.Address(3)

	resp := s.do(http.MethodPost, "/v1/groups", alice, map[string]any{"name": "crew", "members": []string{bob}})
	expectStatus(t, resp, http.StatusCreated)
	group := decode[chat.Conversation](t, resp)

	expectStatus(t, s.do(http.MethodPost, "/v1/conversations/"+group.ID+"/messages", carol, chat.Payload{Text: "hi"}), http.StatusForbidden)
	expectStatus(t, s.do(http.MethodPost, "/v1/groups/"+group.ID+"/join", carol, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/v1/conversations/"+group.ID+"/messages", carol, chat.Payload{Text: "hi"}), http.StatusCreated)

	resp = s.do(http.MethodGet, "/v1/conversations/"+group.ID+"/messages", bob, nil)
	expectStatus(t, resp, http.StatusOK)
	if msgs := decode[[]chat.Message](t, resp); len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestFilesRoundTrip(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Users.StorageCapacity = 10 })
	alice := testutil.Address(1)

	resp := s.do(http.MethodPost, "/v1/folders", alice, map[string]string{"name": "docs"})
	expectStatus(t, resp, http.StatusCreated)
	folder := decode[struct {
		ID string `json:"id"`
	}](t, resp)

	resp = s.do(http.MethodPost, "/v1/files", alice, map[string]any{"path": folder.ID, "name": "a.txt", "data": []byte("hello")})
	expectStatus(t, resp, http.StatusCreated)
	file := decode[struct {
		ID   string `json:"id"`
		Size int64  `json:"size"`
	}](t, resp)
	if file.Size != 5 {
		t.Fatalf("unexpected size %d", file.Size)
	}

	resp = s.do(http.MethodPost, "/v1/files", alice, map[string]any{"name": "b.txt", "data": []byte("too large!")})
	expectStatus(t, resp, http.StatusRequestEntityTooLarge)

	resp = s.do(http.MethodGet, "/v1/files?path="+folder.ID, alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), file.ID) {
		t.Fatalf("listing does not contain uploaded file: %s", resp.Body.String())
	}

	resp = s.do(http.MethodPatch, "/v1/files/"+file.ID, alice, map[string]string{"path": folder.ID, "name": "b.txt"})
	expectStatus(t, resp, http.StatusOK)
	resp = s.do(http.MethodPost, "/v1/files/"+file.ID+"/move", alice, map[string]string{"from": folder.ID, "to": ""})
	expectStatus(t, resp, http.StatusOK)

	resp = s.do(http.MethodGet, "/v1/files/usage", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if usage := decode[map[string]int64](t, resp); usage["used"] != 5 || usage["files"] != 1 {
		t.Fatalf("unexpected usage %v", usage)
	}

	resp = s.do(http.MethodDelete, "/v1/files/"+file.ID, alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if freed := decode[map[string]int64](t, resp)["freed"]; freed != 5 {
		t.Fatalf("expected 5 bytes freed, got %d", freed)
	}
}

func TestOperatorEndpoints(t *testing.T) {
	op, alice := testutil.Address(9), testutil.Address(1)
	s := newTestServer(t, func(cfg *config.Config) { cfg.Ledger.Operators = []string{op} })

	expectStatus(t, s.do(http.MethodPost, "/v1/credits", alice, map[string]any{"address": alice, "amount": 50}), http.StatusForbidden)

	resp := s.do(http.MethodPost, "/v1/credits", op, map[string]any{"address": alice, "amount": 50})
	expectStatus(t, resp, http.StatusOK)
	if credits := decode[map[string]any](t, resp)["credits"]; credits != float64(150) {
		t.Fatalf("expected 150 credits, got %v", credits)
	}

	costs := map[string]int64{"text": 2, "image": 3, "group_creation": 100, "poll_creation": 5, "item_mint": 50}
	expectStatus(t, s.do(http.MethodPut, "/v1/costs", alice, costs), http.StatusForbidden)
	expectStatus(t, s.do(http.MethodPut, "/v1/costs", op, costs), http.StatusOK)

	resp = s.do(http.MethodGet, "/v1/costs", alice, nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[map[string]int64](t, resp)["text"]; got != 2 {
		t.Fatalf("expected text cost 2, got %d", got)
	}

	resp = s.do(http.MethodPost, "/v1/items/unlimited-pass/mint", alice, nil)
	expectStatus(t, resp, http.StatusCreated)
	expectStatus(t, s.do(http.MethodPost, "/v1/items/unlimited-pass/mint", alice, nil), http.StatusConflict)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodGet, "/v1/me", testutil.Address(1), nil)

	resp := s.do(http.MethodGet, "/metrics", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Body.String(), `walletchat_http_requests_total{method="GET",path="/v1/me",status="200"} 1`) {
		t.Fatalf("expected request metric in output")
	}
}
