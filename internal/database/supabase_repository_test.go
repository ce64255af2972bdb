package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/R3E-Network/walletchat/internal/domain"
	"github.com/R3E-Network/walletchat/internal/domain/chat"
	"github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
)

func newClientWithHandler(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		URL:        srv.URL,
		ServiceKey: "service-key",
		Bucket:     "files",
		Retry:      &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestNewClient_RequiresConfig(t *testing.T) {
	if _, err := NewClient(Config{ServiceKey: "k"}); err == nil {
		t.Fatal("expected error without URL")
	}
	if _, err := NewClient(Config{URL: "https://x.supabase.co"}); err == nil {
		t.Fatal("expected error without key")
	}
	if _, err := NewClient(Config{URL: "https://user:pw@x.supabase.co", ServiceKey: "k"}); err == nil {
		t.Fatal("expected error for user info in URL")
	}
}

func TestRepository_GetUser(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/users" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "service-key" || r.Header.Get("Authorization") != "Bearer service-key" {
			t.Fatalf("missing auth headers")
		}
		if r.URL.Query().Get("address") == "eq.missing" {
			writeJSON(t, w, http.StatusOK, []interface{}{})
			return
		}
		// file_tree null exercises normalization
		_, _ = io.WriteString(w, `[{"address":"addr1","role":"","credits":42,"conversations":["p"],"file_tree":null}]`)
	}))
	repo := NewRepository(client)

	u, err := repo.GetUser(context.Background(), "addr1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Credits != 42 || u.Role != user.RoleUser || u.FileTree == nil {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := repo.GetUser(context.Background(), "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRepository_AdjustCredits(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/adjust_credits" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Address string `json:"p_address"`
			Delta   int64  `json:"p_delta"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Delta < -10 {
			writeJSON(t, w, http.StatusBadRequest, map[string]string{"code": "P0001", "message": "insufficient_credits"})
			return
		}
		_, _ = io.WriteString(w, "49")
	}))
	repo := NewRepository(client)

	balance, err := repo.AdjustCredits(context.Background(), "a", -1)
	if err != nil {
		t.Fatalf("AdjustCredits: %v", err)
	}
	if balance != 49 {
		t.Fatalf("expected 49, got %d", balance)
	}

	if _, err := repo.AdjustCredits(context.Background(), "a", -100); !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected insufficient credits, got %v", err)
	}
}

func TestRepository_AppendAndListMessages(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("Prefer") != "return=representation" {
				t.Fatalf("expected representation preference")
			}
			var body messageInsert
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.ConversationID != "c1" || body.Payload.Text != "hi" || body.Reactions == nil {
				t.Fatalf("unexpected insert: %+v", body)
			}
			writeJSON(t, w, http.StatusCreated, []chat.Message{{
				ID: "m1", ConversationID: body.ConversationID, Sender: body.Sender, CreatedAt: created, Payload: body.Payload,
			}})
		case http.MethodGet:
			if got := r.URL.Query().Get("order"); got != "created_at.asc,id.asc" {
				t.Fatalf("unexpected order %q", got)
			}
			writeJSON(t, w, http.StatusOK, []chat.Message{{ID: "m1", ConversationID: "c1", CreatedAt: created}})
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	repo := NewRepository(client)

	msg, err := repo.AppendMessage(context.Background(), chat.Message{ConversationID: "c1", Sender: "s", Payload: chat.Payload{Text: "hi"}})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID != "m1" || !msg.CreatedAt.Equal(created) || msg.Reactions == nil {
		t.Fatalf("unexpected message: %+v", msg)
	}

	list, err := repo.ListMessages(context.Background(), "c1", true)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(list) != 1 || list[0].Reactions == nil {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestRepository_CostScheduleMissingAndUpsert(t *testing.T) {
	var stored json.RawMessage
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if stored == nil {
				writeJSON(t, w, http.StatusOK, []interface{}{})
				return
			}
			writeJSON(t, w, http.StatusOK, []map[string]json.RawMessage{{"value": stored}})
		case http.MethodPost:
			if r.URL.Query().Get("on_conflict") != "key" {
				t.Fatalf("expected upsert on key")
			}
			var row struct {
				Key   string          `json:"key"`
				Value json.RawMessage `json:"value"`
			}
			if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
				t.Fatalf("decode: %v", err)
			}
			stored = row.Value
			writeJSON(t, w, http.StatusCreated, []interface{}{row})
		}
	}))
	repo := NewRepository(client)
	ctx := context.Background()

	costs, err := repo.GetCostSchedule(ctx)
	if err != nil || costs != nil {
		t.Fatalf("expected nil schedule, got %+v %v", costs, err)
	}
	if err := repo.SaveCostSchedule(ctx, ledger.CostSchedule{Text: 2, Image: 4}); err != nil {
		t.Fatalf("SaveCostSchedule: %v", err)
	}
	costs, err = repo.GetCostSchedule(ctx)
	if err != nil {
		t.Fatalf("GetCostSchedule: %v", err)
	}
	if costs.Text != 2 || costs.Image != 4 {
		t.Fatalf("unexpected schedule %+v", costs)
	}
}

func TestRepository_UploadBlob(t *testing.T) {
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if r.URL.Path != "/storage/v1/object/files/owner/f1/report.pdf" {
				t.Fatalf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Content-Type") != "application/octet-stream" {
				t.Fatalf("unexpected content type")
			}
			data, _ := io.ReadAll(r.Body)
			if string(data) != "pdf" {
				t.Fatalf("unexpected body %q", data)
			}
			writeJSON(t, w, http.StatusOK, map[string]string{"Key": "files/owner/f1/report.pdf"})
		case http.MethodDelete:
			var body map[string][]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if len(body["prefixes"]) != 1 || body["prefixes"][0] != "owner/f1/report.pdf" {
				t.Fatalf("unexpected delete body %v", body)
			}
			writeJSON(t, w, http.StatusOK, []interface{}{})
		}
	}))
	repo := NewRepository(client)

	ref, err := repo.UploadBlob(context.Background(), "owner/f1/report.pdf", []byte("pdf"))
	if err != nil {
		t.Fatalf("UploadBlob: %v", err)
	}
	if ref != "files/owner/f1/report.pdf" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if err := repo.DeleteBlob(context.Background(), ref); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
}

func TestClient_RetriesTransientGET(t *testing.T) {
	var calls int32
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(t, w, http.StatusServiceUnavailable, map[string]string{"message": "busy"})
			return
		}
		writeJSON(t, w, http.StatusOK, []interface{}{})
	}))
	repo := NewRepository(client)

	if _, err := repo.ListCatalogItems(context.Background()); err != nil {
		t.Fatalf("ListCatalogItems: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestClient_DoesNotRetryRPC(t *testing.T) {
	var calls int32
	client := newClientWithHandler(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(t, w, http.StatusServiceUnavailable, map[string]string{"message": "busy"})
	}))
	repo := NewRepository(client)

	err := repo.SubscribePair(context.Background(), "a", "b")
	if !errors.Is(err, ErrDatabaseError) {
		t.Fatalf("expected database error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("non-idempotent call retried %d times", calls)
	}
}

func TestParseAPIError(t *testing.T) {
	apiErr := parseAPIError(409, []byte(`{"code":"23505","message":"duplicate key","details":"Key (address)"}`))
	if apiErr.Code != "23505" || apiErr.Message != "duplicate key" || apiErr.Details != "Key (address)" {
		t.Fatalf("unexpected parse: %+v", apiErr)
	}
	if !errors.Is(mapError("create user", apiErr), domain.ErrAlreadyExists) {
		t.Fatalf("expected conflict mapping")
	}

	plain := parseAPIError(500, []byte("upstream exploded"))
	if plain.Message != "upstream exploded" {
		t.Fatalf("unexpected plain message %q", plain.Message)
	}
}

func TestRepository_NilClient(t *testing.T) {
	var repo *Repository
	if _, err := repo.GetUser(context.Background(), "a"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
