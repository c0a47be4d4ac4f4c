package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"procode/internal/ai"
	"procode/internal/bot"
	"procode/internal/connect"
	"procode/internal/delivery"
	"procode/internal/rules"
	"procode/internal/store"
	"procode/internal/sweep"
	logx "procode/pkg/logx"
)

type fixedSource struct{}

func (fixedSource) Float64() float64 { return 0.99 }
func (fixedSource) Intn(int) int     { return 0 }

type fakeSender struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSender) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatID+": "+text)
	return nil
}

type fixture struct {
	store  store.Store
	rec    *connect.Reconciler
	sender *fakeSender
	srv    http.Handler
}

func newFixture(t *testing.T, apiKey string, aiClient *ai.Client) *fixture {
	t.Helper()
	st := store.NewMemory()
	rec := connect.New(st, logx.Nop())
	sender := &fakeSender{}
	router := bot.NewRouter(bot.Config{}, st, rec, aiClient, logx.Nop())
	eng := rules.New(rules.DefaultConfig(), fixedSource{})
	del := delivery.New(delivery.Config{RatePerSec: 1000}, st, sender, logx.Nop())
	sw := sweep.New(sweep.Config{Enabled: true}, st, eng, del, logx.Nop())

	s := New(Config{APIKey: apiKey}, st, router, sender, rec, sw, aiClient, logx.Nop())
	return &fixture{store: st, rec: rec, sender: sender, srv: s.routes()}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "", nil)
	rr := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestIssueToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "", nil)
	ctx := context.Background()
	if err := f.store.CreateUser(ctx, store.User{ID: "u1", Email: "u1@x", IsActive: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	tests := []struct {
		name   string
		userID string
		code   int
	}{
		{name: "missing identity", userID: "", code: http.StatusUnauthorized},
		{name: "unknown user", userID: "ghost", code: http.StatusNotFound},
		{name: "known user", userID: "u1", code: http.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			hdr := map[string]string{}
			if tt.userID != "" {
				hdr["X-User-ID"] = tt.userID
			}
			rr := f.do(t, http.MethodPost, "/api/user/telegram-token", "", hdr)
			if rr.Code != tt.code {
				t.Fatalf("status = %d, want %d", rr.Code, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}
			body := decodeBody(t, rr)
			token, _ := body["token"].(string)
			if len(token) != 64 {
				t.Fatalf("token = %q, want 64 hex chars", token)
			}
			if cmd, _ := body["command"].(string); cmd != "/connect "+token {
				t.Fatalf("command = %q", cmd)
			}
		})
	}
}

func TestWebhookPairing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "", nil)
	ctx := context.Background()
	if err := f.store.CreateUser(ctx, store.User{ID: "u1", Email: "u1@x", IsActive: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	p, err := f.rec.IssueToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	payload := fmt.Sprintf(`{
		"update_id": 1,
		"message": {
			"message_id": 10,
			"from": {"id": 77, "username": "alice"},
			"chat": {"id": 4242},
			"text": "/connect %s"
		}
	}`, p.Token)

	rr := f.do(t, http.MethodPost, "/api/telegram/webhook", payload, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body := decodeBody(t, rr); body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}

	conn, err := f.store.ConnectionByChatID(ctx, "4242")
	if err != nil {
		t.Fatalf("ConnectionByChatID: %v", err)
	}
	if !conn.Active() || conn.TelegramUsername != "alice" {
		t.Fatalf("connection = %+v, want active alice", conn)
	}
	if len(f.sender.calls) != 1 || !strings.HasPrefix(f.sender.calls[0], "4242: ") {
		t.Fatalf("sends = %v, want one reply to 4242", f.sender.calls)
	}
}

func TestWebhookToleratesNonTextUpdates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "", nil)
	rr := f.do(t, http.MethodPost, "/api/telegram/webhook", `{"update_id": 2}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(f.sender.calls) != 0 {
		t.Fatalf("sends = %v, want none", f.sender.calls)
	}
}

func TestAnalyzeContextsRequiresAPIKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "secret", nil)

	rr := f.do(t, http.MethodPost, "/api/system/analyze-contexts", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/system/analyze-contexts", "", map[string]string{"X-API-Key": "secret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status with key = %d, want 200", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}
	for _, k := range []string{"analyzed", "messagesCreated", "messagesSent", "skippedRecent"} {
		if _, ok := body[k]; !ok {
			t.Fatalf("summary missing %q: %v", k, body)
		}
	}
}

func TestChatEndpoint(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer"}}]}`))
	}))
	defer upstream.Close()

	aiClient := ai.New(ai.Config{BaseURL: upstream.URL, APIKey: "k", DefaultModel: "default/model", Timeout: 5 * time.Second})
	f := newFixture(t, "", aiClient)

	rr := f.do(t, http.MethodPost, "/api/chat", `{}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty message status = %d, want 400", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["message"] != "answer" || body["model"] != "default/model" {
		t.Fatalf("body = %v", body)
	}
}
