package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"procode/internal/ai"
	"procode/internal/connect"
	"procode/internal/store"
	"procode/internal/transport"
	logx "procode/pkg/logx"
)

func pairedFixture(t *testing.T, aiClient *ai.Client, chatEnabled bool) (*Router, store.Store, string) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.CreateUser(ctx, store.User{ID: "u1", Email: "u1@example.com", IsActive: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	rec := connect.New(st, logx.Nop())
	p, err := rec.IssueToken(ctx, "u1")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	r := NewRouter(Config{ChatEnabled: chatEnabled}, st, rec, aiClient, logx.Nop())
	return r, st, p.Token
}

func msg(chatID, text string) transport.Message {
	return transport.Message{ChatID: chatID, FromUsername: "tester", Text: text}
}

func TestHandleTextCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _, token := pairedFixture(t, nil, false)

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "empty", text: "   ", want: ""},
		{name: "start", text: "/start", want: startReply},
		{name: "connect without token", text: "/connect", want: tokenRejectedReply},
		{name: "connect bad token", text: "/connect nope", want: tokenRejectedReply},
		{name: "connect good token", text: "/connect " + token, want: connectedReply},
		{name: "plain text after pairing", text: "hello", want: ackOnlyReply},
	}

	// Order matters: pairing happens mid-table.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.HandleText(ctx, msg("chat-1", tt.text))
			if got != tt.want {
				t.Fatalf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlainTextWithoutPairing(t *testing.T) {
	t.Parallel()
	r, _, _ := pairedFixture(t, nil, false)
	got := r.HandleText(context.Background(), msg("chat-9", "hi"))
	if !strings.Contains(got, "chat-9") || !strings.Contains(got, "not connected") {
		t.Fatalf("reply = %q, want not-connected help with chat id", got)
	}
}

func TestConverseRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var gotReq struct {
		Model    string       `json:"model"`
		Messages []ai.Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := json.NewDecoder(req.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"sure, here is a plan"}}]}`))
	}))
	defer srv.Close()

	aiClient := ai.New(ai.Config{BaseURL: srv.URL, APIKey: "test", DefaultModel: "test/model"})
	r, st, token := pairedFixture(t, aiClient, true)
	if got := r.HandleText(ctx, msg("chat-1", "/connect "+token)); got != connectedReply {
		t.Fatalf("pairing reply = %q", got)
	}

	if err := st.PutContext(ctx, store.UserContext{
		UserID:         "u1",
		ShortTermGoals: []string{"pass the exam"},
	}); err != nil {
		t.Fatalf("PutContext: %v", err)
	}

	reply := r.HandleText(ctx, msg("chat-1", "help me plan my week"))
	if reply != "🤖 sure, here is a plan" {
		t.Fatalf("reply = %q", reply)
	}

	if gotReq.Model != "test/model" {
		t.Fatalf("model = %q, want test/model", gotReq.Model)
	}
	if len(gotReq.Messages) < 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want system prompt first", gotReq.Messages)
	}
	if !strings.Contains(gotReq.Messages[0].Content, "pass the exam") {
		t.Fatalf("system prompt missing life context: %q", gotReq.Messages[0].Content)
	}
	last := gotReq.Messages[len(gotReq.Messages)-1]
	if last.Role != "user" || last.Content != "help me plan my week" {
		t.Fatalf("last message = %+v", last)
	}

	// Both sides of the exchange are persisted under the Telegram conversation.
	conv, err := st.EnsureConversation(ctx, "u1", telegramConversationTitle)
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	hist, err := st.RecentChatMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("RecentChatMessages: %v", err)
	}
	if len(hist) != 2 || hist[0].Role != store.RoleUser || hist[1].Role != store.RoleAssistant {
		t.Fatalf("history = %+v, want user+assistant", hist)
	}
	if hist[1].ModelUsed != "test/model" {
		t.Fatalf("ModelUsed = %q", hist[1].ModelUsed)
	}
}

func TestConverseCompletionFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	aiClient := ai.New(ai.Config{BaseURL: srv.URL, APIKey: "test", DefaultModel: "m"})
	r, _, token := pairedFixture(t, aiClient, true)
	ctx := context.Background()
	if got := r.HandleText(ctx, msg("chat-1", "/connect "+token)); got != connectedReply {
		t.Fatalf("pairing reply = %q", got)
	}

	if got := r.HandleText(ctx, msg("chat-1", "hello")); got != completionErrorReply {
		t.Fatalf("reply = %q, want completion error reply", got)
	}
}
