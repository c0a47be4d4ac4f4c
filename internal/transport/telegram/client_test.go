package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logx "procode/pkg/logx"
)

func TestNewClientRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := NewClient("  ", logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestClientSendText(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotBody struct {
		ChatID string `json:"chat_id"`
		Text   string `json:"text"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := NewClient("123:abc", logx.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.SetBaseURL(srv.URL)

	if err := c.SendText(context.Background(), "4242", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody.ChatID != "4242" || gotBody.Text != "hello" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestClientSendTextAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"bot was blocked by the user"}`))
	}))
	defer srv.Close()

	c, err := NewClient("123:abc", logx.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.SetBaseURL(srv.URL)

	err = c.SendText(context.Background(), "1", "hi")
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("err = %v, want blocked description", err)
	}
}
