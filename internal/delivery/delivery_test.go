package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"procode/internal/store"
	logx "procode/pkg/logx"
)

type sentCall struct {
	ChatID string
	Text   string
}

// fakeSender records sends and fails the ones failOn rejects.
type fakeSender struct {
	mu     sync.Mutex
	calls  []sentCall
	failOn func(chatID, text string) error
}

func (f *fakeSender) SendText(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		if err := f.failOn(chatID, text); err != nil {
			return err
		}
	}
	f.calls = append(f.calls, sentCall{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeSender) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func testConfig() Config {
	// High rate so batches do not sleep in tests.
	return Config{BatchLimit: 10, RatePerSec: 1000, SendTimeout: time.Second}
}

func seedUser(t *testing.T, st store.Store, id string, connected bool) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateUser(ctx, store.User{ID: id, Email: id + "@example.com", IsActive: true}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !connected {
		return
	}
	if err := st.ReplaceConnection(ctx, store.Connection{
		UserID:         id,
		Token:          "tok-" + id,
		TelegramChatID: "chat-" + id,
		IsActive:       true,
	}); err != nil {
		t.Fatalf("ReplaceConnection: %v", err)
	}
}

func seedPending(t *testing.T, st store.Store, id, userID string, createdAt time.Time) {
	t.Helper()
	if err := st.CreateProactiveMessage(context.Background(), store.ProactiveMessage{
		ID:        id,
		UserID:    userID,
		Type:      store.TypeReminder,
		Title:     "t",
		Content:   "content " + id,
		Priority:  store.PriorityMedium,
		Status:    store.StatusPending,
		CreatedAt: createdAt,
	}); err != nil {
		t.Fatalf("CreateProactiveMessage: %v", err)
	}
}

func TestDeliverSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedUser(t, st, "u1", true)
	seedPending(t, st, "m1", "u1", time.Now())

	sender := &fakeSender{}
	d := New(testConfig(), st, sender, logx.Nop())
	sentAt := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return sentAt }

	ok, err := d.Deliver(ctx, "m1")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !ok {
		t.Fatal("Deliver = false, want true")
	}

	calls := sender.sent()
	if len(calls) != 1 || calls[0].ChatID != "chat-u1" {
		t.Fatalf("unexpected sends: %+v", calls)
	}
	m, err := st.ProactiveMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("ProactiveMessage: %v", err)
	}
	if m.Status != store.StatusSent {
		t.Fatalf("Status = %s, want %s", m.Status, store.StatusSent)
	}
	if m.SentAt == nil || !m.SentAt.Equal(sentAt) {
		t.Fatalf("SentAt = %v, want %v", m.SentAt, sentAt)
	}
}

func TestDeliverWithoutDestinationStaysPending(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		connected bool
		inactive  bool
	}{
		{name: "no connection row"},
		{name: "connection not activated", connected: true, inactive: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := store.NewMemory()
			seedUser(t, st, "u1", false)
			if tt.connected {
				if err := st.ReplaceConnection(ctx, store.Connection{
					UserID: "u1", Token: "tok", IsActive: !tt.inactive,
				}); err != nil {
					t.Fatalf("ReplaceConnection: %v", err)
				}
			}
			seedPending(t, st, "m1", "u1", time.Now())

			sender := &fakeSender{}
			d := New(testConfig(), st, sender, logx.Nop())

			ok, err := d.Deliver(ctx, "m1")
			if err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if ok {
				t.Fatal("Deliver = true, want false")
			}
			if got := len(sender.sent()); got != 0 {
				t.Fatalf("sends = %d, want 0", got)
			}
			m, _ := st.ProactiveMessage(ctx, "m1")
			if m.Status != store.StatusPending {
				t.Fatalf("Status = %s, want pending", m.Status)
			}
		})
	}
}

func TestDeliverTransportFailureMarksFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedUser(t, st, "u1", true)
	seedPending(t, st, "m1", "u1", time.Now())

	sender := &fakeSender{failOn: func(string, string) error { return errors.New("telegram down") }}
	d := New(testConfig(), st, sender, logx.Nop())

	ok, err := d.Deliver(ctx, "m1")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ok {
		t.Fatal("Deliver = true, want false")
	}
	m, _ := st.ProactiveMessage(ctx, "m1")
	if m.Status != store.StatusFailed {
		t.Fatalf("Status = %s, want failed", m.Status)
	}
	if m.SentAt != nil {
		t.Fatalf("SentAt = %v, want nil", m.SentAt)
	}
}

func TestDeliverSkipsTerminalMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedUser(t, st, "u1", true)
	seedPending(t, st, "m1", "u1", time.Now())
	if ok, _ := st.MarkSent(ctx, "m1", time.Now()); !ok {
		t.Fatal("seed MarkSent failed")
	}

	sender := &fakeSender{}
	d := New(testConfig(), st, sender, logx.Nop())

	ok, err := d.Deliver(ctx, "m1")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ok {
		t.Fatal("Deliver = true for a sent message, want false")
	}
	if got := len(sender.sent()); got != 0 {
		t.Fatalf("sends = %d, want 0", got)
	}
}

func TestProcessPendingBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedUser(t, st, "u1", true)

	base := time.Now().Add(-time.Hour)
	seedPending(t, st, "m1", "u1", base)
	seedPending(t, st, "m2", "u1", base.Add(time.Minute))
	seedPending(t, st, "m3", "u1", base.Add(2*time.Minute))

	sender := &fakeSender{failOn: func(_, text string) error {
		if text == "content m2" {
			return errors.New("boom")
		}
		return nil
	}}
	d := New(testConfig(), st, sender, logx.Nop())

	rep, err := d.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if rep.Picked != 3 || rep.Sent != 2 || rep.Failed != 1 || rep.Skipped != 0 {
		t.Fatalf("Report = %+v, want picked 3 sent 2 failed 1", rep)
	}

	calls := sender.sent()
	if len(calls) != 2 || calls[0].Text != "content m1" || calls[1].Text != "content m3" {
		t.Fatalf("unexpected send order: %+v", calls)
	}

	wantStatus := map[string]store.Status{
		"m1": store.StatusSent,
		"m2": store.StatusFailed,
		"m3": store.StatusSent,
	}
	for id, want := range wantStatus {
		m, _ := st.ProactiveMessage(ctx, id)
		if m.Status != want {
			t.Fatalf("%s Status = %s, want %s", id, m.Status, want)
		}
	}
}

func TestProcessPendingHonorsBatchLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedUser(t, st, "u1", true)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedPending(t, st, string(rune('a'+i)), "u1", base.Add(time.Duration(i)*time.Minute))
	}

	cfg := testConfig()
	cfg.BatchLimit = 2
	sender := &fakeSender{}
	d := New(cfg, st, sender, logx.Nop())

	rep, err := d.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if rep.Picked != 2 || rep.Sent != 2 {
		t.Fatalf("Report = %+v, want picked 2 sent 2", rep)
	}
	// Oldest two only.
	calls := sender.sent()
	if len(calls) != 2 || calls[0].Text != "content a" || calls[1].Text != "content b" {
		t.Fatalf("unexpected sends: %+v", calls)
	}
}

func TestProcessPendingIgnoresFutureSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedUser(t, st, "u1", true)

	future := time.Now().Add(time.Hour)
	if err := st.CreateProactiveMessage(ctx, store.ProactiveMessage{
		ID: "later", UserID: "u1", Type: store.TypeReminder,
		Content: "not yet", Status: store.StatusPending,
		ScheduledFor: &future, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateProactiveMessage: %v", err)
	}

	sender := &fakeSender{}
	d := New(testConfig(), st, sender, logx.Nop())

	rep, err := d.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if rep.Picked != 0 {
		t.Fatalf("Picked = %d, want 0", rep.Picked)
	}
	m, _ := st.ProactiveMessage(ctx, "later")
	if m.Status != store.StatusPending {
		t.Fatalf("Status = %s, want pending", m.Status)
	}
}
