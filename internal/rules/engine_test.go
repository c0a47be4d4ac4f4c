package rules

import (
	"strings"
	"testing"
	"time"

	"procode/internal/store"
)

// fixedSource makes rolls and picks deterministic in tests.
type fixedSource struct {
	roll float64
	pick int
}

func (s fixedSource) Float64() float64 { return s.roll }
func (s fixedSource) Intn(n int) int {
	if s.pick >= n {
		return n - 1
	}
	return s.pick
}

func fullContext() store.UserContext {
	return store.UserContext{
		ShortTermGoals: []string{"ship the MVP"},
		Challenges:     []string{"flaky deploys"},
		SkillsToLearn:  []string{"Rust"},
		HealthGoals:    []string{"run 3x a week"},
	}
}

// localTime builds a wall-clock moment on a known weekday.
// 2026-01-05 is a Monday.
func localTime(hour int) time.Time {
	return time.Date(2026, time.January, 5, hour, 30, 0, 0, time.Local)
}

func TestEvaluateRuleSelection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		ctx       store.UserContext
		now       time.Time
		roll      float64
		want      store.MessageType
		wantNone  bool
		reasoning string
	}{
		{
			name: "morning window with goals", ctx: fullContext(), now: localTime(9),
			roll: 0.99, want: store.TypeSuggestion,
			reasoning: "Morning motivation based on short-term goals",
		},
		{
			name: "evening window with challenges", ctx: fullContext(), now: localTime(19),
			roll: 0.99, want: store.TypeQuestion,
			reasoning: "Evening reflection on challenges",
		},
		{
			name: "weekday afternoon rolls skill reminder", ctx: fullContext(), now: localTime(14),
			roll: 0.1, want: store.TypeReminder,
			reasoning: "Skills learning reminder for weekday",
		},
		{
			name: "high roll fails both chance rules", ctx: fullContext(), now: localTime(14),
			roll: 0.95, wantNone: true,
		},
		{
			name: "morning hour without goals skips morning rule",
			ctx: store.UserContext{
				Challenges: []string{"scope creep"},
			},
			now: localTime(9), roll: 0.99, wantNone: true,
		},
		{
			name: "weekend skips skill reminder",
			ctx: store.UserContext{
				SkillsToLearn: []string{"Go generics"},
			},
			// 2026-01-04 is a Sunday.
			now:  time.Date(2026, time.January, 4, 14, 0, 0, 0, time.Local),
			roll: 0.0, wantNone: true,
		},
		{
			name: "health fires any hour on a passing roll",
			ctx: store.UserContext{
				HealthGoals: []string{"sleep 8h"},
			},
			now: localTime(3), roll: 0.1, want: store.TypeReminder,
			reasoning: "Health goals reminder",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := New(DefaultConfig(), fixedSource{roll: tt.roll})
			cand, ok := e.Evaluate(Input{Context: tt.ctx, Now: tt.now})
			if tt.wantNone {
				if ok {
					t.Fatalf("Evaluate fired %q, want no candidate", cand.Reasoning)
				}
				return
			}
			if !ok {
				t.Fatal("Evaluate returned no candidate")
			}
			if cand.Type != tt.want {
				t.Fatalf("Type = %s, want %s", cand.Type, tt.want)
			}
			if cand.Reasoning != tt.reasoning {
				t.Fatalf("Reasoning = %q, want %q", cand.Reasoning, tt.reasoning)
			}
			if cand.Title == "" || cand.Content == "" {
				t.Fatal("candidate missing title or content")
			}
		})
	}
}

func TestMorningWinsOverLaterRules(t *testing.T) {
	t.Parallel()
	// All four rules could fire at 9am Monday with a 0.0 roll; order must
	// pick the morning rule.
	e := New(DefaultConfig(), fixedSource{roll: 0.0})
	cand, ok := e.Evaluate(Input{Context: fullContext(), Now: localTime(9)})
	if !ok {
		t.Fatal("Evaluate returned no candidate")
	}
	if cand.Type != store.TypeSuggestion {
		t.Fatalf("Type = %s, want %s", cand.Type, store.TypeSuggestion)
	}
	if cand.Priority != store.PriorityMedium {
		t.Fatalf("Priority = %s, want %s", cand.Priority, store.PriorityMedium)
	}
}

func TestFailedRollFallsThrough(t *testing.T) {
	t.Parallel()
	// Skill chance is 0.30, health is 0.20: the same roll value either
	// passes both or fails both thresholds.
	ctx := store.UserContext{
		SkillsToLearn: []string{"Kubernetes"},
		HealthGoals:   []string{"stretch daily"},
	}

	// Roll passes both thresholds: skill rule wins by order.
	e := New(DefaultConfig(), fixedSource{roll: 0.1})
	cand, ok := e.Evaluate(Input{Context: ctx, Now: localTime(14)})
	if !ok || cand.Reasoning != "Skills learning reminder for weekday" {
		t.Fatalf("got (%v, %v), want skill reminder", cand.Reasoning, ok)
	}

	// Roll fails both: nothing fires.
	e = New(DefaultConfig(), fixedSource{roll: 0.5})
	if cand, ok := e.Evaluate(Input{Context: ctx, Now: localTime(14)}); ok {
		t.Fatalf("Evaluate fired %q, want no candidate", cand.Reasoning)
	}
}

func TestPickedItemAppearsInContent(t *testing.T) {
	t.Parallel()
	ctx := store.UserContext{ShortTermGoals: []string{"first", "second", "third"}}
	e := New(DefaultConfig(), fixedSource{roll: 0.0, pick: 2})
	cand, ok := e.Evaluate(Input{Context: ctx, Now: localTime(8)})
	if !ok {
		t.Fatal("Evaluate returned no candidate")
	}
	if !strings.Contains(cand.Content, `"third"`) {
		t.Fatalf("content does not reference picked goal: %q", cand.Content)
	}
}

func TestWindowBoundariesInclusive(t *testing.T) {
	t.Parallel()
	ctx := store.UserContext{ShortTermGoals: []string{"goal"}}
	e := New(DefaultConfig(), fixedSource{roll: 0.99})

	for _, h := range []int{8, 10} {
		if _, ok := e.Evaluate(Input{Context: ctx, Now: localTime(h)}); !ok {
			t.Fatalf("hour %d should be inside the morning window", h)
		}
	}
	for _, h := range []int{7, 11} {
		if cand, ok := e.Evaluate(Input{Context: ctx, Now: localTime(h)}); ok {
			t.Fatalf("hour %d fired %q, want no candidate", h, cand.Reasoning)
		}
	}
}

func TestNilSourceUsesSeededRand(t *testing.T) {
	t.Parallel()
	e := New(DefaultConfig(), nil)
	// Deterministic rule (no chance): must fire regardless of the source.
	ctx := store.UserContext{ShortTermGoals: []string{"only"}}
	if _, ok := e.Evaluate(Input{Context: ctx, Now: localTime(9)}); !ok {
		t.Fatal("deterministic rule did not fire with default source")
	}
}
