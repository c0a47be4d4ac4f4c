package rules

import (
	"math/rand"
	"sync"
	"time"

	"procode/internal/store"
)

// Config holds the tunable knobs of the rule set. Hour windows are
// inclusive local hours; chances are probabilities in [0,1].
type Config struct {
	MorningStartHour int
	MorningEndHour   int
	EveningStartHour int
	EveningEndHour   int
	SkillChance      float64
	HealthChance     float64
}

func DefaultConfig() Config {
	return Config{
		MorningStartHour: 8,
		MorningEndHour:   10,
		EveningStartHour: 18,
		EveningEndHour:   20,
		SkillChance:      0.30,
		HealthChance:     0.20,
	}
}

// Candidate is a provisionally-generated proactive message before it is
// persisted by the sweep.
type Candidate struct {
	Type         store.MessageType
	Title        string
	Content      string
	Priority     store.Priority
	ScheduledFor *time.Time
	Reasoning    string
}

// Input is everything a rule may look at. Now carries the local wall-clock
// moment of the evaluation.
type Input struct {
	Context store.UserContext
	Now     time.Time
}

// Source supplies the randomness a rule may consume: one Float64 for a
// probability roll, one Intn for item selection.
type Source interface {
	Float64() float64
	Intn(n int) int
}

// rule pairs a predicate with a generator. Chance 0 means the rule fires
// whenever the predicate holds.
type rule struct {
	name     string
	chance   func(cfg Config) float64
	match    func(cfg Config, in Input) bool
	generate func(in Input, pick func(items []string) string) Candidate
}

type Engine struct {
	cfg   Config
	rules []rule

	mu  sync.Mutex
	src Source
}

// New builds an engine over the standard rule set. A nil src falls back to
// a time-seeded math/rand source.
func New(cfg Config, src Source) *Engine {
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{cfg: cfg, src: src, rules: standardRules()}
}

// Evaluate runs the rules in order and returns the first candidate, if any.
func (e *Engine) Evaluate(in Input) (Candidate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if !r.match(e.cfg, in) {
			continue
		}
		if r.chance != nil {
			p := r.chance(e.cfg)
			if p < 1 && e.src.Float64() >= p {
				continue
			}
		}
		pick := func(items []string) string {
			return items[e.src.Intn(len(items))]
		}
		return r.generate(in, pick), true
	}
	return Candidate{}, false
}
