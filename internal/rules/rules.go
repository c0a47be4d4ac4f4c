package rules

import (
	"fmt"
	"time"

	"procode/internal/store"
)

// standardRules returns the rule set in priority order. A failed
// probability roll falls through to the next rule; a successful match
// short-circuits the rest.
func standardRules() []rule {
	return []rule{
		{
			name: "morning-motivation",
			match: func(cfg Config, in Input) bool {
				h := in.Now.Hour()
				return h >= cfg.MorningStartHour && h <= cfg.MorningEndHour &&
					len(in.Context.ShortTermGoals) > 0
			},
			generate: func(in Input, pick func([]string) string) Candidate {
				goal := pick(in.Context.ShortTermGoals)
				return Candidate{
					Type:  store.TypeSuggestion,
					Title: "🌅 Morning is the perfect time to work on your goals",
					Content: fmt.Sprintf("Good morning! 🌞\n\n"+
						"Today could be a good day to take a step toward one of your goals:\n\n"+
						"🎯 %q\n\n"+
						"What can you do today to get closer? Even 15 minutes can make a difference! 💪", goal),
					Priority:  store.PriorityMedium,
					Reasoning: "Morning motivation based on short-term goals",
				}
			},
		},
		{
			name: "evening-reflection",
			match: func(cfg Config, in Input) bool {
				h := in.Now.Hour()
				return h >= cfg.EveningStartHour && h <= cfg.EveningEndHour &&
					len(in.Context.Challenges) > 0
			},
			generate: func(in Input, pick func([]string) string) Candidate {
				challenge := pick(in.Context.Challenges)
				return Candidate{
					Type:  store.TypeQuestion,
					Title: "🤔 Time to reflect on your challenges",
					Content: fmt.Sprintf("Good evening! 🌆\n\n"+
						"How are you doing with this challenge:\n\n"+
						"⚡ %q\n\n"+
						"Did you make any progress today? Maybe you discovered something new about the problem?\n\n"+
						"Sometimes it helps to pause and consider a different approach 💭", challenge),
					Priority:  store.PriorityLow,
					Reasoning: "Evening reflection on challenges",
				}
			},
		},
		{
			name:   "skill-reminder",
			chance: func(cfg Config) float64 { return cfg.SkillChance },
			match: func(cfg Config, in Input) bool {
				wd := in.Now.Weekday()
				return wd >= time.Monday && wd <= time.Friday &&
					len(in.Context.SkillsToLearn) > 0
			},
			generate: func(in Input, pick func([]string) string) Candidate {
				skill := pick(in.Context.SkillsToLearn)
				return Candidate{
					Type:  store.TypeReminder,
					Title: "📚 Learning reminder",
					Content: fmt.Sprintf("Hey! 👋\n\n"+
						"Remember your learning plan:\n\n"+
						"🎓 %q\n\n"+
						"Maybe you can find 20-30 minutes to study today? Consistent, regular work brings the best results!\n\n"+
						"🔥 Every day is a step forward!", skill),
					Priority:  store.PriorityMedium,
					Reasoning: "Skills learning reminder for weekday",
				}
			},
		},
		{
			name:   "health-reminder",
			chance: func(cfg Config) float64 { return cfg.HealthChance },
			match: func(cfg Config, in Input) bool {
				return len(in.Context.HealthGoals) > 0
			},
			generate: func(in Input, pick func([]string) string) Candidate {
				goal := pick(in.Context.HealthGoals)
				return Candidate{
					Type:  store.TypeReminder,
					Title: "💪 Your health matters",
					Content: fmt.Sprintf("Hi! 🌟\n\n"+
						"How is your health goal going:\n\n"+
						"🏃 %q\n\n"+
						"Small steps every day lead to big changes. Take care of yourself! ❤️", goal),
					Priority:  store.PriorityHigh,
					Reasoning: "Health goals reminder",
				}
			},
		},
	}
}
