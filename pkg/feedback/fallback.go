package feedback

import (
	"github.com/teslashibe/speakfluent/pkg/progress"
)

// RecentWindow is how many recent scores the fallback averages per skill.
const RecentWindow = 3

// Fallback builds feedback locally from the learner's recent scores when the
// remote evaluation is unavailable or invalid.
func Fallback(input string, tracker *progress.Tracker) *Feedback {
	level := tracker.Level()

	fb := &Feedback{
		CorrectedText: input,
		Grammar:       tracker.RecentAverage(progress.Grammar, RecentWindow),
		Vocabulary:    tracker.RecentAverage(progress.Vocabulary, RecentWindow),
		Pronunciation: tracker.RecentAverage(progress.Pronunciation, RecentWindow),
		Fluency:       tracker.RecentAverage(progress.Fluency, RecentWindow),
		Suggestions:   suggestionsFor(level),
		Source:        SourceFallback,
	}

	for _, skill := range tracker.WeakestSkills(2) {
		fb.PracticeTips = append(fb.PracticeTips, tipFor(skill, level))
	}
	if fb.PracticeTips == nil {
		fb.PracticeTips = []PracticeTip{}
	}
	return fb
}

func suggestionsFor(level progress.Level) []string {
	structures := "basic"
	if level == progress.Advanced {
		structures = "advanced"
	}
	vocabulary := "varied"
	if level == progress.Beginner {
		vocabulary = "common"
	}
	flow := "clear speech"
	if level == progress.Advanced {
		flow = "natural flow"
	}
	return []string{
		"Focus on " + structures + " sentence structures",
		"Practice " + vocabulary + " vocabulary",
		"Work on " + flow,
	}
}

func tipFor(skill progress.Skill, level progress.Level) PracticeTip {
	adv := level == progress.Advanced
	mid := level == progress.Intermediate

	pick := func(cond bool, a, b string) string {
		if cond {
			return a
		}
		return b
	}

	switch skill {
	case progress.Grammar:
		return PracticeTip{
			Title:       pick(adv, "Complex Grammar Structures", "Basic Sentence Patterns"),
			Description: pick(adv, "Practice advanced grammatical constructions", "Focus on simple, clear sentences"),
			Example:     pick(adv, "Use perfect continuous tenses in conversation", "Practice subject-verb-object order"),
			FocusArea:   skill,
		}
	case progress.Vocabulary:
		return PracticeTip{
			Title:       pick(adv, "Advanced Word Choice", "Essential Vocabulary"),
			Description: pick(mid, "Expand your active vocabulary", "Master common everyday words"),
			Example:     pick(adv, "Use precise terminology in discussions", "Practice basic descriptive words"),
			FocusArea:   skill,
		}
	case progress.Pronunciation:
		return PracticeTip{
			Title:       pick(adv, "Natural Speech Patterns", "Clear Pronunciation"),
			Description: pick(mid, "Work on stress and intonation", "Practice individual sounds"),
			Example:     pick(adv, "Focus on connected speech", "Repeat basic word patterns"),
			FocusArea:   skill,
		}
	default:
		return PracticeTip{
			Title:       pick(adv, "Advanced Fluency", "Basic Flow"),
			Description: pick(mid, "Practice smooth transitions", "Focus on clear delivery"),
			Example:     pick(adv, "Use varied discourse markers", "Practice simple linking words"),
			FocusArea:   progress.Fluency,
		}
	}
}
