// Package progress tracks a learner's spoken-English scores across a session
// and classifies them into a level tier.
//
// Scores are integers in [0,10] per skill. Averages are the mean of the full
// history for a skill; the level classifier also looks at the last five
// entries of each skill for an improvement trend.
package progress

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Skill is a scored dimension of spoken English.
type Skill string

const (
	Grammar       Skill = "grammar"
	Vocabulary    Skill = "vocabulary"
	Pronunciation Skill = "pronunciation"
	Fluency       Skill = "fluency"
)

// Skills lists every skill in canonical order.
var Skills = []Skill{Grammar, Vocabulary, Pronunciation, Fluency}

// Valid reports whether s is a known skill.
func (s Skill) Valid() bool {
	switch s {
	case Grammar, Vocabulary, Pronunciation, Fluency:
		return true
	}
	return false
}

// Level is the learner tier.
type Level string

const (
	Beginner     Level = "beginner"
	Intermediate Level = "intermediate"
	Advanced     Level = "advanced"
)

// Tuning constants for scoring and classification.
const (
	MinScore = 0
	MaxScore = 10

	// TrendWindow is how many recent entries the trend check inspects.
	TrendWindow = 5

	// TrendTolerance is the largest drop between consecutive entries that
	// still counts as improving.
	TrendTolerance = 1

	// MaxErrors bounds each skill's recent-error list.
	MaxErrors = 5

	// NeutralScore stands in for a skill with no history.
	NeutralScore = 5
)

// Scores holds one integer score per skill.
type Scores struct {
	Grammar       int `json:"grammar"`
	Vocabulary    int `json:"vocabulary"`
	Pronunciation int `json:"pronunciation"`
	Fluency       int `json:"fluency"`
}

// Get returns the score for a skill.
func (s Scores) Get(skill Skill) int {
	switch skill {
	case Grammar:
		return s.Grammar
	case Vocabulary:
		return s.Vocabulary
	case Pronunciation:
		return s.Pronunciation
	case Fluency:
		return s.Fluency
	}
	return 0
}

// Averages holds one running average per skill.
type Averages struct {
	Grammar       float64 `json:"grammar"`
	Vocabulary    float64 `json:"vocabulary"`
	Pronunciation float64 `json:"pronunciation"`
	Fluency       float64 `json:"fluency"`
}

// Get returns the average for a skill.
func (a Averages) Get(skill Skill) float64 {
	switch skill {
	case Grammar:
		return a.Grammar
	case Vocabulary:
		return a.Vocabulary
	case Pronunciation:
		return a.Pronunciation
	case Fluency:
		return a.Fluency
	}
	return 0
}

// Overall is the mean of the four skill averages.
func (a Averages) Overall() float64 {
	return (a.Grammar + a.Vocabulary + a.Pronunciation + a.Fluency) / 4
}

// SkillAverage pairs a skill with its running average.
type SkillAverage struct {
	Skill   Skill   `json:"skill"`
	Average float64 `json:"average"`
}

// Role identifies who produced a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the prompt-context conversation history.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Normalize clamps a raw score into [0,10] and rounds half up.
// NaN maps to 0.
func Normalize(score float64) int {
	if math.IsNaN(score) {
		return MinScore
	}
	clamped := math.Max(MinScore, math.Min(MaxScore, score))
	return int(math.Floor(clamped + 0.5))
}

// Tracker is the learner progress state for one session.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	level   Level
	history map[Skill][]int
	errors  map[Skill][]string
	turns   []Turn
}

// New creates a tracker at the beginner level with empty history.
func New() *Tracker {
	t := &Tracker{}
	t.resetLocked()
	return t
}

// RecordScores normalizes and appends one score per skill.
// It returns the normalized scores that were stored.
func (t *Tracker) RecordScores(grammar, vocabulary, pronunciation, fluency float64) Scores {
	s := Scores{
		Grammar:       Normalize(grammar),
		Vocabulary:    Normalize(vocabulary),
		Pronunciation: Normalize(pronunciation),
		Fluency:       Normalize(fluency),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, skill := range Skills {
		t.history[skill] = append(t.history[skill], s.Get(skill))
	}
	return s
}

// Record stores already-normalized scores.
func (t *Tracker) Record(s Scores) Scores {
	return t.RecordScores(float64(s.Grammar), float64(s.Vocabulary), float64(s.Pronunciation), float64(s.Fluency))
}

// Averages returns the mean of each skill's full history (0 when empty).
func (t *Tracker) Averages() Averages {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.averagesLocked()
}

func (t *Tracker) averagesLocked() Averages {
	return Averages{
		Grammar:       mean(t.history[Grammar]),
		Vocabulary:    mean(t.history[Vocabulary]),
		Pronunciation: mean(t.history[Pronunciation]),
		Fluency:       mean(t.history[Fluency]),
	}
}

// History returns a copy of a skill's score history.
func (t *Tracker) History(skill Skill) []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]int(nil), t.history[skill]...)
}

// Improving reports whether a skill's last five scores show no drop larger
// than one point between consecutive entries. Fewer than five entries is
// never improving.
func (t *Tracker) Improving(skill Skill) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return improving(t.history[skill])
}

// HasTrend reports whether any skill is improving.
func (t *Tracker) HasTrend() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hasTrendLocked()
}

func (t *Tracker) hasTrendLocked() bool {
	for _, skill := range Skills {
		if improving(t.history[skill]) {
			return true
		}
	}
	return false
}

// ClassifyLevel recomputes and stores the learner level.
func (t *Tracker) ClassifyLevel() Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.level = Classify(t.averagesLocked().Overall(), t.hasTrendLocked())
	return t.level
}

// Classify maps an overall average and trend flag to a level.
func Classify(overall float64, trend bool) Level {
	switch {
	case overall >= 8 || (overall >= 7 && trend):
		return Advanced
	case overall >= 6 || (overall >= 5 && trend):
		return Intermediate
	default:
		return Beginner
	}
}

// Level returns the level from the last classification.
func (t *Tracker) Level() Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.level
}

// RecentAverage returns the rounded mean of a skill's last n scores,
// or NeutralScore when the skill has no history.
func (t *Tracker) RecentAverage(skill Skill, n int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := t.history[skill]
	if len(h) == 0 || n <= 0 {
		return NeutralScore
	}
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return int(math.Floor(mean(h) + 0.5))
}

// FocusAreas returns every skill ordered by ascending average.
// Ties keep canonical skill order.
func (t *Tracker) FocusAreas() []SkillAverage {
	avg := t.Averages()
	areas := make([]SkillAverage, 0, len(Skills))
	for _, skill := range Skills {
		areas = append(areas, SkillAverage{Skill: skill, Average: avg.Get(skill)})
	}
	sort.SliceStable(areas, func(i, j int) bool {
		return areas[i].Average < areas[j].Average
	})
	return areas
}

// WeakestSkills returns the n skills with the lowest averages.
func (t *Tracker) WeakestSkills(n int) []Skill {
	areas := t.FocusAreas()
	if n > len(areas) {
		n = len(areas)
	}
	if n < 0 {
		n = 0
	}
	out := make([]Skill, n)
	for i := 0; i < n; i++ {
		out[i] = areas[i].Skill
	}
	return out
}

// RecordErrors adds recurring issues for a skill. The newest item comes
// first, duplicates collapse to their newest position and the list keeps at
// most MaxErrors entries.
func (t *Tracker) RecordErrors(skill Skill, items ...string) {
	if !skill.Valid() || len(items) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	merged := make([]string, 0, len(items)+len(t.errors[skill]))
	merged = append(merged, items...)
	merged = append(merged, t.errors[skill]...)

	seen := make(map[string]bool, len(merged))
	out := make([]string, 0, MaxErrors)
	for _, item := range merged {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
		if len(out) == MaxErrors {
			break
		}
	}
	t.errors[skill] = out
}

// CommonErrors returns a copy of every skill's recent-error list.
func (t *Tracker) CommonErrors() map[Skill][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[Skill][]string, len(Skills))
	for _, skill := range Skills {
		out[skill] = append([]string{}, t.errors[skill]...)
	}
	return out
}

// AddHistory appends a conversation turn used for prompt context.
func (t *Tracker) AddHistory(role Role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, Turn{Role: role, Content: content, Time: time.Now()})
}

// RecentHistory returns up to the last n turns, oldest first.
func (t *Tracker) RecentHistory(n int) []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	turns := t.turns
	if n >= 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]Turn(nil), turns...)
}

// Interactions returns how many history entries are held. A practice
// exchange adds two: the learner line and the reply.
func (t *Tracker) Interactions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Reset returns the tracker to its initial beginner state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	t.level = Beginner
	t.history = make(map[Skill][]int, len(Skills))
	t.errors = make(map[Skill][]string, len(Skills))
	t.turns = nil
}

// Snapshot is a read-only view of the tracker.
type Snapshot struct {
	Level        Level              `json:"level"`
	Averages     Averages           `json:"averages"`
	Overall      float64            `json:"overall"`
	Trend        bool               `json:"trend"`
	Scored       int                `json:"scored"`
	Interactions int                `json:"interactions"`
	FocusAreas   []SkillAverage     `json:"focusAreas"`
	CommonErrors map[Skill][]string `json:"commonErrors"`
}

// Snapshot captures the tracker state.
func (t *Tracker) Snapshot() Snapshot {
	focus := t.FocusAreas()
	errs := t.CommonErrors()

	t.mu.RLock()
	defer t.mu.RUnlock()
	avg := t.averagesLocked()
	return Snapshot{
		Level:        t.level,
		Averages:     avg,
		Overall:      avg.Overall(),
		Trend:        t.hasTrendLocked(),
		Scored:       len(t.history[Grammar]),
		Interactions: len(t.turns),
		FocusAreas:   focus,
		CommonErrors: errs,
	}
}

func mean(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func improving(h []int) bool {
	if len(h) < TrendWindow {
		return false
	}
	recent := h[len(h)-TrendWindow:]
	for i := 1; i < len(recent); i++ {
		if recent[i] < recent[i-1]-TrendTolerance {
			return false
		}
	}
	return true
}
