package tutor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teslashibe/speakfluent/pkg/progress"
)

// learnerContext is the slice of progress state every prompt carries.
type learnerContext struct {
	Level        progress.Level
	Interactions int
	CommonErrors string
	Recent       []progress.Turn
	Averages     progress.Averages
	Focus        []progress.SkillAverage
}

func contextFrom(t *progress.Tracker, recent int) learnerContext {
	errs, err := json.Marshal(t.CommonErrors())
	if err != nil {
		errs = []byte("{}")
	}
	return learnerContext{
		Level:        t.Level(),
		Interactions: t.Interactions(),
		CommonErrors: string(errs),
		Recent:       t.RecentHistory(recent),
		Averages:     t.Averages(),
		Focus:        t.FocusAreas(),
	}
}

func (c learnerContext) recentLines() string {
	lines := make([]string, len(c.Recent))
	for i, turn := range c.Recent {
		lines[i] = fmt.Sprintf("%s: %s", turn.Role, turn.Content)
	}
	return strings.Join(lines, "\n")
}

func (c learnerContext) focusList(sep, prefix string) string {
	parts := make([]string, len(c.Focus))
	for i, f := range c.Focus {
		parts[i] = fmt.Sprintf("%s%s: %.1f", prefix, f.Skill, f.Average)
	}
	return strings.Join(parts, sep)
}

func (c learnerContext) advanced() bool {
	return c.Level == progress.Advanced
}

// tutorInstruction is the system instruction for conversational calls.
const tutorInstruction = "You are a friendly English speaking tutor. Answer in plain spoken English, without markdown or lists."

// replyMaxTokens caps conversational replies, which are kept under 50 words.
const replyMaxTokens = 200

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}

func feedbackPrompt(input string, c learnerContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "As an expert English teacher, analyze this voice transcript and give feedback on spoken English:\n%q\n\n", input)

	b.WriteString("Learner profile:\n")
	fmt.Fprintf(&b, "- Current level: %s\n", c.Level)
	fmt.Fprintf(&b, "- Learning history: %d interactions\n", c.Interactions)
	fmt.Fprintf(&b, "- Common errors: %s\n\n", c.CommonErrors)

	fmt.Fprintf(&b, "Recent conversation:\n%s\n\n", c.recentLines())

	b.WriteString("Average scores:\n")
	for _, skill := range progress.Skills {
		fmt.Fprintf(&b, "- %s: %.1f/10\n", skill, c.Averages.Get(skill))
	}
	fmt.Fprintf(&b, "\nFocus areas (lowest first):\n%s\n\n", c.focusList("\n", "- "))

	adv := c.advanced()
	b.WriteString("Score each skill from 0 to 10:\n")
	fmt.Fprintf(&b, "1. Grammar: spoken sentence structure, natural speech patterns, %s.\n",
		pick(adv, "complex spoken structures", "basic spoken patterns"))
	fmt.Fprintf(&b, "2. Vocabulary: natural word choice, everyday expressions, %s.\n",
		pick(adv, "idiomatic expressions", "common spoken words"))
	fmt.Fprintf(&b, "3. Pronunciation: sound accuracy, word stress, intonation, %s.\n",
		pick(adv, "advanced intonation", "clear pronunciation and basic rhythm"))
	fmt.Fprintf(&b, "4. Fluency: speech flow, rhythm, pauses, %s.\n\n",
		pick(adv, "smooth transitions", "clear delivery"))

	b.WriteString(`Reply with JSON only, in this shape:
{
  "correctedText": "<natural spoken version>",
  "grammar": <score>,
  "vocabulary": <score>,
  "pronunciation": <score>,
  "fluency": <score>,
  "suggestions": ["<specific improvement>", "<natural speech suggestion>", "<level-based challenge>"],
  "practiceTips": [
    {"title": "<practice area>", "description": "<explanation>", "example": "<example from the conversation>", "focusArea": "<grammar|vocabulary|pronunciation|fluency>"}
  ]
}

`)
	fmt.Fprintf(&b, "Judge spoken English, not punctuation. Match feedback to the %s level, address recurring patterns and stay encouraging.\n", c.Level)
	return b.String()
}

func replyPrompt(input string, c learnerContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "As an English tutor, respond to: %q\n\n", input)
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "- User level: %s\n", c.Level)
	fmt.Fprintf(&b, "- Common errors: %s\n", c.CommonErrors)
	fmt.Fprintf(&b, "- Recent messages:\n%s\n", c.recentLines())
	fmt.Fprintf(&b, "- Focus areas: %s\n\n", c.focusList(", ", ""))
	fmt.Fprintf(&b, `Requirements:
1. Match the %s level
2. Address common errors naturally
3. Encourage improvement in weak areas
4. Keep the response under 50 words
5. Use a natural conversation style
6. Include subtle corrections
7. Ask a relevant follow-up question
8. Start fresh if the user mentions "new conversation"
`, c.Level)
	return b.String()
}

func commandPrompt(command string, c learnerContext) string {
	last := "None"
	if n := len(c.Recent); n > 0 {
		last = c.Recent[n-1].Content
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Process this English learning voice command: %q\n\n", command)
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "- User level: %s\n", c.Level)
	fmt.Fprintf(&b, "- Common errors: %s\n", c.CommonErrors)
	fmt.Fprintf(&b, "- Recent interaction: %s\n", last)
	fmt.Fprintf(&b, "- Learning focus: %s\n\n", c.focusList(", ", ""))
	fmt.Fprintf(&b, `Command types:
- Repeat request: reply with exactly %s
- Slower speech: reply with exactly %s
- Explanations: give a level-appropriate explanation
- Help requests: give specific guidance
- Definitions: explain with relevant examples

Match the %s level. Keep explanations concise, natural and practical.
`, CommandRepeatLast, CommandSpeakSlower, c.Level)
	return b.String()
}
