// Package feedback parses, validates and synthesizes per-utterance feedback.
package feedback

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/teslashibe/speakfluent/pkg/progress"
)

// Source records where a Feedback came from.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// PracticeTip is a focused exercise suggestion.
type PracticeTip struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Example     string         `json:"example"`
	FocusArea   progress.Skill `json:"focusArea"`
}

// Feedback is the scored assessment of one user utterance.
// A new value replaces the previous one; it is never mutated in place.
type Feedback struct {
	CorrectedText string        `json:"correctedText"`
	Grammar       int           `json:"grammar"`
	Vocabulary    int           `json:"vocabulary"`
	Pronunciation int           `json:"pronunciation"`
	Fluency       int           `json:"fluency"`
	Suggestions   []string      `json:"suggestions"`
	PracticeTips  []PracticeTip `json:"practiceTips"`
	Source        Source        `json:"source"`
}

// Scores returns the four skill scores.
func (f *Feedback) Scores() progress.Scores {
	return progress.Scores{
		Grammar:       f.Grammar,
		Vocabulary:    f.Vocabulary,
		Pronunciation: f.Pronunciation,
		Fluency:       f.Fluency,
	}
}

// Sentinel errors for structured reply parsing.
var (
	// ErrEmptyReply is returned when the reply has no content after cleanup.
	ErrEmptyReply = errors.New("feedback: empty reply")

	// ErrMalformed is returned when the reply is not a JSON object.
	ErrMalformed = errors.New("feedback: malformed reply")
)

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("feedback: invalid field %q: %s", e.Field, e.Reason)
}

var fencePattern = regexp.MustCompile("\\n?```(?:json|JSON)?\\s*|```")

// StripCodeFence removes markdown code fences around a structured reply.
func StripCodeFence(text string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(strings.TrimSpace(text), ""))
}

// Parse decodes a structured feedback reply and normalizes its scores.
// Any missing or mistyped required field returns a *ValidationError.
func Parse(text string) (*Feedback, error) {
	cleaned := StripCodeFence(text)
	if cleaned == "" {
		return nil, ErrEmptyReply
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	fb := &Feedback{Source: SourceRemote}

	if err := decodeString(raw, "correctedText", &fb.CorrectedText); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fb.CorrectedText) == "" {
		return nil, &ValidationError{Field: "correctedText", Reason: "empty"}
	}

	scores := map[string]*int{
		"grammar":       &fb.Grammar,
		"vocabulary":    &fb.Vocabulary,
		"pronunciation": &fb.Pronunciation,
		"fluency":       &fb.Fluency,
	}
	for _, skill := range progress.Skills {
		var n float64
		if err := decodeNumber(raw, string(skill), &n); err != nil {
			return nil, err
		}
		*scores[string(skill)] = progress.Normalize(n)
	}

	suggestions, err := decodeArray(raw, "suggestions")
	if err != nil {
		return nil, err
	}
	for _, item := range suggestions {
		var s string
		if json.Unmarshal(item, &s) == nil && strings.TrimSpace(s) != "" {
			fb.Suggestions = append(fb.Suggestions, s)
		}
	}

	tips, err := decodeArray(raw, "practiceTips")
	if err != nil {
		return nil, err
	}
	for _, item := range tips {
		var tip PracticeTip
		if json.Unmarshal(item, &tip) != nil {
			continue
		}
		tip.FocusArea = progress.Skill(strings.ToLower(string(tip.FocusArea)))
		if tip.Title == "" || !tip.FocusArea.Valid() {
			continue
		}
		fb.PracticeTips = append(fb.PracticeTips, tip)
	}

	if fb.Suggestions == nil {
		fb.Suggestions = []string{}
	}
	if fb.PracticeTips == nil {
		fb.PracticeTips = []PracticeTip{}
	}
	return fb, nil
}

func decodeString(raw map[string]json.RawMessage, field string, dst *string) error {
	v, ok := raw[field]
	if !ok || isNull(v) {
		return &ValidationError{Field: field, Reason: "missing"}
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return &ValidationError{Field: field, Reason: "not a string"}
	}
	return nil
}

func decodeNumber(raw map[string]json.RawMessage, field string, dst *float64) error {
	v, ok := raw[field]
	if !ok || isNull(v) {
		return &ValidationError{Field: field, Reason: "missing"}
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return &ValidationError{Field: field, Reason: "not a number"}
	}
	return nil
}

func decodeArray(raw map[string]json.RawMessage, field string) ([]json.RawMessage, error) {
	v, ok := raw[field]
	if !ok || isNull(v) {
		return nil, &ValidationError{Field: field, Reason: "missing"}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, &ValidationError{Field: field, Reason: "not an array"}
	}
	return items, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
