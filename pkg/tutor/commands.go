package tutor

import "strings"

// Sentinels the command prompt may answer with instead of free text.
const (
	CommandRepeatLast  = "COMMAND_REPEAT_LAST"
	CommandSpeakSlower = "COMMAND_SPEAK_SLOWER"
)

// resetPhrase in a transcript starts a fresh learner context after the turn.
const resetPhrase = "new conversation"

// IsCommand reports whether a transcript is addressed to the tutor rather
// than being a practice utterance.
func IsCommand(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return strings.HasPrefix(t, "hey") ||
		strings.Contains(t, "repeat") ||
		strings.Contains(t, "explain") ||
		strings.Contains(t, "what is")
}

// WantsReset reports whether the learner asked for a new conversation.
func WantsReset(text string) bool {
	return strings.Contains(strings.ToLower(text), resetPhrase)
}

// sentinel returns the command sentinel in reply, or "" for free text.
// Models sometimes quote the token or add a trailing period.
func sentinel(reply string) string {
	t := strings.Trim(strings.TrimSpace(reply), "\"'`.")
	switch strings.ToUpper(t) {
	case CommandRepeatLast:
		return CommandRepeatLast
	case CommandSpeakSlower:
		return CommandSpeakSlower
	}
	return ""
}
