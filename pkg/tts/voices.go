package tts

// ElevenLabsPreset is a named premade ElevenLabs voice.
type ElevenLabsPreset struct {
	ID     string
	Lang   string
	Gender string
}

// ElevenLabsVoices maps friendly preset names to ElevenLabs voices.
// Use ResolveElevenLabsVoice to look up a voice by name or pass through raw IDs.
var ElevenLabsVoices = map[string]ElevenLabsPreset{
	"rachel":    {ID: "21m00Tcm4TlvDq8ikWAM", Lang: "en-US", Gender: "female"}, // calm
	"sarah":     {ID: "EXAVITQu4vr4xnSDxMaL", Lang: "en-US", Gender: "female"}, // soft
	"aria":      {ID: "9BWtsMINqrJLrRacOk9x", Lang: "en-US", Gender: "female"}, // expressive
	"charlotte": {ID: "XB0fDUnXU5powFXDhCwa", Lang: "en-GB", Gender: "female"}, // warm
	"lily":      {ID: "pFZP5JQG7iQjIQuC4Bku", Lang: "en-GB", Gender: "female"},
	"josh":      {ID: "TxGEqnHWrfWFTfGW9XjX", Lang: "en-US", Gender: "male"},
	"adam":      {ID: "pNInz6obpgDQGcFmaJgB", Lang: "en-US", Gender: "male"},
}

// DefaultElevenLabsVoice is the default voice preset.
const DefaultElevenLabsVoice = "rachel"

// ResolveElevenLabsVoice returns the voice ID for a preset name,
// or the input unchanged if it's already a voice ID.
func ResolveElevenLabsVoice(name string) string {
	if p, ok := ElevenLabsVoices[name]; ok {
		return p.ID
	}
	return name
}

// IsElevenLabsPreset returns true if the name is a known preset.
func IsElevenLabsPreset(name string) bool {
	_, ok := ElevenLabsVoices[name]
	return ok
}
