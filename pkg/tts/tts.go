// Package tts provides server-side text-to-speech for tutor replies.
//
// Providers return complete audio buffers that the practice page plays
// directly, so the default output is MP3. ElevenLabs and OpenAI are
// supported; Chain tries providers in order.
//
// Example usage:
//
//	provider, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice("rachel"),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, &tts.Request{Text: "Hello!", Speed: 0.9})
//	// result.Audio holds MP3 bytes
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Synthesize converts text to a complete audio buffer.
	Synthesize(ctx context.Context, req *Request) (*AudioResult, error)

	// Voices lists the voices the provider offers.
	Voices(ctx context.Context) ([]Voice, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Request is one synthesis request.
type Request struct {
	Text string

	// Voice overrides the configured voice. Empty uses the default.
	Voice string

	// Speed is the playback rate; 1.0 is normal. Zero means normal.
	Speed float64
}

// Voice describes a provider voice.
type Voice struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Lang   string `json:"lang"`
	Gender string `json:"gender,omitempty"`
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the encoded audio data.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the estimated playback duration, when known.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round-trip time in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding represents audio encoding types.
// These match ElevenLabs output format options.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	EncodingMP3 Encoding = "mp3_44100_128"
)

// MIME returns the content type browsers expect for the encoding.
func (e Encoding) MIME() string {
	switch e {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 44100
	}
}

// VoiceSettings controls ElevenLabs voice characteristics.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0).
	Style float64

	// SpeakerBoost enhances speaker clarity.
	SpeakerBoost bool
}

// DefaultVoiceSettings returns calm, clear settings suited to a tutor.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.6,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

func speedOrDefault(speed float64) float64 {
	if speed <= 0 {
		return 1.0
	}
	return speed
}
