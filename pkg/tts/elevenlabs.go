package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/speakfluent/internal/httpc"
)

const (
	elevenLabsBaseURL  = "https://api.elevenlabs.io/v1"
	providerElevenLabs = "elevenlabs"
)

// ElevenLabs model IDs
const (
	// ModelTurboV2_5 is the fastest English model.
	ModelTurboV2_5 = "eleven_turbo_v2_5"

	// ModelMultilingualV2 is the highest quality multilingual model.
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs speed bounds accepted in voice_settings.
const (
	elevenLabsMinSpeed = 0.7
	elevenLabsMaxSpeed = 1.2
)

// ElevenLabs implements Provider for ElevenLabs TTS.
type ElevenLabs struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
	http    *httpc.Retrier
}

// NewElevenLabs creates a new ElevenLabs TTS provider.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.VoiceID = DefaultElevenLabsVoice
	cfg.Apply(opts...)

	if err := cfg.Validate(true); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}

	e := &ElevenLabs{
		config:  cfg,
		client:  httpc.New(cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts.elevenlabs"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	e.http = &httpc.Retrier{
		Client:     e.client,
		Logger:     e.logger,
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
		Decode:     e.parseError,
		Wrap:       func(err error) error { return WrapError(providerElevenLabs, err) },
	}
	return e, nil
}

// Name returns the provider name.
func (e *ElevenLabs) Name() string { return providerElevenLabs }

// Synthesize converts text to audio, returning the complete audio buffer.
func (e *ElevenLabs) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, WrapError(providerElevenLabs, ErrEmptyText)
	}
	start := time.Now()

	voiceID := e.config.VoiceID
	if req.Voice != "" {
		voiceID = req.Voice
	}
	voiceID = ResolveElevenLabsVoice(voiceID)

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", e.baseURL, voiceID, e.config.OutputFormat)

	body, err := json.Marshal(e.buildPayload(req))
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := e.http.Do(ctx, http.MethodPost, url, body, e.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		return nil, e.parseError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("read response: %w", err))
	}

	e.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", voiceID,
	)

	return &AudioResult{
		Audio: audio,
		Format: AudioFormat{
			Encoding:   e.config.OutputFormat,
			SampleRate: SampleRateFromEncoding(e.config.OutputFormat),
			Channels:   1,
			BitDepth:   16,
		},
		CharCount: len(req.Text),
		LatencyMs: latency,
	}, nil
}

type elevenLabsVoice struct {
	VoiceID string            `json:"voice_id"`
	Name    string            `json:"name"`
	Labels  map[string]string `json:"labels"`
}

// Voices lists the account's voices with their gender labels.
func (e *ElevenLabs) Voices(ctx context.Context) ([]Voice, error) {
	resp, err := e.http.Do(ctx, http.MethodGet, e.baseURL+"/voices", nil, e.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, e.parseError(resp)
	}

	var out struct {
		Voices []elevenLabsVoice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, WrapError(providerElevenLabs, fmt.Errorf("decode voices: %w", err))
	}

	voices := make([]Voice, 0, len(out.Voices))
	for _, v := range out.Voices {
		voices = append(voices, Voice{
			ID:     v.VoiceID,
			Name:   v.Name,
			Lang:   langFromAccent(v.Labels["accent"]),
			Gender: strings.ToLower(v.Labels["gender"]),
		})
	}
	return voices, nil
}

// Health checks API connectivity and API key validity.
func (e *ElevenLabs) Health(ctx context.Context) error {
	resp, err := e.http.Do(ctx, http.MethodGet, e.baseURL+"/user", nil, e.headers())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.parseError(resp)
	}
	return nil
}

// Close releases resources held by the provider.
func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *ElevenLabs) buildPayload(req *Request) map[string]any {
	speed := math.Max(elevenLabsMinSpeed, math.Min(elevenLabsMaxSpeed, speedOrDefault(req.Speed)))
	return map[string]any{
		"text":     req.Text,
		"model_id": e.config.ModelID,
		"voice_settings": map[string]any{
			"stability":         e.config.VoiceSettings.Stability,
			"similarity_boost":  e.config.VoiceSettings.SimilarityBoost,
			"style":             e.config.VoiceSettings.Style,
			"use_speaker_boost": e.config.VoiceSettings.SpeakerBoost,
			"speed":             speed,
		},
	}
}

func (e *ElevenLabs) headers() http.Header {
	h := http.Header{}
	h.Set("xi-api-key", e.config.APIKey)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", e.config.OutputFormat.MIME())
	return h
}

func (e *ElevenLabs) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Detail.Message != "" {
		message = errResp.Detail.Message
		code = errResp.Detail.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerElevenLabs,
	}
}

func langFromAccent(accent string) string {
	switch strings.ToLower(accent) {
	case "american":
		return "en-US"
	case "british":
		return "en-GB"
	case "australian":
		return "en-AU"
	case "irish":
		return "en-IE"
	case "indian":
		return "en-IN"
	default:
		return "en-US"
	}
}

// Verify ElevenLabs implements Provider at compile time.
var _ Provider = (*ElevenLabs)(nil)
