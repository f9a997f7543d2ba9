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
	openAIBaseURL  = "https://api.openai.com/v1"
	providerOpenAI = "openai"
)

// OpenAI voice options
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI speed bounds.
const (
	openAIMinSpeed = 0.25
	openAIMaxSpeed = 4.0
)

// openAIVoices is the fixed OpenAI voice catalog.
var openAIVoices = []Voice{
	{ID: VoiceAlloy, Name: "Alloy", Lang: "en-US", Gender: "neutral"},
	{ID: VoiceEcho, Name: "Echo", Lang: "en-US", Gender: "male"},
	{ID: VoiceFable, Name: "Fable", Lang: "en-GB", Gender: "male"},
	{ID: VoiceOnyx, Name: "Onyx", Lang: "en-US", Gender: "male"},
	{ID: VoiceNova, Name: "Nova", Lang: "en-US", Gender: "female"},
	{ID: VoiceShimmer, Name: "Shimmer", Lang: "en-US", Gender: "female"},
}

// OpenAI implements Provider for OpenAI TTS.
type OpenAI struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
	http    *httpc.Retrier
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceNova
	cfg.Apply(opts...)

	if err := cfg.Validate(false); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceNova
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	o := &OpenAI{
		config:  cfg,
		client:  httpc.New(cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts.openai"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	o.http = &httpc.Retrier{
		Client:     o.client,
		Logger:     o.logger,
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
		Decode:     o.parseError,
		Wrap:       func(err error) error { return WrapError(providerOpenAI, err) },
	}
	return o, nil
}

// Name returns the provider name.
func (o *OpenAI) Name() string { return providerOpenAI }

// Synthesize converts text to MP3 audio.
func (o *OpenAI) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyText)
	}
	start := time.Now()

	voice := o.config.VoiceID
	if req.Voice != "" {
		voice = req.Voice
	}

	payload := map[string]any{
		"model":           o.config.ModelID,
		"voice":           voice,
		"input":           req.Text,
		"response_format": "mp3",
		"speed":           math.Max(openAIMinSpeed, math.Min(openAIMaxSpeed, speedOrDefault(req.Speed))),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := o.http.Do(ctx, http.MethodPost, o.baseURL+"/audio/speech", body, o.headers())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		return nil, o.parseError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("read response: %w", err))
	}

	o.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", voice,
	)

	return &AudioResult{
		Audio: audio,
		Format: AudioFormat{
			Encoding:   EncodingMP3,
			SampleRate: 44100,
			Channels:   1,
		},
		CharCount: len(req.Text),
		LatencyMs: latency,
	}, nil
}

// Voices returns the fixed OpenAI voice catalog.
func (o *OpenAI) Voices(ctx context.Context) ([]Voice, error) {
	return append([]Voice(nil), openAIVoices...), nil
}

// Health checks API connectivity via the models endpoint.
func (o *OpenAI) Health(ctx context.Context) error {
	resp, err := o.http.Do(ctx, http.MethodGet, o.baseURL+"/models", nil, o.headers())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return o.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func (o *OpenAI) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+o.config.APIKey)
	h.Set("Content-Type", "application/json")
	return h
}

func (o *OpenAI) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Code
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerOpenAI,
	}
}

// Verify OpenAI implements Provider at compile time.
var _ Provider = (*OpenAI)(nil)
