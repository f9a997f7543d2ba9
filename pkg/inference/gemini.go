package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/teslashibe/speakfluent/internal/httpc"
)

const providerGemini = "gemini"

// GeminiScope is the OAuth scope for the Generative Language API.
const GeminiScope = "https://www.googleapis.com/auth/generative-language"

// Gemini implements the Provider interface for Google's Gemini API.
//
// Credentials are tried in order: API key, static access token, then
// application default credentials.
type Gemini struct {
	apiKey string
	config *Config
	http   *http.Client
	req    *httpc.Retrier
	logger *slog.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultGeminiConfig()
	cfg.Apply(opts...)

	client, err := geminiHTTPClient(ctx, cfg)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	g := &Gemini{
		apiKey: cfg.APIKey,
		config: cfg,
		http:   client,
		logger: cfg.Logger.With("component", "inference.gemini"),
	}
	g.req = &httpc.Retrier{
		Client:     client,
		Logger:     g.logger,
		MaxRetries: cfg.MaxRetries,
		Delay:      cfg.RetryDelay,
		Decode:     g.parseError,
		Wrap:       func(err error) error { return WrapError(providerGemini, err) },
	}
	return g, nil
}

// geminiHTTPClient picks the transport for the configured credentials.
func geminiHTTPClient(ctx context.Context, cfg *Config) (*http.Client, error) {
	if cfg.HTTPClient != nil {
		if cfg.APIKey == "" && cfg.AccessToken == "" && !cfg.UseADC {
			return nil, ErrNoCredentials
		}
		return cfg.HTTPClient, nil
	}

	var ts oauth2.TokenSource
	switch {
	case cfg.APIKey != "":
		return httpc.New(cfg.Timeout), nil
	case cfg.AccessToken != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
	case cfg.UseADC:
		var err error
		ts, err = google.DefaultTokenSource(ctx, GeminiScope)
		if err != nil {
			return nil, fmt.Errorf("default credentials: %w", err)
		}
	default:
		return nil, ErrNoCredentials
	}

	client, _, err := htransport.NewClient(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("authorized transport: %w", err)
	}
	return httpc.Wrap(client.Transport, cfg.Timeout), nil
}

// Name returns the provider name.
func (g *Gemini) Name() string { return providerGemini }

// Chat generates content with Gemini's generateContent endpoint.
func (g *Gemini) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	body, err := json.Marshal(g.buildPayload(req))
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimSuffix(g.config.BaseURL, "/"), model)
	resp, err := g.req.Do(ctx, http.MethodPost, url, body, g.header())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, g.parseError(resp)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("decode response: %w", err))
	}

	if result.PromptFeedback.BlockReason != "" {
		return nil, WrapError(providerGemini, fmt.Errorf("%w: %s", ErrBlocked, result.PromptFeedback.BlockReason))
	}
	if len(result.Candidates) == 0 {
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}

	cand := result.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}

	g.logger.Debug("generated",
		"model", model,
		"finish", cand.FinishReason,
		"tokens", result.UsageMetadata.TotalTokenCount,
	)

	return &ChatResponse{
		Message:      NewAssistantMessage(text.String()),
		FinishReason: cand.FinishReason,
		Usage: Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health checks API connectivity by fetching the configured model.
func (g *Gemini) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/models/%s", strings.TrimSuffix(g.config.BaseURL, "/"), g.config.Model)
	resp, err := g.req.Do(ctx, http.MethodGet, url, nil, g.header())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}

func (g *Gemini) header() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		h.Set("x-goog-api-key", g.apiKey)
	}
	return h
}

func (g *Gemini) buildPayload(req *ChatRequest) map[string]any {
	system, turns := splitSystem(req.Messages)

	contents := make([]map[string]any, 0, len(turns))
	for _, msg := range turns {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": msg.Content}},
		})
	}

	gen := map[string]any{
		"temperature":     pickFloat(req.Temperature, g.config.Temperature),
		"topK":            pickInt(req.TopK, g.config.TopK),
		"topP":            pickFloat(req.TopP, g.config.TopP),
		"maxOutputTokens": pickInt(req.MaxTokens, g.config.MaxTokens),
	}
	if len(req.Stop) > 0 {
		gen["stopSequences"] = req.Stop
	}
	if req.JSON {
		gen["responseMimeType"] = "application/json"
	}

	payload := map[string]any{
		"contents":         contents,
		"generationConfig": gen,
	}
	if len(system) > 0 {
		payload["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": strings.Join(system, "\n\n")}},
		}
	}
	return payload
}

// parseError reads and parses an error response.
func (g *Gemini) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerGemini,
	}
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func pickFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func pickInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

// Verify Gemini implements Provider at compile time.
var _ Provider = (*Gemini)(nil)
