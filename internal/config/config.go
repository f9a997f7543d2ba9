// Package config loads speakfluent configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Speech output engines.
const (
	EngineBrowser = "browser"
	EngineTTS     = "tts"
)

// Config holds all application configuration.
type Config struct {
	Port      int
	Debug     bool
	LogLevel  string
	LogFormat string

	LLM     LLMConfig
	Speech  SpeechConfig
	Capture CaptureConfig

	SessionTTL time.Duration
}

// LLMConfig configures the remote language model.
type LLMConfig struct {
	GeminiAPIKey      string
	GeminiAccessToken string
	GeminiUseADC      bool
	GeminiModel       string

	Temperature float64
	TopK        int
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration

	// Optional OpenAI-compatible fallback (OpenRouter, Ollama, vLLM...).
	FallbackBaseURL string
	FallbackAPIKey  string
	FallbackModel   string
}

// SpeechConfig configures speech output.
type SpeechConfig struct {
	Engine string
	Lang   string
	Rate   float64

	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	OpenAIAPIKey     string
	OpenAIVoice      string
}

// CaptureConfig configures speech capture retries.
type CaptureConfig struct {
	MaxRetries int
	RetryDelay time.Duration
	Backoff    float64
}

// HasGemini reports whether any Gemini credential is configured.
func (c LLMConfig) HasGemini() bool {
	return c.GeminiAPIKey != "" || c.GeminiAccessToken != "" || c.GeminiUseADC
}

// HasFallback reports whether the OpenAI-compatible fallback is configured.
func (c LLMConfig) HasFallback() bool {
	return c.FallbackBaseURL != ""
}

// Load reads an optional .env file and then the environment.
// A missing env file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Port:      getEnvInt("PORT", 8080),
		Debug:     getEnvBool("DEBUG", false),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LLM: LLMConfig{
			GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
			GeminiAccessToken: getEnv("GEMINI_ACCESS_TOKEN", ""),
			GeminiUseADC:      getEnvBool("GEMINI_USE_ADC", false),
			GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			Temperature:       getEnvFloat("LLM_TEMPERATURE", 0.7),
			TopK:              getEnvInt("LLM_TOP_K", 40),
			TopP:              getEnvFloat("LLM_TOP_P", 0.95),
			MaxTokens:         getEnvInt("LLM_MAX_TOKENS", 1024),
			Timeout:           getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			FallbackBaseURL:   getEnv("OPENAI_COMPAT_BASE_URL", ""),
			FallbackAPIKey:    getEnv("OPENAI_COMPAT_API_KEY", ""),
			FallbackModel:     getEnv("OPENAI_COMPAT_MODEL", "gpt-4o-mini"),
		},
		Speech: SpeechConfig{
			Engine:           strings.ToLower(getEnv("SPEECH_ENGINE", EngineBrowser)),
			Lang:             getEnv("SPEECH_LANG", "en-US"),
			Rate:             getEnvFloat("SPEECH_RATE", 0.9),
			ElevenLabsAPIKey: getEnv("ELEVENLABS_API_KEY", ""),
			ElevenLabsVoice:  getEnv("ELEVENLABS_VOICE", "rachel"),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIVoice:      getEnv("OPENAI_TTS_VOICE", "nova"),
		},
		Capture: CaptureConfig{
			MaxRetries: getEnvInt("CAPTURE_MAX_RETRIES", 3),
			RetryDelay: getEnvDuration("CAPTURE_RETRY_DELAY", 1500*time.Millisecond),
			Backoff:    getEnvFloat("CAPTURE_BACKOFF", 1.5),
		},
		SessionTTL: getEnvDuration("SESSION_TTL", 30*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.Speech.Engine {
	case EngineBrowser:
	case EngineTTS:
		if c.Speech.ElevenLabsAPIKey == "" && c.Speech.OpenAIAPIKey == "" {
			return fmt.Errorf("SPEECH_ENGINE=tts requires ELEVENLABS_API_KEY or OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("SPEECH_ENGINE must be %q or %q, got %q", EngineBrowser, EngineTTS, c.Speech.Engine)
	}
	if !strings.Contains(c.Speech.Lang, "-") {
		return fmt.Errorf("SPEECH_LANG must be a BCP 47 tag like en-US, got %q", c.Speech.Lang)
	}
	if c.Speech.Rate <= 0 {
		return fmt.Errorf("SPEECH_RATE must be > 0")
	}
	if c.Capture.MaxRetries < 0 {
		return fmt.Errorf("CAPTURE_MAX_RETRIES must be >= 0")
	}
	if c.Capture.RetryDelay <= 0 {
		return fmt.Errorf("CAPTURE_RETRY_DELAY must be > 0")
	}
	if c.Capture.Backoff < 1 {
		return fmt.Errorf("CAPTURE_BACKOFF must be >= 1")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
