package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",
		LLM: LLMConfig{
			GeminiModel: "gemini-1.5-flash",
			Temperature: 0.7,
			TopK:        40,
			TopP:        0.95,
			MaxTokens:   1024,
			Timeout:     30 * time.Second,
		},
		Speech: SpeechConfig{
			Engine: EngineBrowser,
			Lang:   "en-US",
			Rate:   0.9,
		},
		Capture: CaptureConfig{
			MaxRetries: 3,
			RetryDelay: 1500 * time.Millisecond,
			Backoff:    1.5,
		},
		SessionTTL: 30 * time.Minute,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = 0 }, "PORT"},
		{"unknown engine", func(c *Config) { c.Speech.Engine = "espeak" }, "SPEECH_ENGINE"},
		{"tts without keys", func(c *Config) { c.Speech.Engine = EngineTTS }, "requires"},
		{"tts with elevenlabs", func(c *Config) {
			c.Speech.Engine = EngineTTS
			c.Speech.ElevenLabsAPIKey = "k"
		}, ""},
		{"bare language", func(c *Config) { c.Speech.Lang = "en" }, "SPEECH_LANG"},
		{"zero rate", func(c *Config) { c.Speech.Rate = 0 }, "SPEECH_RATE"},
		{"negative retries", func(c *Config) { c.Capture.MaxRetries = -1 }, "CAPTURE_MAX_RETRIES"},
		{"shrinking backoff", func(c *Config) { c.Capture.Backoff = 0.5 }, "CAPTURE_BACKOFF"},
		{"hot temperature", func(c *Config) { c.LLM.Temperature = 3 }, "LLM_TEMPERATURE"},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("LLM_TOP_K", "20")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("CAPTURE_RETRY_DELAY", "2s")
	t.Setenv("SPEECH_ENGINE", "Browser")
	t.Setenv("GEMINI_USE_ADC", "yes")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LLM.GeminiAPIKey != "gem-key" || !cfg.LLM.HasGemini() {
		t.Error("expected Gemini key to be loaded")
	}
	if !cfg.LLM.GeminiUseADC {
		t.Error("expected GEMINI_USE_ADC=yes to parse as true")
	}
	if cfg.LLM.TopK != 20 {
		t.Errorf("TopK = %d, want 20", cfg.LLM.TopK)
	}
	if cfg.LLM.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.LLM.Timeout)
	}
	if cfg.Capture.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %v, want 2s", cfg.Capture.RetryDelay)
	}
	if cfg.Speech.Engine != EngineBrowser {
		t.Errorf("Engine = %q, want lowercased browser", cfg.Speech.Engine)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("OPENAI_COMPAT_BASE_URL=http://localhost:11434/v1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_COMPAT_BASE_URL", "")
	os.Unsetenv("OPENAI_COMPAT_BASE_URL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.LLM.HasFallback() {
		t.Error("expected fallback URL from .env file")
	}
}

func TestLoadMissingEnvFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored, got %v", err)
	}
}

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("SF_TEST_INT", "nope")
	t.Setenv("SF_TEST_BOOL", "maybe")
	t.Setenv("SF_TEST_FLOAT", "x")
	t.Setenv("SF_TEST_DUR", "soon")

	if got := getEnvInt("SF_TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt = %d, want fallback 7", got)
	}
	if got := getEnvBool("SF_TEST_BOOL", true); !got {
		t.Error("getEnvBool should fall back on unparseable value")
	}
	if got := getEnvFloat("SF_TEST_FLOAT", 1.5); got != 1.5 {
		t.Errorf("getEnvFloat = %v, want 1.5", got)
	}
	if got := getEnvDuration("SF_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("getEnvDuration = %v, want 1s", got)
	}
}
