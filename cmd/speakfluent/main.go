// speakfluent: English-speaking practice server.
// Serves the practice page, scores each spoken turn with a remote language
// model and answers with a conversational reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/speakfluent/internal/config"
	"github.com/teslashibe/speakfluent/internal/log"
	"github.com/teslashibe/speakfluent/pkg/capture"
	"github.com/teslashibe/speakfluent/pkg/inference"
	"github.com/teslashibe/speakfluent/pkg/tts"
	"github.com/teslashibe/speakfluent/pkg/web"
)

var (
	version = "1.0.0"
	port    = flag.Int("port", 0, "HTTP server port (overrides PORT)")
	debug   = flag.Bool("debug", false, "Enable debug logging and request logs")
	envFile = flag.String("env-file", ".env", "Optional .env file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	logger := log.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting speakfluent", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llm, err := buildLLM(ctx, cfg, logger)
	if err != nil {
		logger.Error("language model unavailable", "error", err)
		os.Exit(1)
	}
	defer llm.Close()

	opts := []web.Option{
		web.WithPort(cfg.Port),
		web.WithDebug(cfg.Debug),
		web.WithVersion(version),
		web.WithSessionTTL(cfg.SessionTTL),
		web.WithSpeech(cfg.Speech.Lang, cfg.Speech.Rate),
		web.WithCapture(
			capture.WithMaxRetries(cfg.Capture.MaxRetries),
			capture.WithBackoff(cfg.Capture.RetryDelay, cfg.Capture.Backoff),
		),
		web.WithLogger(logger),
	}

	if cfg.Speech.Engine == config.EngineTTS {
		voice, err := buildTTS(cfg, logger)
		if err != nil {
			logger.Error("speech synthesis unavailable", "error", err)
			os.Exit(1)
		}
		defer voice.Close()
		opts = append(opts, web.WithTTS(voice))
	}

	server, err := web.NewServer(llm, opts...)
	if err != nil {
		logger.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("ready",
		"page", fmt.Sprintf("http://localhost:%d/", cfg.Port),
		"socket", fmt.Sprintf("ws://localhost:%d/ws/session", cfg.Port),
		"events", fmt.Sprintf("ws://localhost:%d/ws/events", cfg.Port),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("goodbye")
}

// buildLLM returns Gemini, the OpenAI-compatible fallback, or both chained
// in that order.
func buildLLM(ctx context.Context, cfg *config.Config, logger *slog.Logger) (inference.Provider, error) {
	common := []inference.Option{
		inference.WithTemperature(cfg.LLM.Temperature),
		inference.WithMaxTokens(cfg.LLM.MaxTokens),
		inference.WithTimeout(cfg.LLM.Timeout),
		inference.WithLogger(logger),
	}

	var providers []inference.Provider

	if cfg.LLM.HasGemini() {
		g, err := inference.NewGemini(ctx, append(common,
			inference.WithAPIKey(cfg.LLM.GeminiAPIKey),
			inference.WithAccessToken(cfg.LLM.GeminiAccessToken),
			inference.WithADC(cfg.LLM.GeminiUseADC),
			inference.WithModel(cfg.LLM.GeminiModel),
			inference.WithTopK(cfg.LLM.TopK),
			inference.WithTopP(cfg.LLM.TopP),
		)...)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		providers = append(providers, g)
		logger.Info("language model configured", "provider", g.Name(), "model", cfg.LLM.GeminiModel)
	}

	if cfg.LLM.HasFallback() {
		c, err := inference.NewClient(append(common,
			inference.WithBaseURL(cfg.LLM.FallbackBaseURL),
			inference.WithAPIKey(cfg.LLM.FallbackAPIKey),
			inference.WithModel(cfg.LLM.FallbackModel),
		)...)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		providers = append(providers, c)
		logger.Info("fallback model configured", "base_url", cfg.LLM.FallbackBaseURL, "model", cfg.LLM.FallbackModel)
	}

	switch len(providers) {
	case 0:
		return nil, errors.New("set GEMINI_API_KEY, GEMINI_ACCESS_TOKEN, GEMINI_USE_ADC or OPENAI_COMPAT_BASE_URL")
	case 1:
		return providers[0], nil
	default:
		return inference.NewChainWithLogger(logger, providers...)
	}
}

// buildTTS returns the configured synthesis providers, ElevenLabs first.
func buildTTS(cfg *config.Config, logger *slog.Logger) (tts.Provider, error) {
	var providers []tts.Provider

	if cfg.Speech.ElevenLabsAPIKey != "" {
		p, err := tts.NewElevenLabs(
			tts.WithAPIKey(cfg.Speech.ElevenLabsAPIKey),
			tts.WithVoice(tts.ResolveElevenLabsVoice(cfg.Speech.ElevenLabsVoice)),
			tts.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: %w", err)
		}
		providers = append(providers, p)
	}

	if cfg.Speech.OpenAIAPIKey != "" {
		p, err := tts.NewOpenAI(
			tts.WithAPIKey(cfg.Speech.OpenAIAPIKey),
			tts.WithVoice(cfg.Speech.OpenAIVoice),
			tts.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		providers = append(providers, p)
	}

	if len(providers) == 1 {
		return providers[0], nil
	}
	return tts.NewChainWithLogger(logger, providers...)
}
