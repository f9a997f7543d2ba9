package inference

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMockProvider(t *testing.T) {
	ctx := context.Background()
	mock := NewMock()

	resp, err := mock.Chat(ctx, &ChatRequest{
		Messages: []Message{NewUserMessage("Hello")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content == "" {
		t.Error("Expected content in response")
	}
	if resp.FinishReason != "stop" {
		t.Errorf("Expected finish_reason 'stop', got %s", resp.FinishReason)
	}

	if err := mock.Health(ctx); err != nil {
		t.Errorf("Health failed: %v", err)
	}

	if mock.CallCount("Chat") != 1 {
		t.Errorf("Expected 1 Chat call, got %d", mock.CallCount("Chat"))
	}
	if len(mock.Calls()) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(mock.Calls()))
	}
	if last := mock.LastCall(); last == nil || last.Method != "Health" {
		t.Errorf("LastCall = %+v", last)
	}

	mock.Reset()
	if len(mock.Calls()) != 0 {
		t.Error("Expected 0 calls after reset")
	}
}

func TestMockWithError(t *testing.T) {
	ctx := context.Background()
	testErr := errors.New("test error")
	mock := WithError(testErr)

	if _, err := mock.Chat(ctx, &ChatRequest{}); err != testErr {
		t.Errorf("Expected test error, got %v", err)
	}
	if err := mock.Health(ctx); err != testErr {
		t.Errorf("Expected test error, got %v", err)
	}
}

func TestScriptedMock(t *testing.T) {
	ctx := context.Background()
	mock := NewScripted("first", "second")

	for _, want := range []string{"first", "second"} {
		got, err := Generate(ctx, mock, "prompt "+want)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}

	if _, err := Generate(ctx, mock, "again"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}

	prompts := mock.Prompts()
	if len(prompts) != 3 || prompts[0] != "prompt first" {
		t.Errorf("Prompts = %v", prompts)
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("trims reply", func(t *testing.T) {
		mock := NewScripted("  hello there \n")
		got, err := Generate(ctx, mock, "hi")
		if err != nil || got != "hello there" {
			t.Errorf("Generate = %q, %v", got, err)
		}
	})

	t.Run("blank reply is an error", func(t *testing.T) {
		mock := NewScripted("   ")
		if _, err := Generate(ctx, mock, "hi"); !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("options shape the request", func(t *testing.T) {
		mock := NewScripted("{}")
		_, err := Generate(ctx, mock, "score", AsJSON(), WithSystem("be strict"), WithRequestMaxTokens(64))
		if err != nil {
			t.Fatal(err)
		}
		req := mock.LastCall().Request
		if !req.JSON || req.MaxTokens != 64 {
			t.Errorf("request = %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
			t.Errorf("messages = %+v", req.Messages)
		}
	})
}

func TestMessageHelpers(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		role Role
	}{
		{"system", NewSystemMessage("s"), RoleSystem},
		{"user", NewUserMessage("u"), RoleUser},
		{"assistant", NewAssistantMessage("a"), RoleAssistant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.Role != tt.role {
				t.Errorf("role = %s, want %s", tt.msg.Role, tt.role)
			}
		})
	}

	system, turns := splitSystem([]Message{
		NewSystemMessage("a"), NewUserMessage("b"), NewSystemMessage("c"),
	})
	if strings.Join(system, ",") != "a,c" || len(turns) != 1 {
		t.Errorf("splitSystem = %v, %v", system, turns)
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
	}
	for _, tt := range tests {
		e := &APIError{StatusCode: tt.status, Provider: "test"}
		if e.IsRetryable() != tt.retryable {
			t.Errorf("status %d retryable = %v", tt.status, e.IsRetryable())
		}
	}

	wrapped := WrapError("p", ErrNoAPIKey)
	if !errors.Is(wrapped, ErrNoAPIKey) {
		t.Error("WrapError should unwrap")
	}
	if WrapError("p", nil) != nil {
		t.Error("WrapError(nil) should be nil")
	}
}
