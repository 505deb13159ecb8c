package errors

import (
	"fmt"
	"testing"
)

func TestAgentError(t *testing.T) {
	// Test basic error creation
	err := New(ErrCodeSessionNotFound, "session not found")
	if err.Code != ErrCodeSessionNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeSessionNotFound, err.Code)
	}

	// Test error wrapping
	cause := fmt.Errorf("underlying error")
	wrapped := Wrap(cause, ErrCodeSpawnFailure, "spawn failed")

	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}

	// Test Is function
	if !Is(wrapped, ErrCodeSpawnFailure) {
		t.Error("Is should return true for matching code")
	}

	if Is(wrapped, ErrCodeSessionNotFound) {
		t.Error("Is should return false for non-matching code")
	}

	// Test WithDetail
	detailed := err.WithDetail("sessionId", "abc").WithDetail("state", "ended")
	if detailed.Details["sessionId"] != "abc" {
		t.Error("WithDetail should add details")
	}
}

func TestErrorConstructors(t *testing.T) {
	// Test SessionNotFound
	err := SessionNotFound("s-123")
	if err.Code != ErrCodeSessionNotFound {
		t.Errorf("expected code %s, got %s", ErrCodeSessionNotFound, err.Code)
	}
	if err.Details["sessionId"] != "s-123" {
		t.Error("SessionNotFound should include sessionId detail")
	}

	// Test QuotaExceeded
	err = QuotaExceeded("claude_code", 5)
	if err.Code != ErrCodeQuotaExceeded {
		t.Errorf("expected code %s, got %s", ErrCodeQuotaExceeded, err.Code)
	}
	if err.Details["limit"] != 5 {
		t.Error("QuotaExceeded should include limit detail")
	}

	// Test SpawnFailure wraps the cause
	cause := fmt.Errorf("no such file or directory")
	err = SpawnFailure("/usr/bin/missing", cause)
	if err.Code != ErrCodeSpawnFailure {
		t.Errorf("expected code %s, got %s", ErrCodeSpawnFailure, err.Code)
	}
	if err.Unwrap() != cause {
		t.Error("SpawnFailure should wrap the cause")
	}

	// Test SubscriberConflict
	err = SubscriberConflict("s-123")
	if !Is(err, ErrCodeSubscriberConflict) {
		t.Error("SubscriberConflict should carry its code")
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(nil) != "" {
		t.Error("GetCode(nil) should return empty code")
	}

	err := UnknownAgentType("gpt_cli")
	if GetCode(err) != ErrCodeUnknownAgentType {
		t.Errorf("expected %s, got %s", ErrCodeUnknownAgentType, GetCode(err))
	}

	// Codes survive fmt.Errorf %w wrapping
	wrapped := fmt.Errorf("creating session: %w", err)
	if GetCode(wrapped) != ErrCodeUnknownAgentType {
		t.Error("GetCode should walk wrapped errors")
	}
}
