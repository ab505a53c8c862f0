package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantRetryable bool
	}{
		{
			name:          "deadline exceeded maps to timeout",
			err:           context.DeadlineExceeded,
			wantCode:      CodeTimeout,
			wantRetryable: true,
		},
		{
			name:          "wrapped deadline exceeded maps to timeout",
			err:           fmt.Errorf("chat: %w", context.DeadlineExceeded),
			wantCode:      CodeTimeout,
			wantRetryable: true,
		},
		{
			name:          "upstream 429 maps to rate limited",
			err:           &UpstreamError{Status: 429, Body: "slow down"},
			wantCode:      CodeRateLimited,
			wantRetryable: true,
		},
		{
			name:          "upstream 500 maps to retryable error",
			err:           &UpstreamError{Status: 500, Body: "boom"},
			wantCode:      CodeError,
			wantRetryable: true,
		},
		{
			name:          "upstream 503 maps to retryable error",
			err:           &UpstreamError{Status: 503, Body: "overloaded"},
			wantCode:      CodeError,
			wantRetryable: true,
		},
		{
			name:          "upstream 400 is not retryable",
			err:           &UpstreamError{Status: 400, Body: "bad request"},
			wantCode:      CodeError,
			wantRetryable: false,
		},
		{
			name:          "upstream 401 is not retryable",
			err:           &UpstreamError{Status: 401, Body: "bad key"},
			wantCode:      CodeError,
			wantRetryable: false,
		},
		{
			name:          "plain error is not retryable",
			err:           errors.New("connection refused"),
			wantCode:      CodeError,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := ClassifyError(tt.err)
			if f.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", f.Code, tt.wantCode)
			}
			if f.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", f.Retryable, tt.wantRetryable)
			}
			if f.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestNewClient_RequestPacing(t *testing.T) {
	t.Parallel()

	unpaced, err := NewClient(ClientConfig{DefaultModel: "m"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if unpaced.pacer != nil {
		t.Error("pacer should be disabled when MaxRequestRate is zero")
	}
	if err := unpaced.pace(context.Background()); err != nil {
		t.Errorf("pace() without a pacer should be a no-op, got %v", err)
	}

	paced, err := NewClient(ClientConfig{DefaultModel: "m", MaxRequestRate: 100})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if paced.pacer == nil {
		t.Fatal("pacer should be enabled when MaxRequestRate is positive")
	}
	if err := paced.pace(context.Background()); err != nil {
		t.Errorf("first pace() should be admitted immediately, got %v", err)
	}
}

func TestUpstreamError_Error(t *testing.T) {
	t.Parallel()

	err := &UpstreamError{Status: 429, Body: "too many requests"}
	got := err.Error()
	if got == "" {
		t.Fatal("Error() returned empty string")
	}

	var target *UpstreamError
	wrapped := fmt.Errorf("chat failed: %w", err)
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should unwrap UpstreamError")
	}
	if target.Status != 429 {
		t.Errorf("Status = %d, want 429", target.Status)
	}
}

func TestFailure_Error(t *testing.T) {
	t.Parallel()

	f := &Failure{Code: CodeTimeout, Message: "request timed out", Retryable: true}
	if f.Error() == "" {
		t.Fatal("Error() returned empty string")
	}
}
