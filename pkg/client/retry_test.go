package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func serverErr() error {
	return &APIError{StatusCode: 500, ErrorClass: ErrorClassServer, Message: "500 Internal Server Error"}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfigForErrorClass(t *testing.T) {
	tests := []struct {
		name             string
		errorClass       ErrorClass
		expectedInitial  time.Duration
		expectedMax      time.Duration
		expectedAttempts int
	}{
		{
			name:             "server error config",
			errorClass:       ErrorClassServer,
			expectedInitial:  1 * time.Second,
			expectedMax:      10 * time.Second,
			expectedAttempts: 3,
		},
		{
			name:             "rate limit config",
			errorClass:       ErrorClassRateLimit,
			expectedInitial:  5 * time.Second,
			expectedMax:      60 * time.Second,
			expectedAttempts: 3,
		},
		{
			name:             "network error config",
			errorClass:       ErrorClassNetwork,
			expectedInitial:  2 * time.Second,
			expectedMax:      30 * time.Second,
			expectedAttempts: 3,
		},
		{
			name:             "unknown error class uses default",
			errorClass:       "",
			expectedInitial:  1 * time.Second,
			expectedMax:      30 * time.Second,
			expectedAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := RetryConfigForErrorClass(tt.errorClass)

			if config.InitialBackoff != tt.expectedInitial {
				t.Errorf("InitialBackoff = %v, want %v", config.InitialBackoff, tt.expectedInitial)
			}
			if config.MaxBackoff != tt.expectedMax {
				t.Errorf("MaxBackoff = %v, want %v", config.MaxBackoff, tt.expectedMax)
			}
			if config.MaxAttempts != tt.expectedAttempts {
				t.Errorf("MaxAttempts = %d, want %d", config.MaxAttempts, tt.expectedAttempts)
			}
		})
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetry, zerolog.Nop(), func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	// Fails twice, then succeeds
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetry, zerolog.Nop(), func() error {
		callCount++
		if callCount < 3 {
			return serverErr()
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetry, zerolog.Nop(), func() error {
		callCount++
		return serverErr()
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Error("exhausted error should still carry the last APIError")
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", callCount)
	}
}

func TestRetryWithBackoff_ClientErrorNoRetry(t *testing.T) {
	callCount := 0
	clientErr := &APIError{StatusCode: 400, ErrorClass: ErrorClassClient}
	err := retryWithBackoff(context.Background(), fastRetry, zerolog.Nop(), func() error {
		callCount++
		return clientErr
	})

	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for client errors), got %d", callCount)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Should not return ErrRetryExhausted for client errors (no retry attempted)")
	}
	if !errors.Is(err, clientErr) {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestRetryWithBackoff_PlainErrorIsNetwork(t *testing.T) {
	callCount := 0
	err := retryWithBackoff(context.Background(), fastRetry, zerolog.Nop(), func() error {
		callCount++
		return errors.New("connection reset")
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	slow := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, BackoffMultiplier: 2}
	err := retryWithBackoff(ctx, slow, zerolog.Nop(), func() error {
		callCount++
		if callCount == 1 {
			// Cancel context after first failure
			cancel()
		}
		return serverErr()
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call due to cancellation, got %d", callCount)
	}
}

func TestRetryWithBackoff_ContextCancelledImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callCount := 0
	err := retryWithBackoff(ctx, fastRetry, zerolog.Nop(), func() error {
		callCount++
		return nil
	})

	if callCount != 0 {
		t.Errorf("Expected no call on a cancelled context, got %d", callCount)
	}
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
}

func TestRetryWithBackoff_ExponentialBackoff(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    20 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 3.0,
	}

	timestamps := []time.Time{}
	_ = retryWithBackoff(context.Background(), config, zerolog.Nop(), func() error {
		timestamps = append(timestamps, time.Now())
		return serverErr()
	})

	if len(timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(timestamps))
	}

	// First delay ~20ms, second ~60ms (±20% jitter)
	firstDelay := timestamps[1].Sub(timestamps[0])
	secondDelay := timestamps[2].Sub(timestamps[1])

	if firstDelay < 15*time.Millisecond {
		t.Errorf("First retry delay %v shorter than expected", firstDelay)
	}
	if secondDelay < 45*time.Millisecond {
		t.Errorf("Second retry delay %v shorter than expected", secondDelay)
	}
}

func TestRetryWithBackoff_MaxBackoffCap(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:       4,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        15 * time.Millisecond,
		BackoffMultiplier: 10.0,
	}

	timestamps := []time.Time{}
	_ = retryWithBackoff(context.Background(), config, zerolog.Nop(), func() error {
		timestamps = append(timestamps, time.Now())
		return serverErr()
	})

	if len(timestamps) != 4 {
		t.Fatalf("Expected 4 timestamps, got %d", len(timestamps))
	}

	// Without the cap the last delay would be ~1s
	lastDelay := timestamps[3].Sub(timestamps[2])
	if lastDelay > 500*time.Millisecond {
		t.Errorf("Last retry delay %v not capped at MaxBackoff", lastDelay)
	}
}
