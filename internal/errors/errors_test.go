package errors

import (
	"fmt"
	"testing"
)

func TestBrokerErrorUnwrap(t *testing.T) {
	err := NewBrokerError("quote", "429", "too many requests", ErrRateLimited)
	wrapped := Wrapf(err, "batch %d", 2)

	if !IsRateLimited(wrapped) {
		t.Fatalf("expected rate limited through wrap chain, got %v", wrapped)
	}

	var be *BrokerError
	if !As(wrapped, &be) {
		t.Fatal("expected BrokerError in chain")
	}
	if be.Op != "quote" {
		t.Errorf("op = %q, want quote", be.Op)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("lookup: %w", ErrNotFound), true},
		{Wrap(ErrUnavailable, "instruments"), true},
		{ErrRateLimited, false},
		{NewDataError("prevday", 123, "no candle", ErrDataNotFound), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.want {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestValidationErrorIsConfigInvalid(t *testing.T) {
	err := NewValidationError("engine.quote_batch_size", 0, "must be positive")
	if !Is(err, ErrConfigInvalid) {
		t.Error("validation error should match ErrConfigInvalid")
	}
}
