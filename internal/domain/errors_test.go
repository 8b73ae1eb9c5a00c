package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", fmt.Errorf("POST /chat: %w", ErrBackendUnavailable), true},
		{"generation", ErrGenerationFailed, true},
		{"embedding", fmt.Errorf("batch 2: %w", ErrEmbeddingFailed), true},
		{"rejected", fmt.Errorf("status 400: %w", ErrBackendRejected), false},
		{"validation", Invalid("empty question"), false},
		{"rejected wins over generation", fmt.Errorf("%w: %w", ErrGenerationFailed, ErrBackendRejected), false},
		{"cancelled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestBackendError_Unwrap(t *testing.T) {
	err := error(&BackendError{Op: "generate", Attempts: 3, Err: fmt.Errorf("429: %w", ErrBackendUnavailable)})

	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "generate failed after 3 attempt(s)")

	var be *BackendError
	assert.True(t, errors.As(fmt.Errorf("query: %w", err), &be))
	assert.Equal(t, 3, be.Attempts)
}

func TestInvalid(t *testing.T) {
	err := Invalid("unsupported file type %q", ".exe")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, `validation failed: unsupported file type ".exe"`, err.Error())
}
