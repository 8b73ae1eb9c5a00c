package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(4))
	assert.Equal(t, time.Second, p.Backoff(5))
	assert.Equal(t, time.Second, p.Backoff(20))
}

func TestRetryPolicy_Do(t *testing.T) {
	unavailable := fmt.Errorf("503: %w", domain.ErrBackendUnavailable)
	rejected := fmt.Errorf("400: %w", domain.ErrBackendRejected)

	tests := []struct {
		name         string
		errs         []error
		wantCalls    int
		wantErr      error
		wantAttempts int
	}{
		{"first try", nil, 1, nil, 0},
		{"recovers", []error{unavailable, unavailable}, 3, nil, 0},
		{"exhausted", []error{unavailable, unavailable, unavailable, unavailable}, 3, domain.ErrBackendUnavailable, 3},
		{"not retryable", []error{rejected}, 1, domain.ErrBackendRejected, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var waits []time.Duration
			p := RetryPolicy{
				MaxAttempts:    3,
				InitialBackoff: 10 * time.Millisecond,
				Multiplier:     2,
				OnRetry:        func(_ int, _ error, d time.Duration) { waits = append(waits, d) },
				sleep:          noSleep,
			}

			calls := 0
			err := p.Do(context.Background(), "op", func(context.Context) error {
				calls++
				if calls <= len(tt.errs) {
					return tt.errs[calls-1]
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			var be *domain.BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.wantAttempts, be.Attempts)
			assert.Len(t, waits, tt.wantAttempts-1)
		})
	}
}

func TestRetryPolicy_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, "op", func(context.Context) error {
		calls++
		return domain.ErrBackendUnavailable
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ContextErrorNotWrapped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := DefaultRetryPolicy().Do(ctx, "op", func(context.Context) error { return errors.New("unreachable") })
	assert.Equal(t, context.Canceled, err)
}
