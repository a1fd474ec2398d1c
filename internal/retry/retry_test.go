package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	calls := 0
	notified := 0
	err := Do(context.Background(), Policy{
		Retries:   3,
		BaseDelay: time.Millisecond,
		Notify:    func(error, time.Duration) { notified++ },
	}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, notified)
}

func TestDo_StopsAfterRetries(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Do(context.Background(), Policy{Retries: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 3, calls)
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	terminal := errors.New("terminal")
	calls := 0
	err := Do(context.Background(), Policy{
		Retries:   5,
		BaseDelay: time.Millisecond,
		Permanent: func(err error) bool { return errors.Is(err, terminal) },
	}, func(context.Context) error {
		calls++
		return terminal
	})
	require.ErrorIs(t, err, terminal)
	require.Equal(t, 1, calls)
}

func TestDo_AppliesPerAttemptTimeout(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Do(context.Background(), Policy{Retries: 1, Timeout: 10 * time.Millisecond, BaseDelay: time.Millisecond},
		func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 2, calls)
}
