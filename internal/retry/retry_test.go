package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func policy(n int) Policy {
	return Policy{MaxAttempts: n, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), policy(3), func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_EventualSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), policy(5), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AllAttemptsFail(t *testing.T) {
	attempts := 0
	expected := errors.New("persistent error")
	err := Do(context.Background(), policy(3), func(context.Context) error {
		attempts++
		return expected
	})
	assert.Equal(t, expected, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_Permanent(t *testing.T) {
	attempts := 0
	bad := errors.New("bad request")
	err := Do(context.Background(), policy(5), func(context.Context) error {
		attempts++
		return Permanent(bad)
	})
	assert.Equal(t, bad, err)
	assert.Equal(t, 1, attempts)
	assert.False(t, IsPermanent(err), "Do unwraps the permanent marker")
	assert.True(t, IsPermanent(Permanent(bad)))
	assert.NoError(t, Permanent(nil))
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, policy(10), func(context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("error")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
}

func TestDo_InvalidMaxAttempts(t *testing.T) {
	err := Do(context.Background(), Policy{}, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}
