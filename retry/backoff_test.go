package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	assert "github.com/stretchr/testify/require"
)

var errTest = errors.New("retry: test error")

func TestDelayDoublesAndSaturates(t *testing.T) {
	p := DefaultPolicy()
	p.Jitter = 0
	rng := rand.New(rand.NewSource(1))

	assert.Equal(t, 100*time.Millisecond, p.Delay(0, rng))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1, rng))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2, rng))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3, rng))
	assert.Equal(t, p.MaxDelay, p.Delay(10, rng))
}

func TestDelayJitterStaysWithinBounds(t *testing.T) {
	p := DefaultPolicy()
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		d := p.Delay(0, rng)
		assert.GreaterOrEqual(t, d, time.Duration(float64(p.BaseDelay)*0.9))
		assert.LessOrEqual(t, d, time.Duration(float64(p.BaseDelay)*1.1))
	}
}

func TestDoRetriesOnRetryableErrorThenSucceeds(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	rng := rand.New(rand.NewSource(3))

	attempts := 0
	err := Do(context.Background(), p, rng, func(error) bool { return true }, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errTest
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	p := DefaultPolicy()
	rng := rand.New(rand.NewSource(4))

	attempts := 0
	err := Do(context.Background(), p, rng, func(error) bool { return false }, func(ctx context.Context) error {
		attempts++
		return errTest
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	p.MaxRetries = 2
	rng := rand.New(rand.NewSource(5))

	attempts := 0
	err := Do(context.Background(), p, rng, func(error) bool { return true }, func(ctx context.Context) error {
		attempts++
		return errTest
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = 50 * time.Millisecond
	rng := rand.New(rand.NewSource(6))

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, p, rng, func(error) bool { return true }, func(ctx context.Context) error {
		attempts++
		return errTest
	})
	assert.Error(t, err)
	assert.LessOrEqual(t, attempts, 2)
}
