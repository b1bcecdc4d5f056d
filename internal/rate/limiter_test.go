package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter_Defaults(t *testing.T) {
	tests := []struct {
		name   string
		perSec float64
		burst  int
		want   float64
	}{
		{"positive rate", 100, 1, 100},
		{"zero rate defaults to 1", 0, 1, 1},
		{"negative rate defaults to 1", -10, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(tt.perSec, tt.burst)
			assert.Equal(t, tt.want, l.Stats().PerSecond)
			assert.Equal(t, 1.0, l.burst)
		})
	}
}

func TestLimiter_FirstSlotImmediate(t *testing.T) {
	l := NewLimiter(1, 1)
	assert.WithinDuration(t, time.Now(), l.Next(), 5*time.Millisecond)
}

func TestLimiter_Spacing(t *testing.T) {
	l := NewLimiter(100, 1)
	_ = l.Next()

	next := l.Next()
	delay := time.Until(next)
	assert.InDelta(t, float64(10*time.Millisecond), float64(delay), float64(5*time.Millisecond))

	// Reservations queue up behind each other.
	after := l.Next()
	assert.InDelta(t, float64(10*time.Millisecond), float64(after.Sub(next)), float64(time.Millisecond))
}

func TestLimiter_Burst(t *testing.T) {
	l := NewLimiter(1, 3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		assert.WithinDuration(t, now, l.Next(), 5*time.Millisecond, "slot %d", i)
	}
	assert.True(t, l.Next().After(now.Add(500*time.Millisecond)))
}

func TestLimiter_WaitRespectsContext(t *testing.T) {
	l := NewLimiter(1, 1)
	_ = l.Next()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	assert.ErrorIs(t, NewLimiter(1000, 1).Wait(cancelled), context.Canceled)
}

func TestLimiter_WaitPaces(t *testing.T) {
	l := NewLimiter(200, 1)
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	// One immediate slot, then four at 5ms intervals.
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	st := l.Stats()
	assert.Equal(t, int64(5), st.Slots)
	assert.Greater(t, st.Waited, time.Duration(0))
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(10000, 1)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = l.Wait(context.Background())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), l.Stats().Slots)
}
