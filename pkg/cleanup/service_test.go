package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobDeleter struct {
	mu      sync.Mutex
	calls   int
	cutoffs []time.Time
	count   int64
	err     error
}

func (f *fakeJobDeleter) DeleteTerminalJobsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.count, f.err
}

func (f *fakeJobDeleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestServiceDisabledWithoutRetentionAge(t *testing.T) {
	deleter := &fakeJobDeleter{}
	svc := NewService(deleter, 0, 10*time.Millisecond)

	svc.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	svc.Stop()

	assert.Zero(t, deleter.callCount())
}

func TestServiceRunsImmediatelyAndPeriodically(t *testing.T) {
	deleter := &fakeJobDeleter{count: 2}
	svc := NewService(deleter, 24*time.Hour, 20*time.Millisecond)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return deleter.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	deleter.mu.Lock()
	defer deleter.mu.Unlock()
	// The cutoff trails now by the retention age.
	expected := time.Now().Add(-24 * time.Hour)
	assert.WithinDuration(t, expected, deleter.cutoffs[0], 5*time.Second)
}

func TestServiceStopIsIdempotent(t *testing.T) {
	svc := NewService(&fakeJobDeleter{}, time.Hour, time.Hour)
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()

	// Stop before Start is also a no-op.
	idle := NewService(&fakeJobDeleter{}, time.Hour, time.Hour)
	idle.Stop()
}

func TestServiceSurvivesDeleteErrors(t *testing.T) {
	deleter := &fakeJobDeleter{err: assert.AnError}
	svc := NewService(deleter, time.Hour, 10*time.Millisecond)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return deleter.callCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}
