package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeChecker struct {
	mu  sync.Mutex
	err error
}

func (f *fakeChecker) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeChecker) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func TestHealthProbe_Transitions(t *testing.T) {
	checker := &fakeChecker{err: errors.New("connection refused")}
	probe := NewHealthProbe(checker, time.Hour, zaptest.NewLogger(t))

	var restored atomic.Int32
	probe.OnConnectivityRestored(func() { restored.Add(1) })

	ctx := context.Background()
	assert.False(t, probe.Check(ctx))
	assert.False(t, probe.IsOnline())
	assert.Equal(t, int32(0), restored.Load())

	checker.set(nil)
	assert.True(t, probe.Check(ctx))
	assert.True(t, probe.IsOnline())
	assert.Equal(t, int32(1), restored.Load())

	assert.True(t, probe.Check(ctx))
	assert.Equal(t, int32(1), restored.Load(), "staying online must not fire again")

	probe.MarkOffline()
	assert.False(t, probe.IsOnline())
	probe.Check(ctx)
	assert.Equal(t, int32(2), restored.Load())
}

func TestHealthProbe_StartProbesImmediately(t *testing.T) {
	probe := NewHealthProbe(&fakeChecker{}, time.Hour, zaptest.NewLogger(t))

	restored := make(chan struct{}, 1)
	probe.OnConnectivityRestored(func() { restored <- struct{}{} })

	probe.Start(context.Background())
	t.Cleanup(probe.Stop)

	select {
	case <-restored:
	case <-time.After(2 * time.Second):
		t.Fatal("first successful probe should fire the restore callback")
	}
	require.True(t, probe.IsOnline())

	probe.Stop()
	probe.Stop()
}

func TestManual(t *testing.T) {
	m := NewManual(false)
	calls := 0
	m.OnConnectivityRestored(func() { calls++ })

	m.SetOnline(false)
	assert.Equal(t, 0, calls)
	m.SetOnline(true)
	assert.True(t, m.IsOnline())
	assert.Equal(t, 1, calls)
	m.SetOnline(true)
	assert.Equal(t, 1, calls)
	m.SetOnline(false)
	m.SetOnline(true)
	assert.Equal(t, 2, calls)
}
