package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PiotrGNN/kraken/internal/environment"
)

func counter(n *atomic.Int32) TaskFunc {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestAddTaskValidates(t *testing.T) {
	s := New(0)
	assert.ErrorIs(t, s.AddTask("", counter(new(atomic.Int32)), time.Second), ErrInvalidTask)
	assert.ErrorIs(t, s.AddTask("x", nil, time.Second), ErrInvalidTask)
	assert.ErrorIs(t, s.AddTask("x", counter(new(atomic.Int32)), 0), ErrInvalidTask)
}

func TestTaskRunsRepeatedly(t *testing.T) {
	var n atomic.Int32
	s := New(time.Second)
	require.NoError(t, s.AddTask("tick", counter(&n), 5*time.Millisecond))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())
	assert.False(t, s.Running())

	stopped := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, n.Load())
}

func TestFailuresAreReportedAndLoopContinues(t *testing.T) {
	var n atomic.Int32
	s := New(time.Second)
	require.NoError(t, s.AddTask("flaky", func(context.Context) error {
		if n.Add(1) == 1 {
			panic("first run explodes")
		}
		return errors.New("still broken")
	}, 5*time.Millisecond))

	s.Start(context.Background())
	defer s.Stop()

	first := <-s.Reports()
	assert.Equal(t, "flaky", first.Task)
	assert.Contains(t, first.Err.Error(), "first run explodes")

	second := <-s.Reports()
	assert.EqualError(t, second.Err, "still broken")

	require.Eventually(t, func() bool {
		st := s.Tasks()
		return len(st) == 1 && st[0].Failures >= 2
	}, time.Second, time.Millisecond)
}

func TestAddTaskReplacesRunningLoop(t *testing.T) {
	var oldRuns, newRuns atomic.Int32
	s := New(time.Second)
	require.NoError(t, s.AddTask("job", counter(&oldRuns), 5*time.Millisecond))
	s.Start(context.Background())
	defer s.Stop()
	require.Eventually(t, func() bool { return oldRuns.Load() >= 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.AddTask("job", counter(&newRuns), 5*time.Millisecond))
	require.Eventually(t, func() bool { return newRuns.Load() >= 2 }, time.Second, time.Millisecond)

	frozen := oldRuns.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, oldRuns.Load())
	assert.Len(t, s.Tasks(), 1)
}

func TestStopTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	var once sync.Once

	s := New(10 * time.Millisecond)
	require.NoError(t, s.AddTask("stuck", func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, time.Second))
	s.Start(context.Background())
	<-started

	assert.ErrorIs(t, s.Stop(), ErrStopTimeout)
}

func TestStopJoinsReplacedLoop(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	s := New(20 * time.Millisecond)
	require.NoError(t, s.AddTask("job", func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, time.Second))
	s.Start(context.Background())
	<-started

	require.NoError(t, s.AddTask("job", counter(new(atomic.Int32)), time.Second))
	assert.ErrorIs(t, s.Stop(), ErrStopTimeout)
	close(release)

	var n atomic.Int32
	require.NoError(t, s.AddTask("job", counter(&n), time.Second))
	s.Start(context.Background())
	require.Eventually(t, func() bool { return n.Load() >= 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestRemoveTask(t *testing.T) {
	s := New(0)
	require.NoError(t, s.AddTask("a", counter(new(atomic.Int32)), time.Second))
	assert.True(t, s.removeTask("a"))
	assert.False(t, s.removeTask("a"))
	assert.Empty(t, s.Tasks())
}

type fakeRouter struct {
	updates int
	targets []environment.Environment
}

func (f *fakeRouter) UpdatePerformanceMetrics(context.Context) { f.updates++ }

func (f *fakeRouter) HandleEnvChange(_ context.Context, target environment.Environment) bool {
	f.targets = append(f.targets, target)
	return true
}

type gate bool

func (g gate) ShouldSwitchToMainnet() bool { return bool(g) }

func TestEnvSwitchTask(t *testing.T) {
	tests := []struct {
		name    string
		gate    gate
		targets []environment.Environment
	}{
		{name: "gate closed", gate: false},
		{name: "gate open", gate: true, targets: []environment.Environment{environment.Mainnet}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRouter{}
			require.NoError(t, EnvSwitchTask(r, tt.gate)(context.Background()))
			assert.Equal(t, 1, r.updates)
			assert.Equal(t, tt.targets, r.targets)
		})
	}
}
