package worker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func wait(t *testing.T, w *Worker) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := w.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "worker %s did not finish", w.Name())
	return err
}

func TestStateTransitions(t *testing.T) {
	release := make(chan struct{})
	w := Unstarted(func(ctx context.Context) error {
		<-release
		return nil
	}, WithLogger(zaptest.NewLogger(t).Sugar()))

	assert.Equal(t, Waiting, w.State())
	assert.ErrorIs(t, w.Interrupt(), ErrNotStarted)

	require.NoError(t, w.Start())
	assert.Equal(t, Running, w.State())
	assert.ErrorIs(t, w.Start(), ErrAlreadyStarted)

	close(release)
	assert.NoError(t, wait(t, w))
	assert.Equal(t, Finished, w.State())
	assert.ErrorIs(t, w.Start(), ErrAlreadyFinished)
	assert.ErrorIs(t, w.Interrupt(), ErrAlreadyFinished)
}

func TestIDsIncrease(t *testing.T) {
	a := Unstarted(func(context.Context) error { return nil })
	b := Unstarted(func(context.Context) error { return nil })
	assert.Greater(t, b.ID(), a.ID())
	assert.Equal(t, "worker-"+strconv.FormatUint(a.ID(), 10), a.Name())
}

func TestInterrupt(t *testing.T) {
	w := Started(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Equal(t, Running, w.State())
	require.NoError(t, w.Interrupt())

	err := wait(t, w)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Finished, w.State())
}

func TestErrorsAndPanicsAreCaptured(t *testing.T) {
	boom := errors.New("boom")
	w := Started(func(context.Context) error { return boom })
	assert.ErrorIs(t, wait(t, w), boom)
	assert.ErrorIs(t, w.Err(), boom)

	p := Started(func(context.Context) error { panic("kaboom") })
	err := wait(t, p)
	assert.ErrorIs(t, err, ErrPanicked)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, Finished, p.State())
}

func TestThenRunsAfterPredecessorFinishes(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	first, err := Delayed(func(context.Context) error {
		record("first")
		return nil
	}, 50*time.Millisecond)
	require.NoError(t, err)

	w1 := Unstarted(first)
	var sawFinished atomic.Bool
	w2 := w1.Then(func(context.Context) error {
		sawFinished.Store(w1.State() == Finished)
		record("second")
		return nil
	})
	assert.Equal(t, Waiting, w2.State())

	require.NoError(t, w1.Start())
	require.NoError(t, wait(t, w2))

	assert.True(t, sawFinished.Load())
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestAfterFinishedStartsImmediately(t *testing.T) {
	w1 := Started(func(context.Context) error { return nil })
	require.NoError(t, wait(t, w1))

	ran := make(chan struct{})
	w2 := w1.After(Unstarted(func(context.Context) error {
		close(ran)
		return nil
	}))
	require.NoError(t, wait(t, w2))
	select {
	case <-ran:
	default:
		t.Fatal("successor did not run")
	}
}

func TestSecondSuccessorPanics(t *testing.T) {
	w := Unstarted(func(context.Context) error { return nil })
	w.Then(func(context.Context) error { return nil })
	assert.Panics(t, func() {
		w.Then(func(context.Context) error { return nil })
	})
}

func TestSuccessorRunsAfterFailure(t *testing.T) {
	w1 := Started(func(context.Context) error { return errors.New("nope") })
	w2 := w1.Then(func(context.Context) error { return nil })
	assert.NoError(t, wait(t, w2))
	assert.Error(t, w1.Err())
}

type nameObserver struct {
	mu       sync.Mutex
	started  []string
	finished []string
}

func (o *nameObserver) WorkerStarted(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, name)
}

func (o *nameObserver) WorkerFinished(name string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, name)
}

func TestThenNamesSuccessor(t *testing.T) {
	obs := &nameObserver{}
	w1 := Unstarted(func(context.Context) error { return nil }, WithName("backup"), WithObserver(obs))
	w2 := w1.Then(func(context.Context) error { return nil })
	w3 := w2.Then(func(context.Context) error { return nil })
	assert.Equal(t, "backup", w1.Name())
	assert.Equal(t, "backup.then", w2.Name())
	assert.Equal(t, "backup.then.then", w3.Name())

	require.NoError(t, w1.Start())
	require.NoError(t, wait(t, w3))
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"backup", "backup.then", "backup.then.then"}, obs.started)
	assert.Equal(t, []string{"backup", "backup.then", "backup.then.then"}, obs.finished)
}

func TestExecuteLater(t *testing.T) {
	_, err := ExecuteLater(func(context.Context) error { return nil }, -time.Millisecond)
	assert.ErrorIs(t, err, ErrNegativeDelay)

	start := time.Now()
	w, err := ExecuteLater(func(context.Context) error { return nil }, 30*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, wait(t, w))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestInterruptDuringDelay(t *testing.T) {
	var ran atomic.Bool
	w, err := ExecuteLater(func(context.Context) error {
		ran.Store(true)
		return nil
	}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, w.Interrupt())
	assert.ErrorIs(t, wait(t, w), context.Canceled)
	assert.False(t, ran.Load())
}

type countingObserver struct {
	started, finished atomic.Int32
	failed            atomic.Int32
}

func (o *countingObserver) WorkerStarted(string) { o.started.Add(1) }
func (o *countingObserver) WorkerFinished(_ string, err error) {
	o.finished.Add(1)
	if err != nil {
		o.failed.Add(1)
	}
}

func TestObserverAndParentContext(t *testing.T) {
	obs := &countingObserver{}
	parent, cancel := context.WithCancel(context.Background())
	w := Started(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithObserver(obs), WithContext(parent), WithName("reader"))
	assert.Equal(t, "reader", w.Name())

	cancel()
	assert.ErrorIs(t, wait(t, w), context.Canceled)
	assert.Equal(t, int32(1), obs.started.Load())
	assert.Equal(t, int32(1), obs.finished.Load())
	assert.Equal(t, int32(1), obs.failed.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "waiting", Waiting.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "finished", Finished.String())
}
