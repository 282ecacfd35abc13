package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcwarden/internal/worker"
)

func at(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr  string
		when  string
		match bool
	}{
		{"0 4 * * *", "2026-03-10 04:00", true},
		{"0 4 * * *", "2026-03-10 04:01", false},
		{"*/15 * * * *", "2026-03-10 13:45", true},
		{"*/15 * * * *", "2026-03-10 13:46", false},
		{"30 8-18/2 * * 1-5", "2026-03-10 10:30", true}, // Tuesday
		{"30 8-18/2 * * 1-5", "2026-03-10 11:30", false},
		{"30 8-18/2 * * 1-5", "2026-03-14 10:30", false}, // Saturday
		{"0 0 * * 7", "2026-03-15 00:00", true},          // Sunday written as 7
		{"0 0 1 * 1", "2026-03-01 00:00", true},          // day of month or Monday
		{"0 0 1 * 1", "2026-03-02 00:00", true},
		{"0 0 1 * 1", "2026-03-03 00:00", false},
		{"5,10 0 * * *", "2026-03-03 00:10", true},
		{"@daily", "2026-03-03 00:00", true},
		{"@hourly", "2026-03-03 07:00", true},
	}
	for _, tt := range tests {
		c, err := ParseCron(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.match, c.Matches(at(tt.when)), "%s at %s", tt.expr, tt.when)
	}
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "* * 0 * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := ParseCron(expr)
		assert.Error(t, err, expr)
	}
}

func TestNext(t *testing.T) {
	c, err := ParseCron("0 4 * * *")
	require.NoError(t, err)
	assert.Equal(t, at("2026-03-11 04:00"), c.Next(at("2026-03-10 04:00")))
	assert.Equal(t, at("2026-03-10 04:00"), c.Next(at("2026-03-10 03:59")))

	c, err = ParseCron("0 0 1 1 *")
	require.NoError(t, err)
	assert.Equal(t, at("2027-01-01 00:00"), c.Next(at("2026-03-10 12:00")))

	c, err = ParseCron("0 0 31 2 *")
	require.NoError(t, err)
	assert.True(t, c.Next(at("2026-03-10 12:00")).IsZero())
}

type fakeActions struct {
	mu    sync.Mutex
	calls []string
	fail  error
	block chan struct{}
}

func (f *fakeActions) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.fail
}

func (f *fakeActions) Command(_ context.Context, line string) error { return f.record("command:" + line) }
func (f *fakeActions) Start(context.Context) error                  { return f.record("start") }
func (f *fakeActions) Stop(context.Context) error                   { return f.record("stop") }
func (f *fakeActions) Restart(context.Context) error                { return f.record("restart") }
func (f *fakeActions) Backup(context.Context) error                 { return f.record("backup") }

type ran struct {
	mu   sync.Mutex
	errs map[string]error
}

func (r *ran) ScheduleRan(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[name] = err
}

func waitAll(t *testing.T, ws []*worker.Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, w := range ws {
		_ = w.Wait(ctx)
	}
}

func mustJob(t *testing.T, name, cron, action, command string) Job {
	t.Helper()
	j, err := NewJob(name, cron, action, command)
	require.NoError(t, err)
	return j
}

func TestTickRunsDueJobs(t *testing.T) {
	actions := &fakeActions{}
	rec := &ran{errs: map[string]error{}}
	s, err := New([]Job{
		mustJob(t, "nightly", "0 4 * * *", "restart", ""),
		mustJob(t, "announce", "*/30 * * * *", "command", "say hi"),
		mustJob(t, "backup", "0 */6 * * *", "backup", ""),
	}, actions, WithRecorder(rec), WithClock(func() time.Time { return at("2026-03-10 03:00") }))
	require.NoError(t, err)

	ws := s.tick(context.Background(), at("2026-03-10 04:00"))
	require.Len(t, ws, 2)
	waitAll(t, ws)
	ws = s.tick(context.Background(), at("2026-03-10 06:00"))
	require.Len(t, ws, 2)
	waitAll(t, ws)

	actions.mu.Lock()
	assert.ElementsMatch(t, []string{"restart", "command:say hi", "command:say hi", "backup"}, actions.calls)
	actions.mu.Unlock()
	assert.Contains(t, rec.errs, "backup")

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, at("2026-03-10 04:00"), list[0].LastRun)
	assert.Equal(t, at("2026-03-10 06:00"), list[1].LastRun)
	assert.Equal(t, at("2026-03-10 04:00"), list[0].Next)
	assert.Equal(t, at("2026-03-10 03:30"), list[1].Next)
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	actions := &fakeActions{block: make(chan struct{})}
	s, err := New([]Job{mustJob(t, "backup", "* * * * *", "backup", "")}, actions)
	require.NoError(t, err)

	first := s.tick(context.Background(), at("2026-03-10 04:00"))
	require.Len(t, first, 1)
	assert.Empty(t, s.tick(context.Background(), at("2026-03-10 04:01")))
	close(actions.block)
	waitAll(t, first)
	assert.Len(t, s.tick(context.Background(), at("2026-03-10 04:02")), 1)
}

func TestRunNowRecordsError(t *testing.T) {
	boom := errors.New("not running")
	s, err := New([]Job{mustJob(t, "say", "0 0 * * *", "command", "say x")}, &fakeActions{fail: boom})
	require.NoError(t, err)

	w, err := s.RunNow(context.Background(), "say")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, w.Wait(ctx), boom)
	assert.Equal(t, "not running", s.List()[0].LastError)

	_, err = s.RunNow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownSchedule)
}

func TestNewJobValidation(t *testing.T) {
	_, err := NewJob("x", "0 4 * * *", "reboot", "")
	assert.ErrorIs(t, err, ErrUnknownAction)
	_, err = NewJob("x", "0 4 * * *", "command", " ")
	assert.Error(t, err)
	_, err = NewJob("x", "bad", "stop", "")
	assert.Error(t, err)

	j := mustJob(t, "x", "0 4 * * *", "STOP", "")
	_, err = New([]Job{j, j}, &fakeActions{})
	assert.ErrorIs(t, err, ErrDuplicateName)
}
