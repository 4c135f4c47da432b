package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "dispatchbot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		kind  SpecKind
		every time.Duration
	}{
		{name: "cron", raw: "0 */6 * * *", kind: SpecCron},
		{name: "descriptor", raw: "@every 6h", kind: SpecCron},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron},
		{name: "duration", raw: "90m", kind: SpecInterval, every: 90 * time.Minute},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, every: 45 * time.Second},
		{name: "hhmm", raw: "06:00", kind: SpecInterval, every: 6 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			if tt.kind == SpecInterval {
				assert.Equal(t, tt.every, got.Every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "* * *", "00:75", "-5m", "cron:"} {
		assert.Error(t, Validate(raw), raw)
	}
}

func TestSpreadDelaysOnlyFirstRun(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := intervalWithSpread(time.Hour, now)
	first := s.Next(now)
	assert.False(t, first.Before(now.Add(time.Hour)))
	assert.True(t, first.Before(now.Add(time.Hour+maxStartupSpread)))
	assert.WithinDuration(t, first.Add(time.Hour), s.Next(first), time.Second)
}

func TestAddUpsertsByName(t *testing.T) {
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	noop := func(context.Context) error { return nil }
	require.NoError(t, s.Add("sync", "@every 6h", 0, noop))
	require.NoError(t, s.Add("sync", "@every 1h", 0, noop))
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "@every 1h", snap[0].Spec)
	assert.False(t, snap[0].Next.IsZero())

	assert.Error(t, s.Add("bad", "whenever", 0, noop))
	assert.Error(t, s.Add("", "1h", 0, noop))
	assert.True(t, s.Remove("sync"))
	assert.False(t, s.Remove("sync"))
	assert.Empty(t, s.Snapshot())
}

func TestRunNowRecordsOutcome(t *testing.T) {
	s := New(Config{}, logx.Nop())
	var calls atomic.Int32
	require.NoError(t, s.Add("job", "1h", time.Second, func(ctx context.Context) error {
		calls.Add(1)
		_, ok := ctx.Deadline()
		assert.True(t, ok, "timeout applies to the job context")
		return errors.New("boom")
	}))
	require.NoError(t, s.RunNow("job"))
	assert.Equal(t, int32(1), calls.Load())

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].Runs)
	assert.Equal(t, "boom", snap[0].LastErr)
	assert.Error(t, s.RunNow("missing"))
}

func TestRunNowRecoversPanic(t *testing.T) {
	s := New(Config{}, logx.Nop())
	require.NoError(t, s.Add("p", "1h", 0, func(context.Context) error { panic("oops") }))
	require.NoError(t, s.RunNow("p"))
	assert.Contains(t, s.Snapshot()[0].LastErr, "panic: oops")
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	s := New(Config{}, logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Add("slow", "1h", 0, func(context.Context) error {
		close(started)
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		_ = s.RunNow("slow")
		close(done)
	}()
	<-started
	require.NoError(t, s.RunNow("slow"))
	close(release)
	<-done

	snap := s.Snapshot()[0]
	assert.Equal(t, uint64(1), snap.Runs)
	assert.Equal(t, uint64(1), snap.Skipped)
}
