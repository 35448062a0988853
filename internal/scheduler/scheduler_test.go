package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum-trader/pkg/models"
)

var schedBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustPair(t *testing.T, s string, iv models.Interval) models.Pair {
	t.Helper()
	p, err := models.ParsePair(s, iv)
	require.NoError(t, err)
	return p
}

func waitTrigger(t *testing.T, ch <-chan models.Trigger) models.Trigger {
	t.Helper()
	select {
	case trig := <-ch:
		return trig
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a cycle dispatch")
		return models.Trigger{}
	}
}

func assertNoTrigger(t *testing.T, ch <-chan models.Trigger) {
	t.Helper()
	select {
	case trig := <-ch:
		t.Fatalf("unexpected extra cycle: cause=%s fire_time=%s", trig.Cause, trig.FireTime)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCronSpecPerInterval(t *testing.T) {
	tests := []struct {
		interval models.Interval
		want     string
	}{
		{models.Interval1m, "* * * * *"},
		{models.Interval5m, "*/5 * * * *"},
		{models.Interval15m, "*/15 * * * *"},
		{models.Interval1h, "0 * * * *"},
		{models.Interval4h, "0 */4 * * *"},
		{models.Interval1d, "0 0 * * *"},
	}
	for _, tt := range tests {
		spec, err := cronSpec(tt.interval)
		require.NoError(t, err)
		assert.Equal(t, tt.want, spec)
	}

	_, err := cronSpec(models.Interval("7m"))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	log := zerolog.Nop()
	runner := func(context.Context, models.Trigger) {}
	pair := mustPair(t, "BTC/USDT", models.Interval1h)

	_, err := New(nil, runner, log)
	assert.Error(t, err)

	_, err = New([]models.Pair{pair}, nil, log)
	assert.Error(t, err)

	_, err = New([]models.Pair{pair, pair}, runner, log)
	assert.Error(t, err, "duplicate schedules must be rejected")
}

func TestTriggerNowRunsCycle(t *testing.T) {
	runC := make(chan models.Trigger, 8)
	runner := func(_ context.Context, trig models.Trigger) { runC <- trig }

	s, err := New([]models.Pair{mustPair(t, "BTC/USDT", models.Interval1h)}, runner, zerolog.Nop(),
		WithClock(func() time.Time { return schedBase }))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	accepted, err := s.TriggerNow("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)

	trig := waitTrigger(t, runC)
	assert.Equal(t, models.CauseManual, trig.Cause)
	assert.Equal(t, "BTC/USDT", trig.Pair.String())
	assert.Equal(t, models.Interval1h, trig.Interval)
	assert.True(t, trig.FireTime.Equal(schedBase))
}

func TestTriggerNowUnknownPair(t *testing.T) {
	s, err := New([]models.Pair{mustPair(t, "BTC/USDT", models.Interval1h)},
		func(context.Context, models.Trigger) {}, zerolog.Nop())
	require.NoError(t, err)

	_, err = s.TriggerNow("DOGE/USDT")
	assert.ErrorContains(t, err, "unknown pair")
}

func TestTriggerNowFiresAllSchedulesOfPair(t *testing.T) {
	runC := make(chan models.Trigger, 8)
	runner := func(_ context.Context, trig models.Trigger) { runC <- trig }

	pairs := []models.Pair{
		mustPair(t, "BTC/USDT", models.Interval1h),
		mustPair(t, "BTC/USDT", models.Interval4h),
	}
	s, err := New(pairs, runner, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	accepted, err := s.TriggerNow("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 2, accepted)

	got := map[models.Interval]bool{}
	for i := 0; i < 2; i++ {
		got[waitTrigger(t, runC).Interval] = true
	}
	assert.True(t, got[models.Interval1h])
	assert.True(t, got[models.Interval4h])
}

func TestBusyPairCoalescesScheduledTrigger(t *testing.T) {
	started := make(chan models.Trigger, 8)
	release := make(chan struct{})
	runner := func(_ context.Context, trig models.Trigger) {
		started <- trig
		<-release
	}

	pair := mustPair(t, "BTC/USDT", models.Interval1h)
	d := newDispatcher(pair, runner, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.loop(ctx)

	require.True(t, d.offer(models.Trigger{Pair: pair, Interval: pair.Interval, FireTime: schedBase, Cause: models.CauseManual}))
	waitTrigger(t, started)

	// Boundary arrives while the cycle is still running.
	ok := d.offer(models.Trigger{Pair: pair, Interval: pair.Interval, FireTime: schedBase.Add(time.Hour), Cause: models.CauseScheduled})
	assert.False(t, ok)
	assert.Equal(t, uint64(1), d.status().SkippedBusy)

	release <- struct{}{}
	assertNoTrigger(t, started)

	require.Eventually(t, func() bool { return !d.status().Busy }, 2*time.Second, 5*time.Millisecond)
}

func TestEmergencyRunsAfterInFlightCycle(t *testing.T) {
	started := make(chan models.Trigger, 8)
	release := make(chan struct{})
	runner := func(_ context.Context, trig models.Trigger) {
		started <- trig
		<-release
	}

	pair := mustPair(t, "ETH/USDT", models.Interval15m)
	d := newDispatcher(pair, runner, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.loop(ctx)

	require.True(t, d.offer(models.Trigger{Pair: pair, Interval: pair.Interval, FireTime: schedBase, Cause: models.CauseScheduled}))
	waitTrigger(t, started)

	ok := d.offer(models.Trigger{Pair: pair, Interval: pair.Interval, FireTime: schedBase.Add(time.Minute), Cause: models.CauseEmergency, Reason: "stablecoin depeg"})
	assert.True(t, ok, "emergencies are accepted while busy")

	release <- struct{}{}

	second := waitTrigger(t, started)
	assert.Equal(t, models.CauseEmergency, second.Cause)
	assert.Equal(t, "stablecoin depeg", second.Reason)

	release <- struct{}{}
	require.Eventually(t, func() bool { return !d.status().Busy }, 2*time.Second, 5*time.Millisecond)
}

func TestEmergencyReplacesPendingTrigger(t *testing.T) {
	started := make(chan models.Trigger, 8)
	release := make(chan struct{})
	runner := func(_ context.Context, trig models.Trigger) {
		started <- trig
		<-release
	}

	pair := mustPair(t, "SOL/USDT", models.Interval5m)
	d := newDispatcher(pair, runner, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.loop(ctx)

	require.True(t, d.offer(models.Trigger{Pair: pair, Interval: pair.Interval, FireTime: schedBase, Cause: models.CauseManual}))
	waitTrigger(t, started)

	require.True(t, d.offer(models.Trigger{Pair: pair, Interval: pair.Interval, FireTime: schedBase.Add(time.Second), Cause: models.CauseEmergency, Reason: "first"}))
	require.True(t, d.offer(models.Trigger{Pair: pair, Interval: pair.Interval, FireTime: schedBase.Add(2 * time.Second), Cause: models.CauseEmergency, Reason: "second"}))

	release <- struct{}{}

	// Only the replacing emergency runs.
	second := waitTrigger(t, started)
	assert.Equal(t, "second", second.Reason)

	release <- struct{}{}
	assertNoTrigger(t, started)
}

func TestFireTimeMonotonicPerPair(t *testing.T) {
	runC := make(chan models.Trigger, 8)
	runner := func(_ context.Context, trig models.Trigger) { runC <- trig }

	pair := mustPair(t, "BTC/USDT", models.Interval1m)
	d := newDispatcher(pair, runner, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.loop(ctx)

	d.offer(models.Trigger{Pair: pair, Interval: pair.Interval, FireTime: schedBase.Add(10 * time.Minute), Cause: models.CauseManual})
	first := waitTrigger(t, runC)
	require.Eventually(t, func() bool { return !d.status().Busy }, 2*time.Second, 5*time.Millisecond)

	// A trigger carrying an earlier clock reading is clamped forward.
	d.offer(models.Trigger{Pair: pair, Interval: pair.Interval, FireTime: schedBase, Cause: models.CauseManual})
	second := waitTrigger(t, runC)

	assert.False(t, second.FireTime.Before(first.FireTime))
	assert.True(t, second.FireTime.Equal(schedBase.Add(10*time.Minute)))
}

func TestBoundaryFireTimeSnapsToInterval(t *testing.T) {
	runC := make(chan models.Trigger, 8)
	runner := func(_ context.Context, trig models.Trigger) { runC <- trig }

	// Cron jitter: the entry fires seven seconds past the hour.
	s, err := New([]models.Pair{mustPair(t, "BTC/USDT", models.Interval1h)}, runner, zerolog.Nop(),
		WithClock(func() time.Time { return schedBase.Add(7 * time.Second) }))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.fireBoundary(models.Interval1h, s.byInterval[models.Interval1h])

	trig := waitTrigger(t, runC)
	assert.Equal(t, models.CauseScheduled, trig.Cause)
	assert.True(t, trig.FireTime.Equal(schedBase), "fire time snaps to the boundary")
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	started := make(chan struct{})
	done := make(chan struct{})
	runner := func(_ context.Context, _ models.Trigger) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(done)
	}

	s, err := New([]models.Pair{mustPair(t, "BTC/USDT", models.Interval1h)}, runner, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	_, err = s.TriggerNow("BTC/USDT")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never started")
	}

	s.Stop()
	select {
	case <-done:
	default:
		t.Fatal("Stop returned before the in-flight cycle finished")
	}
}

func TestStartTwiceFails(t *testing.T) {
	s, err := New([]models.Pair{mustPair(t, "BTC/USDT", models.Interval1h)},
		func(context.Context, models.Trigger) {}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
}

func TestStatusReportsSchedules(t *testing.T) {
	pairs := []models.Pair{
		mustPair(t, "ETH/USDT", models.Interval15m),
		mustPair(t, "BTC/USDT", models.Interval1h),
	}
	s, err := New(pairs, func(context.Context, models.Trigger) {}, zerolog.Nop())
	require.NoError(t, err)

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "BTC/USDT", status[0].Pair)
	assert.Equal(t, "ETH/USDT", status[1].Pair)
	assert.False(t, status[0].Busy)
	assert.Nil(t, status[0].LastFire)
}
