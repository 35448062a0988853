// Package scheduler fires cycle triggers at interval boundaries and
// serializes them per pair. Each pair gets a dispatcher goroutine that
// guarantees at-most-one in-flight cycle; boundary triggers that arrive
// while a cycle runs are coalesced, emergency triggers park in a one-slot
// pending buffer and run next.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"quorum-trader/pkg/models"
)

// Runner executes one decision cycle for a trigger. The orchestrator is
// the production runner. It must respect ctx cancellation.
type Runner func(ctx context.Context, trig models.Trigger)

// cronSpec maps an interval to its UTC cron entry. Cron never backfills
// ticks missed while the process was down; the next future boundary fires.
func cronSpec(iv models.Interval) (string, error) {
	switch iv {
	case models.Interval1m:
		return "* * * * *", nil
	case models.Interval5m:
		return "*/5 * * * *", nil
	case models.Interval15m:
		return "*/15 * * * *", nil
	case models.Interval1h:
		return "0 * * * *", nil
	case models.Interval4h:
		return "0 */4 * * *", nil
	case models.Interval1d:
		return "0 0 * * *", nil
	default:
		return "", fmt.Errorf("no cron spec for interval %q", iv)
	}
}

// Scheduler owns the cron entries and the per-pair dispatchers.
type Scheduler struct {
	cron        *cron.Cron
	runner      Runner
	log         zerolog.Logger
	now         func() time.Time
	dispatchers map[string]*dispatcher // keyed by "BASE/QUOTE@interval"
	byInterval  map[models.Interval][]*dispatcher

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// SchedulerOption configures optional behavior.
type SchedulerOption func(*Scheduler)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// New builds a scheduler for the configured pairs. Cron entries are
// registered per distinct interval; dispatchers per (pair, interval).
func New(pairs []models.Pair, runner Runner, log zerolog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("scheduler requires at least one pair")
	}
	if runner == nil {
		return nil, fmt.Errorf("scheduler requires a runner")
	}

	s := &Scheduler{
		cron:        cron.New(cron.WithLocation(time.UTC)),
		runner:      runner,
		log:         log.With().Str("component", "scheduler").Logger(),
		now:         time.Now,
		dispatchers: make(map[string]*dispatcher),
		byInterval:  make(map[models.Interval][]*dispatcher),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, pair := range pairs {
		if err := pair.Validate(); err != nil {
			return nil, err
		}
		key := dispatchKey(pair)
		if _, dup := s.dispatchers[key]; dup {
			return nil, fmt.Errorf("duplicate pair schedule: %s", key)
		}
		d := newDispatcher(pair, runner, s.log)
		s.dispatchers[key] = d
		s.byInterval[pair.Interval] = append(s.byInterval[pair.Interval], d)
	}

	for iv, group := range s.byInterval {
		spec, err := cronSpec(iv)
		if err != nil {
			return nil, err
		}
		if _, err := s.cron.AddFunc(spec, func() { s.fireBoundary(iv, group) }); err != nil {
			return nil, fmt.Errorf("failed to register cron entry for %s: %w", iv, err)
		}
		s.log.Info().
			Str("interval", string(iv)).
			Str("cron", spec).
			Int("pairs", len(group)).
			Msg("Schedule registered")
	}

	return s, nil
}

func dispatchKey(pair models.Pair) string {
	return pair.String() + "@" + string(pair.Interval)
}

// fireBoundary emits one SCHEDULED trigger per pair on an interval
// boundary. Fire time is snapped to the boundary itself so records are
// deterministic regardless of cron jitter.
func (s *Scheduler) fireBoundary(iv models.Interval, group []*dispatcher) {
	fireTime := s.now().UTC().Truncate(iv.Duration())
	for _, d := range group {
		d.offer(models.Trigger{
			Pair:     d.pair,
			Interval: iv,
			FireTime: fireTime,
			Cause:    models.CauseScheduled,
		})
	}
}

// Start launches the dispatcher goroutines and the cron loop. The given
// context bounds every cycle the runner executes; cancelling it aborts
// in-flight cycles and stops trigger delivery.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, d := range s.dispatchers {
		s.wg.Add(1)
		go func(d *dispatcher) {
			defer s.wg.Done()
			d.loop(runCtx)
		}(d)
	}

	s.cron.Start()
	s.log.Info().Int("pairs", len(s.dispatchers)).Msg("Scheduler started")
	return nil
}

// Stop halts trigger delivery and waits for in-flight cycles to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	cancel()
	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

// TriggerNow fires a MANUAL trigger for every schedule of the named pair
// ("BASE/QUOTE"). Returns how many dispatchers accepted it.
func (s *Scheduler) TriggerNow(pairName string) (int, error) {
	return s.deliver(pairName, models.CauseManual, "")
}

// TriggerEmergency fires an EMERGENCY trigger for every schedule of the
// named pair. Emergencies preempt any pending trigger and run right after
// the in-flight cycle, never concurrently with it.
func (s *Scheduler) TriggerEmergency(pairName, reason string) (int, error) {
	return s.deliver(pairName, models.CauseEmergency, reason)
}

func (s *Scheduler) deliver(pairName string, cause models.TriggerCause, reason string) (int, error) {
	now := s.now().UTC()
	accepted := 0
	found := false
	for _, d := range s.dispatchers {
		if d.pair.String() != pairName {
			continue
		}
		found = true
		ok := d.offer(models.Trigger{
			Pair:     d.pair,
			Interval: d.pair.Interval,
			FireTime: now,
			Cause:    cause,
			Reason:   reason,
		})
		if ok {
			accepted++
		}
	}
	if !found {
		return 0, fmt.Errorf("unknown pair: %s", pairName)
	}
	return accepted, nil
}

// PairStatus is one dispatcher's view for the status API.
type PairStatus struct {
	Pair        string          `json:"pair"`
	Interval    models.Interval `json:"interval"`
	Busy        bool            `json:"busy"`
	SkippedBusy uint64          `json:"skipped_busy"`
	LastFire    *time.Time      `json:"last_fire,omitempty"`
}

// Status reports every dispatcher's current state, ordered by pair.
func (s *Scheduler) Status() []PairStatus {
	out := make([]PairStatus, 0, len(s.dispatchers))
	for _, d := range s.dispatchers {
		out = append(out, d.status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pair != out[j].Pair {
			return out[i].Pair < out[j].Pair
		}
		return out[i].Interval < out[j].Interval
	})
	return out
}
