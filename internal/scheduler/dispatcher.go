package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quorum-trader/pkg/models"
)

// dispatcher serializes cycles for one (pair, interval) schedule. Its
// goroutine runs at most one cycle at a time; offer is called from cron
// and API goroutines and never blocks.
type dispatcher struct {
	pair   models.Pair
	runner Runner
	log    zerolog.Logger
	wake   chan struct{}

	mu       sync.Mutex
	running  bool
	next     *models.Trigger
	lastFire time.Time
	skipped  uint64
}

func newDispatcher(pair models.Pair, runner Runner, log zerolog.Logger) *dispatcher {
	return &dispatcher{
		pair:   pair,
		runner: runner,
		log:    log.With().Str("pair", pair.String()).Str("interval", string(pair.Interval)).Logger(),
		wake:   make(chan struct{}, 1),
	}
}

// offer hands a trigger to the dispatcher. While a cycle is in flight
// (or a trigger already waits) SCHEDULED and MANUAL triggers are dropped
// with a skipped_busy count; EMERGENCY replaces whatever is pending and
// runs next. Fire times are clamped so delivery stays monotonic per pair.
func (d *dispatcher) offer(trig models.Trigger) bool {
	d.mu.Lock()

	if trig.FireTime.Before(d.lastFire) {
		trig.FireTime = d.lastFire
	}
	d.lastFire = trig.FireTime

	busy := d.running || d.next != nil
	if busy && trig.Cause != models.CauseEmergency {
		d.skipped++
		d.mu.Unlock()
		getOrCreateSchedulerMetrics().skippedBusy.WithLabelValues(d.pair.String()).Inc()
		d.log.Debug().
			Str("cause", string(trig.Cause)).
			Time("fire_time", trig.FireTime).
			Msg("Trigger coalesced, cycle in flight")
		return false
	}

	if d.next != nil {
		d.log.Warn().
			Str("replaced_cause", string(d.next.Cause)).
			Msg("Pending trigger replaced by emergency")
	}
	d.next = &trig
	d.mu.Unlock()

	getOrCreateSchedulerMetrics().triggers.WithLabelValues(string(trig.Cause)).Inc()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// loop drains accepted triggers one at a time until ctx is cancelled.
func (d *dispatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			trig := d.next
			d.next = nil
			if trig != nil {
				d.running = true
			}
			d.mu.Unlock()

			if trig == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}

			d.log.Debug().
				Str("cause", string(trig.Cause)).
				Time("fire_time", trig.FireTime).
				Msg("Dispatching cycle")
			d.runner(ctx, *trig)

			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
		}
	}
}

func (d *dispatcher) status() PairStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := PairStatus{
		Pair:        d.pair.String(),
		Interval:    d.pair.Interval,
		Busy:        d.running || d.next != nil,
		SkippedBusy: d.skipped,
	}
	if !d.lastFire.IsZero() {
		t := d.lastFire
		st.LastFire = &t
	}
	return st
}
