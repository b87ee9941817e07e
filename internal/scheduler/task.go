package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MysteriousWolf/southpool-hacs/logger"
)

// State describes what a scheduling task is currently doing.
type State int32

const (
	// StateWaiting means the task is sleeping until the next boundary.
	StateWaiting State = iota
	// StateFiring means the task is running its callback.
	StateFiring
	// StateRecovering means the task detected a missed wake (host suspend)
	// and is firing immediately instead of waiting.
	StateRecovering
	// StateBackoff means the loop hit an unexpected error and is pausing
	// before retrying.
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateFiring:
		return "firing"
	case StateRecovering:
		return "recovering"
	case StateBackoff:
		return "backoff"
	default:
		return "waiting"
	}
}

// precisionWindow is how early the alignment sleep wakes up; the remainder
// is slept off in short final waits to hit the boundary closely.
const precisionWindow = 100 * time.Millisecond

// TaskConfig carries the cadence parameters of one scheduling loop.
type TaskConfig struct {
	// Name identifies the task in logs, e.g. "quarter_hour" or "hourly".
	Name string
	// Interval is the boundary spacing; boundaries are aligned to wall
	// clock multiples of it (:00/:15/:30/:45 for 15m, top of hour for 1h).
	Interval time.Duration
	// RecoveryThreshold is how far past a target boundary the clock may be
	// before the task treats the tick as missed and fires immediately.
	RecoveryThreshold time.Duration
	// Backoff is slept after an unexpected loop error before retrying.
	Backoff time.Duration
}

// FireFunc runs the task's work. recovered is true when the fire happens as
// missed-wake catch-up rather than on the boundary itself.
type FireFunc func(ctx context.Context, recovered bool) error

// Task is one infinitely-looping boundary-aligned scheduler. Fire failures
// are logged and never stop the loop; only context cancellation ends it.
type Task struct {
	cfg   TaskConfig
	clock Clock
	fire  FireFunc
	log   *logger.Log

	// next is the boundary the task is currently targeting. Carried across
	// iterations so a wake long after the target is detectable as a miss.
	next  time.Time
	state atomic.Int32
}

// NewTask creates a scheduling task. It does not start the loop; call Run.
func NewTask(cfg TaskConfig, clock Clock, fire FireFunc) *Task {
	if clock == nil {
		clock = SystemClock()
	}
	return &Task{
		cfg:   cfg,
		clock: clock,
		fire:  fire,
		log:   logger.GetLogger(),
	}
}

// State reports the task's current scheduling state.
func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}

// NextBoundary returns the smallest interval-aligned instant strictly after
// now. Alignment is against the wall clock, so a 15 minute interval yields
// :00/:15/:30/:45 marks regardless of when the loop started.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// Run executes the scheduling loop until ctx is cancelled. Unexpected cycle
// errors trigger a backoff sleep so a bug in boundary math cannot busy-loop.
func (t *Task) Run(ctx context.Context) {
	log := t.log.WithComponent("scheduler").WithFields(logger.Fields{"task": t.cfg.Name})
	log.Info("scheduler task started")

	for {
		if ctx.Err() != nil {
			log.Info("scheduler task cancelled")
			return
		}

		err := t.cycle(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			log.Info("scheduler task cancelled")
			return
		}

		t.setState(StateBackoff)
		log.WithError(err).WithFields(logger.Fields{
			"backoff": t.cfg.Backoff.String(),
		}).Error("scheduler loop error, backing off")
		if serr := t.clock.Sleep(ctx, t.cfg.Backoff); serr != nil {
			log.Info("scheduler task cancelled")
			return
		}
	}
}

// cycle performs a single wait-and-fire round against the stored target
// boundary. It returns an error only for cancellation or an unexpected
// failure of the scheduling machinery itself; fire errors are swallowed
// after logging so the loop always re-enters waiting for the next boundary.
func (t *Task) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler cycle panic: %v", r)
		}
	}()

	log := t.log.WithComponent("scheduler").WithFields(logger.Fields{"task": t.cfg.Name})

	now := t.clock.Now()
	if t.next.IsZero() {
		t.next = NextBoundary(now, t.cfg.Interval)
	}
	wait := t.next.Sub(now)

	if wait < -t.cfg.RecoveryThreshold {
		// The target boundary elapsed while the process was not running,
		// e.g. across a host suspend. Fire now instead of waiting.
		t.setState(StateRecovering)
		log.WithFields(logger.Fields{
			"boundary":  t.next.Format(time.RFC3339),
			"late_secs": (-wait).Seconds(),
		}).Info("missed boundary detected, firing recovery")
		t.fireOnce(ctx, true)
		t.next = NextBoundary(t.clock.Now(), t.cfg.Interval)
		return nil
	}

	t.setState(StateWaiting)
	log.WithFields(logger.Fields{
		"boundary":  t.next.Format(time.RFC3339),
		"wait_secs": wait.Seconds(),
	}).Debug("waiting for next boundary")

	if wait > precisionWindow {
		if err := t.clock.Sleep(ctx, wait-precisionWindow); err != nil {
			return err
		}
	}
	// Final precision wait to land on the boundary itself.
	for {
		remaining := t.next.Sub(t.clock.Now())
		if remaining <= 0 {
			break
		}
		if err := t.clock.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	t.fireOnce(ctx, false)
	t.next = NextBoundary(t.clock.Now(), t.cfg.Interval)
	return nil
}

func (t *Task) fireOnce(ctx context.Context, recovered bool) {
	log := t.log.WithComponent("scheduler").WithFields(logger.Fields{
		"task":      t.cfg.Name,
		"recovered": recovered,
	})

	t.setState(StateFiring)
	start := t.clock.Now()
	if err := t.fire(ctx, recovered); err != nil {
		log.WithError(err).Warn("scheduled fire failed")
	} else {
		log.WithFields(logger.Fields{
			"fired_at": start.Format("15:04:05"),
		}).Info("scheduled fire completed")
	}
	t.setState(StateWaiting)
}
