package poller

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Factory builds a fresh poller with the same configuration, used for
// restart-by-reconstruction.
type Factory func() *Poller

type supervised struct {
	name       string
	staleAfter time.Duration
	factory    Factory
	current    *Poller
}

// Watchdog periodically inspects all registered pollers and resurrects
// any that have terminated or whose liveness timestamp has gone stale. It
// never touches the data path, and it never gives up: a failed restart is
// retried at the next cadence tick.
type Watchdog struct {
	sched       *gocron.Scheduler
	interval    time.Duration
	joinTimeout time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	entries []*supervised
	baseCtx context.Context
	stopped bool
}

func NewWatchdog(interval, joinTimeout time.Duration, log *zap.Logger) *Watchdog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watchdog{
		sched:       gocron.NewScheduler(time.UTC),
		interval:    interval,
		joinTimeout: joinTimeout,
		log:         log.Named("watchdog"),
	}
}

// Supervise registers a poller under the watchdog's ownership. The
// staleAfter threshold must exceed the provider's largest sub-task
// interval by a wide margin to avoid false positives.
func (w *Watchdog) Supervise(name string, staleAfter time.Duration, factory Factory) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, &supervised{
		name:       name,
		staleAfter: staleAfter,
		factory:    factory,
		current:    factory(),
	})
}

// Start launches every supervised poller and the inspection cadence.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	w.baseCtx = ctx
	for _, e := range w.entries {
		e.current.Start(ctx)
	}
	w.mu.Unlock()

	if _, err := w.sched.Every(w.interval).Do(w.check); err != nil {
		return err
	}
	w.sched.StartAsync()
	w.log.Info("watchdog started", zap.Duration("interval", w.interval))
	return nil
}

// Stop halts inspection, then stops all pollers and joins each with the
// bounded timeout.
func (w *Watchdog) Stop() {
	w.sched.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	// sched.Stop does not wait for a check already executing; the flag
	// keeps a late pass from resurrecting pollers after shutdown.
	w.stopped = true
	for _, e := range w.entries {
		e.current.Stop()
	}
	for _, e := range w.entries {
		w.join(e.current)
	}
	w.log.Info("watchdog stopped")
}

// Pollers returns a snapshot of the currently supervised pollers.
func (w *Watchdog) Pollers() []*Poller {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Poller, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e.current)
	}
	return out
}

// check is one inspection pass. At most one restart happens per entry per
// pass, and the handle swap occurs under the watchdog's lock so two
// generations of the same poller never run concurrently.
func (w *Watchdog) check() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	for _, e := range w.entries {
		p := e.current
		select {
		case <-p.Done():
			w.log.Warn("poller terminated, restarting",
				zap.String("poller", e.name), zap.String("generation", p.Generation()))
			w.restart(e)
		default:
			age := time.Since(p.Health())
			if age <= e.staleAfter {
				continue
			}
			w.log.Warn("poller stalled, restarting",
				zap.String("poller", e.name),
				zap.String("generation", p.Generation()),
				zap.Duration("health_age", age))
			p.Stop()
			// Restart proceeds even if the stop is not acknowledged
			// within the join timeout.
			w.join(p)
			w.restart(e)
		}
	}
}

func (w *Watchdog) restart(e *supervised) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("poller restart failed, will retry next cycle",
				zap.String("poller", e.name), zap.Any("panic", r))
		}
	}()

	next := e.factory()
	next.Start(w.baseCtx)
	e.current = next
	w.log.Info("poller restarted",
		zap.String("poller", e.name),
		zap.String("source", string(next.Source())),
		zap.String("generation", next.Generation()))
}

func (w *Watchdog) join(p *Poller) {
	timer := time.NewTimer(w.joinTimeout)
	defer timer.Stop()
	select {
	case <-p.Done():
	case <-timer.C:
		w.log.Warn("poller did not stop within join timeout",
			zap.String("generation", p.Generation()))
	}
}
