// Package poller runs the background collection loops and the watchdog
// that supervises them.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
)

// errorCooldown is how long the loop sleeps after a tick blows up before
// resuming, instead of terminating the goroutine.
const errorCooldown = 5 * time.Minute

// CollectFunc performs one sub-task collection for one station. A nil
// record with nil error means the sub-task persisted its output but has
// nothing to retain as a latest snapshot.
type CollectFunc func(ctx context.Context, station marine.Station) (*marine.Record, error)

// Subtask is one independently scheduled collection routine of a poller.
type Subtask struct {
	Name     string
	Interval time.Duration
	Collect  CollectFunc
}

// Poller owns one provider's collection loop: on a short fixed tick it
// runs every due sub-task for every configured station, then records
// liveness. It is restarted by reconstruction; a Poller is never reused
// after Stop.
type Poller struct {
	source     marine.Source
	generation string
	stations   []marine.Station
	subtasks   []Subtask

	checkInterval time.Duration
	cooldown      time.Duration
	lastRun       map[string]time.Time

	// health is the last time a tick fully completed, read by the
	// watchdog. Single writer, timestamp only.
	health *atomic.Int64

	latestMu sync.RWMutex
	latest   map[string]marine.Record

	log  *zap.Logger
	now  func() time.Time
	stop context.CancelFunc
	done chan struct{}
	once sync.Once
}

// New constructs a poller for one provider. Each call gets a fresh
// generation ID so restarted instances are distinguishable in logs.
func New(source marine.Source, stations []marine.Station, subtasks []Subtask, checkInterval time.Duration, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	gen := uuid.NewString()
	return &Poller{
		source:        source,
		generation:    gen,
		stations:      stations,
		subtasks:      subtasks,
		checkInterval: checkInterval,
		cooldown:      errorCooldown,
		lastRun:       make(map[string]time.Time, len(subtasks)),
		health:        atomic.NewInt64(0),
		latest:        make(map[string]marine.Record),
		log:           log.Named(string(source)).With(zap.String("generation", gen)),
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Start launches the collection loop. The loop stops when ctx is
// cancelled or Stop is called, observed only at loop boundaries.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.stop = context.WithCancel(ctx)
	p.health.Store(p.now().UnixNano())
	go p.loop(ctx)
}

// Stop requests a cooperative shutdown. A pending fetch completes before
// the loop exits; callers bound their wait on Done.
func (p *Poller) Stop() {
	p.once.Do(func() {
		if p.stop != nil {
			p.stop()
		}
	})
}

// Done is closed when the loop has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Running reports whether the loop is still executing.
func (p *Poller) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Health returns the last time a tick fully completed.
func (p *Poller) Health() time.Time {
	return time.Unix(0, p.health.Load())
}

func (p *Poller) Source() marine.Source      { return p.source }
func (p *Poller) Generation() string         { return p.generation }
func (p *Poller) Stations() []marine.Station { return p.stations }

// Latest returns a copy of the most recent records per station/sub-task.
func (p *Poller) Latest() map[string]marine.Record {
	p.latestMu.RLock()
	defer p.latestMu.RUnlock()
	out := make(map[string]marine.Record, len(p.latest))
	for k, v := range p.latest {
		out[k] = v
	}
	return out
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	p.log.Info("poller started", zap.Int("stations", len(p.stations)))

	ticker := time.NewTicker(p.checkInterval)
	defer ticker.Stop()

	for {
		if ok := p.tick(ctx); !ok {
			// The tick body panicked; back off hard before resuming.
			p.log.Warn("collection tick failed, cooling down", zap.Duration("cooldown", p.cooldown))
			if err := sleepCtx(ctx, p.cooldown); err != nil {
				p.log.Info("poller stopped")
				return
			}
		}
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// tick runs every due sub-task for every station. A failure for one
// station never aborts the remaining stations, and health advances on any
// tick that completes, whether or not a sub-task fired.
func (p *Poller) tick(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("collection tick panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	now := p.now()
	for i := range p.subtasks {
		st := &p.subtasks[i]
		if last, seen := p.lastRun[st.Name]; seen && now.Sub(last) < st.Interval {
			continue
		}
		for _, station := range p.stations {
			rec, err := st.Collect(ctx, station)
			if err != nil {
				if errors.Is(err, marine.ErrNotAvailable) {
					p.log.Debug("product not available",
						zap.String("subtask", st.Name), zap.String("station", station.ID))
				} else {
					p.log.Error("collection failed",
						zap.String("subtask", st.Name), zap.String("station", station.ID), zap.Error(err))
				}
				continue
			}
			if rec != nil {
				p.storeLatest(st.Name, *rec)
			}
		}
		p.lastRun[st.Name] = now
	}

	p.health.Store(p.now().UnixNano())
	return true
}

func (p *Poller) storeLatest(subtask string, rec marine.Record) {
	p.latestMu.Lock()
	p.latest[rec.StationID+"/"+subtask] = rec
	p.latestMu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
