package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
)

func testStations(ids ...string) []marine.Station {
	out := make([]marine.Station, 0, len(ids))
	for _, id := range ids {
		out = append(out, marine.Station{ID: id, Source: marine.SourceCoops, Enabled: true})
	}
	return out
}

// fakeClock drives tick scheduling without waiting on wall time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTickHonorsSubtaskInterval(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)}
	var fires int
	subtasks := []Subtask{{
		Name:     "current_observation",
		Interval: 10 * time.Minute,
		Collect: func(ctx context.Context, st marine.Station) (*marine.Record, error) {
			fires++
			return nil, nil
		},
	}}

	p := New(marine.SourceCoops, testStations("9414290"), subtasks, time.Minute, nil)
	p.now = clock.now

	// Simulate one hour of one-minute check cycles. The sub-task fires on
	// the first cycle and then every tenth.
	for i := 0; i <= 60; i++ {
		if ok := p.tick(context.Background()); !ok {
			t.Fatalf("tick %d failed", i)
		}
		clock.advance(time.Minute)
	}
	if fires != 7 {
		t.Errorf("sub-task fired %d times, want 7", fires)
	}
}

func TestTickContinuesPastStationFailure(t *testing.T) {
	var collected []string
	subtasks := []Subtask{{
		Name:     "standard_met",
		Interval: time.Hour,
		Collect: func(ctx context.Context, st marine.Station) (*marine.Record, error) {
			if st.ID == "46087" {
				return nil, errors.New("fetch failed")
			}
			collected = append(collected, st.ID)
			return &marine.Record{StationID: st.ID, Fields: map[string]any{"wave_height": 6.5}}, nil
		},
	}}

	p := New(marine.SourceNdbc, testStations("46087", "46013"), subtasks, time.Minute, nil)
	if ok := p.tick(context.Background()); !ok {
		t.Fatal("tick failed")
	}

	if len(collected) != 1 || collected[0] != "46013" {
		t.Errorf("collected = %v, want [46013]", collected)
	}
	latest := p.Latest()
	if _, ok := latest["46013/standard_met"]; !ok {
		t.Errorf("latest snapshot missing for 46013, got %v", latest)
	}
}

func TestTickRecoversPanicWithoutAdvancingHealth(t *testing.T) {
	subtasks := []Subtask{{
		Name:     "current_observation",
		Interval: time.Minute,
		Collect: func(ctx context.Context, st marine.Station) (*marine.Record, error) {
			panic("provider blew up")
		},
	}}

	p := New(marine.SourceCoops, testStations("9414290"), subtasks, time.Minute, nil)
	before := p.Health()
	if ok := p.tick(context.Background()); ok {
		t.Fatal("expected tick to report failure")
	}
	if !p.Health().Equal(before) {
		t.Error("health advanced despite panicked tick")
	}
}

func TestHealthAdvancesOnIdleTick(t *testing.T) {
	p := New(marine.SourceCoops, testStations("9414290"), nil, time.Minute, nil)
	before := p.Health()
	if ok := p.tick(context.Background()); !ok {
		t.Fatal("tick failed")
	}
	if !p.Health().After(before) {
		t.Error("health did not advance on an idle tick")
	}
}

func TestStopClosesDone(t *testing.T) {
	p := New(marine.SourceCoops, testStations("9414290"), nil, 10*time.Millisecond, nil)
	p.Start(context.Background())
	if !p.Running() {
		t.Fatal("poller not running after Start")
	}

	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	if p.Running() {
		t.Error("Running() true after Done closed")
	}
	// Stop is idempotent.
	p.Stop()
}

func TestGenerationsAreDistinct(t *testing.T) {
	a := New(marine.SourceCoops, nil, nil, time.Minute, nil)
	b := New(marine.SourceCoops, nil, nil, time.Minute, nil)
	if a.Generation() == b.Generation() {
		t.Error("expected distinct generation IDs")
	}
}
