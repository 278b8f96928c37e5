// Package service owns the marine data collection lifecycle: it builds
// the pollers and watchdog from validated configuration, starts them, and
// tears them down with bounded joins on shutdown.
package service

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/config"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/poller"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/provider"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/store"
)

// Module names used as field-mapping keys in configuration.
const (
	coopsModule = "coops_module"
	ndbcModule  = "ndbc_module"
)

// PollerStatus is a point-in-time view of one supervised poller, exposed
// through the status API.
type PollerStatus struct {
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Generation  string    `json:"generation"`
	Running     bool      `json:"running"`
	LastSuccess time.Time `json:"lastSuccess"`
	Stations    []string  `json:"stations"`
}

// Service is the background data-collection subsystem. The host owns the
// database handle; everything else here is owned by the Service for the
// life of the process.
type Service struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	watchdog *poller.Watchdog
}

// New validates the configuration and constructs the full collection
// pipeline. A configuration problem returns a *marine.ConfigError so the
// host can leave the service disabled without crashing.
func New(ctx context.Context, cfg *config.Config, db *sql.DB, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st := store.New(ctx, db, log)

	s := &Service{
		cfg:      cfg,
		log:      log.Named("marine"),
		store:    st,
		watchdog: poller.NewWatchdog(cfg.WatchdogInterval.Std(), cfg.JoinTimeout.Std(), log),
	}

	httpClient := &http.Client{Timeout: cfg.Timeout.Std()}

	if stations := cfg.CoopsStations(); len(stations) > 0 {
		mappings := cfg.ModuleMappings(coopsModule)
		if mappings == nil {
			return nil, &marine.ConfigError{Reason: "coops stations configured but no coops_module field mappings"}
		}
		collector := &coopsCollector{
			client: provider.NewCoopsClient(provider.CoopsOptions{
				BaseURL:            cfg.Coops.BaseURL,
				Client:             httpClient,
				MaxAttempts:        cfg.MaxRetries,
				BackoffBase:        cfg.BackoffBase.Std(),
				MinRequestInterval: cfg.Coops.MinRequestInterval.Std(),
				Logger:             log,
			}),
			store:    st,
			mappings: mappings,
			horizon:  cfg.Coops.PredictionsHorizon.Std(),
			log:      s.log.Named("coops"),
		}
		subtasks := []poller.Subtask{
			{Name: "current_observation", Interval: cfg.Coops.WaterLevelInterval.Std(), Collect: collector.currentObservation},
			{Name: "tide_predictions", Interval: cfg.Coops.PredictionsInterval.Std(), Collect: collector.tidePredictions},
		}
		s.watchdog.Supervise("coops", cfg.Coops.StaleAfter.Std(), func() *poller.Poller {
			return poller.New(marine.SourceCoops, stations, subtasks, cfg.CheckInterval.Std(), log)
		})
	}

	if stations := cfg.NdbcStations(); len(stations) > 0 {
		mappings := cfg.ModuleMappings(ndbcModule)
		if mappings == nil {
			return nil, &marine.ConfigError{Reason: "ndbc stations configured but no ndbc_module field mappings"}
		}
		collector := &ndbcCollector{
			client: provider.NewNdbcClient(provider.NdbcOptions{
				BaseURL:     cfg.Ndbc.BaseURL,
				Client:      httpClient,
				MaxAttempts: cfg.MaxRetries,
				BackoffBase: cfg.BackoffBase.Std(),
				Logger:      log,
			}),
			store:    st,
			mappings: mappings,
			log:      s.log.Named("ndbc"),
		}
		subtasks := []poller.Subtask{
			{Name: "standard_met", Interval: cfg.Ndbc.ObservationInterval.Std(), Collect: collector.standardMet},
			{Name: "ocean_data", Interval: cfg.Ndbc.OceanInterval.Std(), Collect: collector.oceanData},
		}
		s.watchdog.Supervise("ndbc", cfg.Ndbc.StaleAfter.Std(), func() *poller.Poller {
			return poller.New(marine.SourceNdbc, stations, subtasks, cfg.CheckInterval.Std(), log)
		})
	}

	return s, nil
}

// Start launches the pollers and the watchdog.
func (s *Service) Start(ctx context.Context) error {
	if err := s.watchdog.Start(ctx); err != nil {
		return err
	}
	s.log.Info("marine data collection started", zap.String("dialect", s.store.Dialect()))
	return nil
}

// Stop tears the subsystem down: watchdog first so nothing restarts, then
// the pollers with bounded joins. It returns only once teardown finished.
func (s *Service) Stop() {
	s.watchdog.Stop()
	s.log.Info("marine data collection stopped")
}

// Store exposes the persistence layer, mainly for first-run schema setup.
func (s *Service) Store() *store.Store { return s.store }

// Status reports all supervised pollers.
func (s *Service) Status() []PollerStatus {
	pollers := s.watchdog.Pollers()
	out := make([]PollerStatus, 0, len(pollers))
	for _, p := range pollers {
		var stations []string
		for _, st := range p.Stations() {
			stations = append(stations, st.ID)
		}
		out = append(out, PollerStatus{
			Name:        string(p.Source()),
			Source:      string(p.Source()),
			Generation:  p.Generation(),
			Running:     p.Running(),
			LastSuccess: p.Health(),
			Stations:    stations,
		})
	}
	return out
}

// Latest returns the most recent normalized records across all pollers,
// keyed by "stationID/subtask".
func (s *Service) Latest() map[string]marine.Record {
	out := make(map[string]marine.Record)
	for _, p := range s.watchdog.Pollers() {
		for k, v := range p.Latest() {
			out[k] = v
		}
	}
	return out
}
