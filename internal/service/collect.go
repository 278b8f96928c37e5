package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/config"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/provider"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/router"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/store"
)

// coopsCollector binds the CO-OPS client to the router and store; its
// methods are the poller sub-task bodies.
type coopsCollector struct {
	client   *provider.CoopsClient
	store    *store.Store
	mappings map[string]config.FieldMapping
	horizon  time.Duration
	log      *zap.Logger
}

// currentObservation fetches the latest water level, merges in water
// temperature when the station offers it, and persists the routed fields.
func (c *coopsCollector) currentObservation(ctx context.Context, station marine.Station) (*marine.Record, error) {
	rec, err := c.client.WaterLevel(ctx, station)
	if err != nil {
		return nil, err
	}

	if temp, err := c.client.WaterTemperature(ctx, station); err == nil {
		for k, v := range temp.Fields {
			rec.Fields[k] = v
		}
	} else if !errors.Is(err, marine.ErrNotAvailable) {
		// Temperature is a bonus reading; its failure never blocks the
		// water level record.
		c.log.Warn("water temperature fetch failed",
			zap.String("station", station.ID), zap.Error(err))
	}

	persistRecord(ctx, c.store, c.mappings, rec, c.log)
	return &rec, nil
}

// tidePredictions refreshes the rolling forecast window and persists the
// next-high/next-low summary through the regular field routing path.
func (c *coopsCollector) tidePredictions(ctx context.Context, station marine.Station) (*marine.Record, error) {
	preds, summary, err := c.client.TidePredictions(ctx, station, c.horizon)
	if err != nil {
		return nil, err
	}

	if err := c.store.ReplaceForecast(ctx, station.ID, preds, time.Now().UTC()); err != nil {
		c.log.Error("forecast persistence failed",
			zap.String("station", station.ID), zap.Error(err))
	}

	persistRecord(ctx, c.store, c.mappings, summary, c.log)
	return &summary, nil
}

// ndbcCollector binds the NDBC client to the router and store.
type ndbcCollector struct {
	client   *provider.NdbcClient
	store    *store.Store
	mappings map[string]config.FieldMapping
	log      *zap.Logger
}

func (c *ndbcCollector) standardMet(ctx context.Context, station marine.Station) (*marine.Record, error) {
	rec, err := c.client.StandardMet(ctx, station)
	if err != nil {
		return nil, err
	}
	persistRecord(ctx, c.store, c.mappings, rec, c.log)
	return &rec, nil
}

func (c *ndbcCollector) oceanData(ctx context.Context, station marine.Station) (*marine.Record, error) {
	rec, err := c.client.OceanData(ctx, station)
	if err != nil {
		return nil, err
	}
	persistRecord(ctx, c.store, c.mappings, rec, c.log)
	return &rec, nil
}

// persistRecord routes a record's fields to their destination tables and
// upserts each group. A write failure for one table is logged and does not
// abort the remaining tables of the same cycle.
func persistRecord(ctx context.Context, st *store.Store, mappings map[string]config.FieldMapping, rec marine.Record, log *zap.Logger) {
	grouped, dropped := router.Route(mappings, rec)
	if len(dropped) > 0 {
		log.Warn("fields without mapping dropped",
			zap.String("station", rec.StationID), zap.Strings("fields", dropped))
	}
	for table, fields := range grouped {
		if err := st.Upsert(ctx, table, rec.StationID, rec.Timestamp, fields); err != nil {
			log.Error("persistence failed",
				zap.String("table", table), zap.String("station", rec.StationID), zap.Error(err))
		}
	}
}
