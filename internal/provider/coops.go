package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
)

const defaultCoopsBaseURL = "https://api.tidesandcurrents.noaa.gov/api/prod/datagetter"

// coopsTimeLayout is the timestamp format used by the CO-OPS API
// (time_zone=gmt, so values are UTC).
const coopsTimeLayout = "2006-01-02 15:04"

// CoopsClient fetches water level observations, water temperature and tide
// predictions from the NOAA CO-OPS API. All requests ask for english units,
// so values are already in the destination's unit system.
type CoopsClient struct {
	baseURL string
	res     resilienceConfig
	circuit *gobreaker.CircuitBreaker
	log     *zap.Logger

	// CO-OPS asks clients to space requests out; enforced across all
	// products on this client.
	minRequestInterval time.Duration
	mu                 sync.Mutex
	lastRequest        time.Time
}

// CoopsOptions configures a CoopsClient.
type CoopsOptions struct {
	BaseURL            string
	Client             *http.Client
	MaxAttempts        int
	BackoffBase        time.Duration
	MinRequestInterval time.Duration
	Logger             *zap.Logger
}

func NewCoopsClient(opts CoopsOptions) *CoopsClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultCoopsBaseURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coops",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &CoopsClient{
		baseURL: opts.BaseURL,
		res: resilienceConfig{
			client:      opts.Client,
			maxAttempts: opts.MaxAttempts,
			backoffBase: opts.BackoffBase,
		},
		circuit:            cb,
		log:                opts.Logger.Named("coops"),
		minRequestInterval: opts.MinRequestInterval,
	}
}

// coopsEnvelope covers the two response shapes the API uses: a data/
// predictions array on success, or an error object (even on HTTP 200).
type coopsEnvelope struct {
	Data []struct {
		Time  string `json:"t"`
		Value string `json:"v"`
		Sigma string `json:"s"`
	} `json:"data"`
	Predictions []struct {
		Time  string `json:"t"`
		Value string `json:"v"`
		Type  string `json:"type"`
	} `json:"predictions"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// WaterLevel fetches the latest water level observation for a station.
func (c *CoopsClient) WaterLevel(ctx context.Context, station marine.Station) (marine.Record, error) {
	params := c.baseParams(station)
	params.Set("product", "water_level")
	params.Set("date", "latest")
	params.Set("datum", station.Datum)

	var env coopsEnvelope
	if err := c.get(ctx, station, params, &env); err != nil {
		return marine.Record{}, err
	}
	if len(env.Data) == 0 {
		return marine.Record{}, &marine.FetchError{
			Source: marine.SourceCoops, StationID: station.ID, Attempts: c.res.maxAttempts,
			Cause: fmt.Errorf("water_level response contained no data"),
		}
	}

	latest := env.Data[0]
	level, err := strconv.ParseFloat(latest.Value, 64)
	if err != nil {
		return marine.Record{}, fmt.Errorf("parse water level %q: %w", latest.Value, err)
	}

	rec := marine.Record{
		StationID: station.ID,
		Timestamp: c.parseTime(latest.Time),
		Fields: map[string]any{
			"water_level": level,
		},
	}
	if latest.Sigma != "" {
		if sigma, err := strconv.ParseFloat(latest.Sigma, 64); err == nil {
			rec.Fields["water_level_sigma"] = sigma
		}
	}
	return rec, nil
}

// WaterTemperature fetches the latest water temperature observation. Not
// every tide gauge carries a temperature sensor; absence is reported as
// marine.ErrNotAvailable rather than a fetch failure.
func (c *CoopsClient) WaterTemperature(ctx context.Context, station marine.Station) (marine.Record, error) {
	params := c.baseParams(station)
	params.Set("product", "water_temperature")
	params.Set("date", "latest")

	var env coopsEnvelope
	if err := c.getOptional(ctx, station, params, &env); err != nil {
		return marine.Record{}, err
	}
	if len(env.Data) == 0 {
		return marine.Record{}, marine.ErrNotAvailable
	}

	latest := env.Data[0]
	temp, err := strconv.ParseFloat(latest.Value, 64)
	if err != nil {
		return marine.Record{}, fmt.Errorf("parse water temperature %q: %w", latest.Value, err)
	}
	return marine.Record{
		StationID: station.ID,
		Timestamp: c.parseTime(latest.Time),
		Fields:    map[string]any{"water_temperature": temp},
	}, nil
}

// TidePredictions fetches high/low tide predictions out to the given
// horizon. It returns the raw prediction rows for the forecast table plus a
// summary record (next high/low, tidal range) for the realtime tables.
func (c *CoopsClient) TidePredictions(ctx context.Context, station marine.Station, horizon time.Duration) ([]marine.TidePrediction, marine.Record, error) {
	now := time.Now().UTC()
	params := c.baseParams(station)
	params.Set("product", "predictions")
	params.Set("interval", "hilo")
	params.Set("datum", station.Datum)
	params.Set("begin_date", now.Format("20060102"))
	params.Set("end_date", now.Add(horizon).Format("20060102"))

	var env coopsEnvelope
	if err := c.get(ctx, station, params, &env); err != nil {
		return nil, marine.Record{}, err
	}
	if len(env.Predictions) == 0 {
		return nil, marine.Record{}, &marine.FetchError{
			Source: marine.SourceCoops, StationID: station.ID, Attempts: c.res.maxAttempts,
			Cause: fmt.Errorf("predictions response contained no rows"),
		}
	}

	var preds []marine.TidePrediction
	for _, row := range env.Predictions {
		ts, err := time.ParseInLocation(coopsTimeLayout, row.Time, time.UTC)
		if err != nil {
			c.log.Warn("skipping prediction with bad timestamp",
				zap.String("station", station.ID), zap.String("t", row.Time))
			continue
		}
		height, err := strconv.ParseFloat(row.Value, 64)
		if err != nil {
			c.log.Warn("skipping prediction with bad height",
				zap.String("station", station.ID), zap.String("v", row.Value))
			continue
		}
		tideType := marine.TideHigh
		if row.Type == "L" {
			tideType = marine.TideLow
		}
		preds = append(preds, marine.TidePrediction{
			StationID: station.ID,
			Time:      ts,
			Type:      tideType,
			Height:    height,
			Datum:     station.Datum,
		})
	}
	if len(preds) == 0 {
		return nil, marine.Record{}, fmt.Errorf("no parsable predictions for station %s", station.ID)
	}

	return preds, summarizePredictions(station.ID, preds, now), nil
}

// summarizePredictions builds the next-high/next-low summary fields that
// feed the realtime tables alongside the forecast rows.
func summarizePredictions(stationID string, preds []marine.TidePrediction, now time.Time) marine.Record {
	rec := marine.Record{
		StationID: stationID,
		Timestamp: now,
		Fields:    map[string]any{},
	}
	var nextHigh, nextLow *marine.TidePrediction
	for i := range preds {
		p := &preds[i]
		if !p.Time.After(now) {
			continue
		}
		if p.Type == marine.TideHigh && nextHigh == nil {
			nextHigh = p
		}
		if p.Type == marine.TideLow && nextLow == nil {
			nextLow = p
		}
		if nextHigh != nil && nextLow != nil {
			break
		}
	}
	if nextHigh != nil {
		rec.Fields["next_high_time"] = nextHigh.Time.Format(time.RFC3339)
		rec.Fields["next_high_height"] = nextHigh.Height
	}
	if nextLow != nil {
		rec.Fields["next_low_time"] = nextLow.Time.Format(time.RFC3339)
		rec.Fields["next_low_height"] = nextLow.Height
	}
	if nextHigh != nil && nextLow != nil {
		rec.Fields["tidal_range"] = math.Abs(nextHigh.Height - nextLow.Height)
	}
	return rec
}

func (c *CoopsClient) baseParams(station marine.Station) url.Values {
	params := url.Values{}
	params.Set("application", "marine-data-service")
	params.Set("station", station.ID)
	params.Set("units", "english")
	params.Set("time_zone", "gmt")
	params.Set("format", "json")
	return params
}

// get performs a resilient request and decodes the JSON envelope. An
// error object in a 200 body is a logical failure and is retried.
func (c *CoopsClient) get(ctx context.Context, station marine.Station, params url.Values, env *coopsEnvelope) error {
	return c.doGet(ctx, station, params, env, false)
}

// getOptional is get for products a station may legitimately not carry:
// both a 404 and a provider error payload become marine.ErrNotAvailable.
func (c *CoopsClient) getOptional(ctx context.Context, station marine.Station, params url.Values, env *coopsEnvelope) error {
	return c.doGet(ctx, station, params, env, true)
}

func (c *CoopsClient) doGet(ctx context.Context, station marine.Station, params url.Values, env *coopsEnvelope, optional bool) error {
	if err := c.pace(ctx); err != nil {
		return err
	}

	build := func() (*http.Request, error) {
		u := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "marine-data-service/1.0")
		req.Header.Set("Accept", "*/*")
		return req, nil
	}

	handle := func(resp *http.Response) error {
		decoded := coopsEnvelope{}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if decoded.Error != nil {
			if optional {
				return permanent(marine.ErrNotAvailable)
			}
			return fmt.Errorf("provider error: %s", decoded.Error.Message)
		}
		*env = decoded
		return nil
	}

	return doWithResilience(ctx, c.res, c.circuit, marine.SourceCoops, station.ID, build, handle)
}

// pace enforces the minimum spacing between requests to the CO-OPS API.
func (c *CoopsClient) pace(ctx context.Context) error {
	if c.minRequestInterval <= 0 {
		return nil
	}
	c.mu.Lock()
	now := time.Now()
	wait := c.minRequestInterval - now.Sub(c.lastRequest)
	if wait > 0 {
		// Reserve the next slot so concurrent callers queue up.
		c.lastRequest = now.Add(wait)
	} else {
		c.lastRequest = now
	}
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return sleepCtx(ctx, wait)
}

func (c *CoopsClient) parseTime(value string) time.Time {
	if ts, err := time.ParseInLocation(coopsTimeLayout, value, time.UTC); err == nil {
		return ts
	}
	return time.Now().UTC()
}
