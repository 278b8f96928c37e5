package provider

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
)

const defaultNdbcBaseURL = "https://www.ndbc.noaa.gov/data/realtime2"

// missingValue is the NDBC sentinel for an absent reading. It maps to
// "field absent", never to a default.
const missingValue = "MM"

// stdmetFields maps NDBC standard meteorological columns to logical field
// names. Values are converted out of the declared units at this boundary.
var stdmetFields = map[string]string{
	"WVHT": "wave_height",
	"DPD":  "wave_period",
	"APD":  "avg_wave_period",
	"MWD":  "wave_direction",
	"WSPD": "wind_speed",
	"WDIR": "wind_direction",
	"GST":  "wind_gust",
	"ATMP": "air_temperature",
	"WTMP": "sea_surface_temp",
	"PRES": "barometric_pressure",
	"VIS":  "visibility",
	"DEWP": "dewpoint",
	"TIDE": "tide_level",
}

// oceanFields maps NDBC .ocean file columns to logical field names.
var oceanFields = map[string]string{
	"OTMP": "ocean_temp_surface",
	"COND": "conductivity",
	"SAL":  "salinity",
}

// NdbcClient fetches realtime buoy data files from NDBC. Files are
// whitespace-delimited text: a column-name header, a units line, then one
// data line per observation with the most recent first.
type NdbcClient struct {
	baseURL string
	res     resilienceConfig
	circuit *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NdbcOptions configures an NdbcClient.
type NdbcOptions struct {
	BaseURL     string
	Client      *http.Client
	MaxAttempts int
	BackoffBase time.Duration
	Logger      *zap.Logger
}

func NewNdbcClient(opts NdbcOptions) *NdbcClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultNdbcBaseURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ndbc",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &NdbcClient{
		baseURL: opts.BaseURL,
		res: resilienceConfig{
			client:      opts.Client,
			maxAttempts: opts.MaxAttempts,
			backoffBase: opts.BackoffBase,
		},
		circuit: cb,
		log:     opts.Logger.Named("ndbc"),
	}
}

// StandardMet fetches and normalizes the latest standard meteorological
// observation for a buoy.
func (c *NdbcClient) StandardMet(ctx context.Context, station marine.Station) (marine.Record, error) {
	return c.fetchFile(ctx, station, ".txt", stdmetFields)
}

// OceanData fetches the latest ocean temperature/salinity observation.
// Buoys without ocean sensors yield marine.ErrNotAvailable.
func (c *NdbcClient) OceanData(ctx context.Context, station marine.Station) (marine.Record, error) {
	return c.fetchFile(ctx, station, ".ocean", oceanFields)
}

func (c *NdbcClient) fetchFile(ctx context.Context, station marine.Station, ext string, fields map[string]string) (marine.Record, error) {
	var rec marine.Record

	build := func() (*http.Request, error) {
		u := fmt.Sprintf("%s/%s%s", c.baseURL, station.ID, ext)
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "marine-data-service/1.0")
		return req, nil
	}

	handle := func(resp *http.Response) error {
		parsed, err := parseRealtimeFile(resp, station.ID, fields)
		if err != nil {
			return err
		}
		rec = parsed
		return nil
	}

	if err := doWithResilience(ctx, c.res, c.circuit, marine.SourceNdbc, station.ID, build, handle); err != nil {
		return marine.Record{}, err
	}
	return rec, nil
}

// parseRealtimeFile reads an NDBC realtime file and returns the most
// recent observation normalized to logical field names and destination
// units. Data rows whose field count does not match the header are
// discarded.
func parseRealtimeFile(resp *http.Response, stationID string, fields map[string]string) (marine.Record, error) {
	scanner := bufio.NewScanner(resp.Body)

	var header, units []string
	var row []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cols := strings.Fields(line)
		switch {
		case header == nil:
			header = trimHash(cols)
		case units == nil:
			units = trimHash(cols)
		default:
			if len(cols) != len(header) {
				continue
			}
			row = cols
		}
		if row != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return marine.Record{}, fmt.Errorf("read realtime file: %w", err)
	}
	if header == nil || units == nil || row == nil {
		return marine.Record{}, fmt.Errorf("realtime file for %s has no usable data rows", stationID)
	}
	if len(units) != len(header) {
		return marine.Record{}, fmt.Errorf("realtime file for %s has %d unit columns for %d header columns",
			stationID, len(units), len(header))
	}

	byName := make(map[string]int, len(header))
	for i, name := range header {
		byName[name] = i
	}

	rec := marine.Record{
		StationID: stationID,
		Timestamp: parseObservationTime(byName, row),
		Fields:    map[string]any{},
	}

	for col, logical := range fields {
		idx, ok := byName[col]
		if !ok {
			continue
		}
		raw := row[idx]
		if raw == missingValue {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		rec.Fields[logical] = convertUnit(value, units[idx])
	}
	return rec, nil
}

func trimHash(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.TrimPrefix(c, "#")
	}
	return out
}

// parseObservationTime assembles a UTC timestamp from the YY MM DD hh mm
// time columns. Falls back to now when the columns are unusable.
func parseObservationTime(byName map[string]int, row []string) time.Time {
	get := func(name string) (int, bool) {
		idx, ok := byName[name]
		if !ok {
			return 0, false
		}
		n, err := strconv.Atoi(row[idx])
		if err != nil {
			return 0, false
		}
		return n, true
	}

	year, okY := get("YY")
	month, okMo := get("MM")
	day, okD := get("DD")
	hour, okH := get("hh")
	minute, okMi := get("mm")
	if !okY || !okMo || !okD || !okH || !okMi {
		return time.Now().UTC()
	}
	// NDBC sometimes uses 2-digit years.
	if year < 50 {
		year += 2000
	} else if year < 100 {
		year += 1900
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

// convertUnit converts a value from the unit declared in the file's units
// line to the destination unit system (feet, mph, Fahrenheit, inHg).
// Unrecognized units pass through unchanged.
func convertUnit(value float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "m":
		return value * 3.28084
	case "m/s":
		return value * 2.23694
	case "degc":
		return value*9.0/5.0 + 32.0
	case "hpa":
		return value * 0.029530
	default:
		return value
	}
}
