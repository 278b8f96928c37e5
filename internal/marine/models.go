package marine

import (
	"time"
)

// Source identifies which NOAA data provider a station belongs to.
type Source string

const (
	SourceCoops Source = "coops" // CO-OPS tide gauges (water level, predictions)
	SourceNdbc  Source = "ndbc"  // NDBC buoys (meteorological / ocean data)
)

// Station is a single provider-scoped observation point. The station set is
// fixed after configuration load.
type Station struct {
	ID      string
	Source  Source
	Enabled bool

	// Datum is the tidal reference datum for CO-OPS stations (e.g. MLLW).
	// Empty for NDBC stations.
	Datum string
}

// Record is the normalized output of one fetch-and-normalize cycle:
// logical field name -> value (float64 or string). Records are transient;
// they are routed, persisted and discarded within a single cycle.
type Record struct {
	StationID string
	Timestamp time.Time
	Fields    map[string]any
}

// TideType distinguishes high and low water predictions.
type TideType string

const (
	TideHigh TideType = "H"
	TideLow  TideType = "L"
)

// TidePrediction is a single predicted high or low water event.
type TidePrediction struct {
	StationID string
	Time      time.Time
	Type      TideType
	Height    float64
	Datum     string
}

// DaysAhead returns the calendar-day difference between the prediction's
// date and now's date, both in UTC. Negative for predictions already in
// the past.
func (p TidePrediction) DaysAhead(now time.Time) int {
	predDay := truncateToDay(p.Time.UTC())
	nowDay := truncateToDay(now.UTC())
	return int(predDay.Sub(nowDay).Hours() / 24)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
