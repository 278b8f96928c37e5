package marine

import (
	"testing"
	"time"
)

func TestDaysAheadUsesCalendarDates(t *testing.T) {
	now := time.Date(2025, 8, 29, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"same day", time.Date(2025, 8, 29, 0, 15, 0, 0, time.UTC), 0},
		{"next day shortly after midnight", time.Date(2025, 8, 30, 0, 10, 0, 0, time.UTC), 1},
		{"month boundary", time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC), 3},
		{"a week out", time.Date(2025, 9, 5, 6, 0, 0, 0, time.UTC), 7},
		{"yesterday", time.Date(2025, 8, 28, 23, 59, 0, 0, time.UTC), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := TidePrediction{Time: tt.at}
			if got := p.DaysAhead(now); got != tt.want {
				t.Errorf("DaysAhead = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDaysAheadNonUTCInput(t *testing.T) {
	// 2025-08-30 01:00 +0400 is still 2025-08-29 in UTC.
	loc := time.FixedZone("GST", 4*3600)
	p := TidePrediction{Time: time.Date(2025, 8, 30, 1, 0, 0, 0, loc)}
	now := time.Date(2025, 8, 29, 12, 0, 0, 0, time.UTC)
	if got := p.DaysAhead(now); got != 0 {
		t.Errorf("DaysAhead = %d, want 0", got)
	}
}
