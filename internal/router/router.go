// Package router groups normalized record fields by destination table
// according to the configured field mappings.
package router

import (
	"sort"

	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/config"
	"github.com/inguy24/weewx-noaa-marine-API-sub000/internal/marine"
)

// Route maps each field of a record to its destination table and column.
// Fields with no mapping, or mapped to the no-table sentinel, are dropped
// and reported in the second return value so callers can warn; they are
// never written to an unintended table.
func Route(mappings map[string]config.FieldMapping, rec marine.Record) (map[string]map[string]any, []string) {
	byTable := make(map[string]map[string]any)
	var dropped []string

	for field, value := range rec.Fields {
		fm, ok := mappings[field]
		if !ok || fm.Table == "" || fm.Table == config.TableNone {
			dropped = append(dropped, field)
			continue
		}
		cols, ok := byTable[fm.Table]
		if !ok {
			cols = make(map[string]any)
			byTable[fm.Table] = cols
		}
		cols[fm.Column] = value
	}

	sort.Strings(dropped)
	return byTable, dropped
}
