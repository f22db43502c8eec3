package trends

import (
	"fmt"
	"time"

	"github.com/lvonguyen/threatlens/internal/signals"
)

// DayLayout formats series day labels.
const DayLayout = "2006-01-02"

// SeriesPoint is one day of a stacked daily series.
type SeriesPoint struct {
	DayLabel string         `json:"day"`
	Counts   map[string]int `json:"counts"`
	Total    int            `json:"total"`
}

// SubCategoryFunc maps a signal to its bucket label within a day. Signals
// for which it returns false are left out of the breakdown.
type SubCategoryFunc func(signals.Signal) (string, bool)

// BySeverity buckets signals by severity.
func BySeverity(s signals.Signal) (string, bool) {
	if s.Severity == "" {
		return string(signals.SeverityMedium), true
	}
	return string(s.Severity), true
}

// BySource buckets signals by source table.
func BySource(s signals.Signal) (string, bool) {
	if s.SourceTable == "" {
		return "", false
	}
	return string(s.SourceTable), true
}

// ByDimension buckets signals by their value for d.
func ByDimension(d signals.Dimension) SubCategoryFunc {
	return func(s signals.Signal) (string, bool) {
		v, ok := s.Key(d)
		return v, ok && v != ""
	}
}

// BuildDailySeries tallies signals per UTC calendar day for the days ending
// on now's day. See BuildDailySeriesIn.
func BuildDailySeries(sigs []signals.Signal, fn SubCategoryFunc, now time.Time, days int) ([]SeriesPoint, error) {
	return BuildDailySeriesIn(sigs, fn, now, days, time.UTC)
}

// BuildDailySeriesIn returns exactly days points, oldest first, from
// now-(days-1) to now in loc. Days without signals are present with empty
// counts. days == 0 uses DefaultChartDays.
func BuildDailySeriesIn(sigs []signals.Signal, fn SubCategoryFunc, now time.Time, days int, loc *time.Location) ([]SeriesPoint, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: series days must not be negative, got %d", ErrInvalidArgument, days)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: sub-category function is required", ErrInvalidArgument)
	}
	if days == 0 {
		days = DefaultChartDays
	}
	if loc == nil {
		loc = time.UTC
	}

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	points := make([]SeriesPoint, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		label := today.AddDate(0, 0, i-(days-1)).Format(DayLayout)
		points[i] = SeriesPoint{DayLabel: label, Counts: map[string]int{}}
		index[label] = i
	}

	for _, s := range sigs {
		if s.Timestamp.IsZero() || s.Timestamp.After(now) {
			continue
		}
		i, ok := index[s.Timestamp.In(loc).Format(DayLayout)]
		if !ok {
			continue
		}
		label, ok := fn(s)
		if !ok {
			continue
		}
		points[i].Counts[label]++
		points[i].Total++
	}
	return points, nil
}
