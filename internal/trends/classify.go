package trends

import (
	"fmt"
	"time"
)

// TrendCategory is a trend bucket a group may qualify for. Categories are
// evaluated independently; one group can belong to several.
type TrendCategory string

const (
	WorstNow      TrendCategory = "worst_now"
	PreviouslyBad TrendCategory = "previously_bad"
	MostImproved  TrendCategory = "most_improved"
)

// TrendCategories returns every category in display order.
func TrendCategories() []TrendCategory {
	return []TrendCategory{WorstNow, PreviouslyBad, MostImproved}
}

// Valid reports whether c is a known category.
func (c TrendCategory) Valid() bool {
	switch c {
	case WorstNow, PreviouslyBad, MostImproved:
		return true
	}
	return false
}

// WindowCounts holds a group's recent and prior window tallies.
type WindowCounts struct {
	Recent int `json:"recent"`
	Prior  int `json:"prior"`
}

// Counts tallies a group's signals into the recent and prior windows
// relative to now. Signals older than the prior horizon, or after now,
// count toward neither.
func Counts(stat GroupStat, now time.Time, w Windows) WindowCounts {
	var c WindowCounts
	for _, ts := range stat.timestamps {
		switch w.Partition(ts, now) {
		case BucketRecent:
			c.Recent++
		case BucketPrior:
			c.Prior++
		}
	}
	return c
}

// Classify returns a copy of stats with RecentCount and PriorCount set for
// the evaluation time now.
func Classify(stats map[string]GroupStat, now time.Time, w Windows) (map[string]GroupStat, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	out := make(map[string]GroupStat, len(stats))
	for key, st := range stats {
		c := Counts(st, now, w)
		st.RecentCount = c.Recent
		st.PriorCount = c.Prior
		out[key] = st
	}
	return out, nil
}

// Qualifies reports whether a classified group belongs to category c.
//
//	worst_now:      recent > 0
//	previously_bad: prior > 0 and recent <= 1
//	most_improved:  prior > 2 and recent < prior
func Qualifies(st GroupStat, c TrendCategory) bool {
	switch c {
	case WorstNow:
		return st.RecentCount > 0
	case PreviouslyBad:
		return st.PriorCount > 0 && st.RecentCount <= 1
	case MostImproved:
		return st.PriorCount > 2 && st.RecentCount < st.PriorCount
	}
	return false
}

// Categories lists every category a classified group qualifies for.
func Categories(st GroupStat) []TrendCategory {
	var out []TrendCategory
	for _, c := range TrendCategories() {
		if Qualifies(st, c) {
			out = append(out, c)
		}
	}
	return out
}

// categoryMetric is the ordering metric of each category view.
var categoryMetric = map[TrendCategory]Metric{
	WorstNow:      MetricRecent,
	PreviouslyBad: MetricPrior,
	MostImproved:  MetricImprovement,
}

// TrendView returns the classified groups qualifying for c, ordered by the
// category's metric descending with ties broken by key ascending.
func TrendView(stats map[string]GroupStat, c TrendCategory) ([]GroupStat, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: unknown trend category %q", ErrInvalidArgument, c)
	}
	members := make([]GroupStat, 0, len(stats))
	for _, st := range stats {
		if Qualifies(st, c) {
			members = append(members, st)
		}
	}
	return Rank(members, categoryMetric[c], Descending)
}

// TrendViews computes every category view independently. A group may
// appear in more than one view.
func TrendViews(stats map[string]GroupStat) map[TrendCategory][]GroupStat {
	out := make(map[TrendCategory][]GroupStat, len(categoryMetric))
	for _, c := range TrendCategories() {
		view, _ := TrendView(stats, c)
		out[c] = view
	}
	return out
}
