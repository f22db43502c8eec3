package trends

import (
	"fmt"
	"sort"

	"github.com/lvonguyen/threatlens/internal/signals"
)

// Metric is the primary ordering value of a leaderboard.
type Metric string

const (
	MetricTotal           Metric = "total"
	MetricRecent          Metric = "recent"
	MetricPrior           Metric = "prior"
	MetricImprovement     Metric = "improvement" // prior - recent
	MetricDistinctIP      Metric = "distinct_ip"
	MetricDistinctDomain  Metric = "distinct_domain"
	MetricDistinctASN     Metric = "distinct_asn"
	MetricDistinctContact Metric = "distinct_contact"
)

var metricValues = map[Metric]func(GroupStat) float64{
	MetricTotal:           func(g GroupStat) float64 { return float64(g.TotalCount) },
	MetricRecent:          func(g GroupStat) float64 { return float64(g.RecentCount) },
	MetricPrior:           func(g GroupStat) float64 { return float64(g.PriorCount) },
	MetricImprovement:     func(g GroupStat) float64 { return float64(g.PriorCount - g.RecentCount) },
	MetricDistinctIP:      func(g GroupStat) float64 { return float64(g.Distinct(signals.AttributeIP)) },
	MetricDistinctDomain:  func(g GroupStat) float64 { return float64(g.Distinct(signals.AttributeDomain)) },
	MetricDistinctASN:     func(g GroupStat) float64 { return float64(g.Distinct(signals.AttributeASN)) },
	MetricDistinctContact: func(g GroupStat) float64 { return float64(g.Distinct(signals.AttributeContact)) },
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	_, ok := metricValues[m]
	return ok
}

// Value returns the metric's value for a group.
func (m Metric) Value(g GroupStat) float64 {
	if fn, ok := metricValues[m]; ok {
		return fn(g)
	}
	return 0
}

// Direction is the ordering of the primary metric.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Valid reports whether d is asc or desc.
func (d Direction) Valid() bool {
	return d == Ascending || d == Descending
}

// Rank orders group stats by metric. Equal metric values are ordered by key
// ascending regardless of direction. The input slice is not modified.
func Rank(stats []GroupStat, m Metric, d Direction) ([]GroupStat, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: unknown metric %q", ErrInvalidArgument, m)
	}
	return RankBy(stats, m.Value, func(g GroupStat) string { return g.Key }, d)
}

// RankMap ranks every group of an aggregate result.
func RankMap(stats map[string]GroupStat, m Metric, d Direction) ([]GroupStat, error) {
	list := make([]GroupStat, 0, len(stats))
	for _, st := range stats {
		list = append(list, st)
	}
	return Rank(list, m, d)
}

// RankBy orders arbitrary items by value, breaking ties by key ascending.
func RankBy[T any](items []T, value func(T) float64, key func(T) string, d Direction) ([]T, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidArgument, d)
	}
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := value(out[i]), value(out[j])
		if vi != vj {
			if d == Descending {
				return vi > vj
			}
			return vi < vj
		}
		return key(out[i]) < key(out[j])
	})
	return out, nil
}

// Slice is a visible prefix of a ranked list.
type Slice[T any] struct {
	Items []T  `json:"items"`
	Total int  `json:"total"`
	More  bool `json:"more"`
}

// Visible returns the first n items and whether more exist. n == 0 returns
// every item.
func Visible[T any](items []T, n int) (Slice[T], error) {
	if n < 0 {
		return Slice[T]{}, fmt.Errorf("%w: visible count must not be negative, got %d", ErrInvalidArgument, n)
	}
	if items == nil {
		items = []T{}
	}
	if n == 0 || n >= len(items) {
		return Slice[T]{Items: items, Total: len(items)}, nil
	}
	return Slice[T]{Items: items[:n:n], Total: len(items), More: true}, nil
}
