package trends

import (
	"fmt"
	"sort"
	"time"

	"github.com/lvonguyen/threatlens/internal/signals"
)

// GroupStat aggregates the signals sharing one value of a grouping dimension.
type GroupStat struct {
	Key               string                         `json:"key"`
	Dimension         signals.Dimension              `json:"dimension"`
	TotalCount        int                            `json:"total_count"`
	RecentCount       int                            `json:"recent_count"`
	PriorCount        int                            `json:"prior_count"`
	DistinctValues    map[signals.Attribute][]string `json:"distinct_values,omitempty"`
	SeverityHistogram map[signals.Severity]int       `json:"severity_histogram"`
	FirstSeen         time.Time                      `json:"first_seen"`
	LastSeen          time.Time                      `json:"last_seen"`

	// timestamps of every folded signal, ascending.
	timestamps []time.Time
}

// Distinct returns the number of distinct values seen for an attribute.
func (g GroupStat) Distinct(a signals.Attribute) int {
	return len(g.DistinctValues[a])
}

// groupAcc is the per-call fold state for one group.
type groupAcc struct {
	stat GroupStat
	sets map[signals.Attribute]map[string]struct{}
}

// Aggregate groups signals by dimension. Signals without a value for the
// dimension are excluded. The result does not depend on input order and no
// state survives the call.
func Aggregate(sigs []signals.Signal, dim signals.Dimension) (map[string]GroupStat, error) {
	if !dim.Valid() {
		return nil, fmt.Errorf("%w: unknown dimension %q", ErrInvalidArgument, dim)
	}

	accs := make(map[string]*groupAcc)
	for _, s := range sigs {
		key, ok := s.Key(dim)
		if !ok || key == "" {
			continue
		}
		acc, exists := accs[key]
		if !exists {
			acc = &groupAcc{
				stat: GroupStat{
					Key:               key,
					Dimension:         dim,
					SeverityHistogram: make(map[signals.Severity]int),
				},
				sets: make(map[signals.Attribute]map[string]struct{}),
			}
			accs[key] = acc
		}
		acc.fold(s)
	}

	out := make(map[string]GroupStat, len(accs))
	for key, acc := range accs {
		out[key] = acc.finish()
	}
	return out, nil
}

func (a *groupAcc) fold(s signals.Signal) {
	a.stat.TotalCount++
	sev := s.Severity
	if sev == "" {
		sev = signals.SeverityMedium
	}
	a.stat.SeverityHistogram[sev]++
	a.stat.timestamps = append(a.stat.timestamps, s.Timestamp)

	for attr, v := range s.Attributes {
		if v == "" {
			continue
		}
		set, ok := a.sets[attr]
		if !ok {
			set = make(map[string]struct{})
			a.sets[attr] = set
		}
		set[v] = struct{}{}
	}
}

func (a *groupAcc) finish() GroupStat {
	st := a.stat
	sort.Slice(st.timestamps, func(i, j int) bool { return st.timestamps[i].Before(st.timestamps[j]) })
	if n := len(st.timestamps); n > 0 {
		st.FirstSeen = st.timestamps[0]
		st.LastSeen = st.timestamps[n-1]
	}
	if len(a.sets) > 0 {
		st.DistinctValues = make(map[signals.Attribute][]string, len(a.sets))
		for attr, set := range a.sets {
			vals := make([]string, 0, len(set))
			for v := range set {
				vals = append(vals, v)
			}
			sort.Strings(vals)
			st.DistinctValues[attr] = vals
		}
	}
	return st
}

// Sorted returns the group stats ordered by key.
func Sorted(stats map[string]GroupStat) []GroupStat {
	out := make([]GroupStat, 0, len(stats))
	for _, st := range stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
