package trends

import (
	"fmt"
	"sort"
	"time"

	"github.com/lvonguyen/threatlens/internal/signals"
)

// TimelineEntry is one event of the merged timeline.
type TimelineEntry struct {
	ID          string              `json:"id"`
	Time        time.Time           `json:"time"`
	Severity    signals.Severity    `json:"severity"`
	SourceTable signals.SourceTable `json:"source_table"`
	Detail      string              `json:"detail"`
}

// MergeTimeline merges signal streams into one feed, newest first, truncated
// to limit (DefaultTimelineLimit when limit is 0). Entries with equal
// timestamps keep their input order, earlier streams first. Events present
// in several streams are not deduplicated.
func MergeTimeline(streams [][]signals.Signal, limit int) ([]TimelineEntry, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: timeline limit must not be negative, got %d", ErrInvalidArgument, limit)
	}
	if limit == 0 {
		limit = DefaultTimelineLimit
	}

	total := 0
	for _, s := range streams {
		total += len(s)
	}
	entries := make([]TimelineEntry, 0, total)
	for _, stream := range streams {
		for _, s := range stream {
			sev := s.Severity
			if sev == "" {
				sev = signals.SeverityMedium
			}
			entries = append(entries, TimelineEntry{
				ID:          s.ID,
				Time:        s.Timestamp,
				Severity:    sev,
				SourceTable: s.SourceTable,
				Detail:      s.Detail,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.After(entries[j].Time)
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
