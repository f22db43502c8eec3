package dashboard

import (
	"context"
	"fmt"

	"github.com/lvonguyen/threatlens/internal/trends"
)

// GroupView is a classified group with the categories it qualifies for.
type GroupView struct {
	trends.GroupStat
	Categories []trends.TrendCategory `json:"categories"`
}

// Groups returns every group of a dimension, classified and ordered by key.
func (s *Service) Groups(ctx context.Context, body []byte, q GroupsQuery) (*Result, error) {
	return s.serve(ctx, ViewGroups, q, body, func(snap *snapshot) (any, error) {
		stats, err := s.classified(snap, q.Dimension)
		if err != nil {
			return nil, err
		}
		out := make([]GroupView, 0, len(stats))
		for _, st := range trends.Sorted(stats) {
			cats := trends.Categories(st)
			if cats == nil {
				cats = []trends.TrendCategory{}
			}
			out = append(out, GroupView{GroupStat: st, Categories: cats})
		}
		return out, nil
	})
}

// Trends returns one trend category view.
func (s *Service) Trends(ctx context.Context, body []byte, q TrendsQuery) (*Result, error) {
	return s.serve(ctx, ViewTrends, q, body, func(snap *snapshot) (any, error) {
		stats, err := s.classified(snap, q.Dimension)
		if err != nil {
			return nil, err
		}
		view, err := trends.TrendView(stats, q.Category)
		if err != nil {
			return nil, err
		}
		return visible(s, view, q.Limit)
	})
}

// AllTrends returns every trend category view, keyed by category. A group
// may appear under more than one category.
func (s *Service) AllTrends(ctx context.Context, body []byte, q AllTrendsQuery) (*Result, error) {
	return s.serve(ctx, ViewAllTrends, q, body, func(snap *snapshot) (any, error) {
		stats, err := s.classified(snap, q.Dimension)
		if err != nil {
			return nil, err
		}
		out := make(map[trends.TrendCategory]trends.Slice[trends.GroupStat], 3)
		for c, view := range trends.TrendViews(stats) {
			out[c], err = visible(s, view, q.Limit)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

// Leaderboard ranks the groups of a dimension by a metric.
func (s *Service) Leaderboard(ctx context.Context, body []byte, q LeaderboardQuery) (*Result, error) {
	return s.serve(ctx, ViewLeaderboard, q, body, func(snap *snapshot) (any, error) {
		stats, err := s.classified(snap, q.Dimension)
		if err != nil {
			return nil, err
		}
		ranked, err := trends.RankMap(stats, q.Metric, q.Direction)
		if err != nil {
			return nil, err
		}
		return visible(s, ranked, q.Limit)
	})
}

// Timeline merges the feeds into one newest-first feed. Each feed is one
// stream, so equal timestamps keep the order the feeds were posted in.
func (s *Service) Timeline(ctx context.Context, body []byte, q TimelineQuery) (*Result, error) {
	return s.serve(ctx, ViewTimeline, q, body, func(snap *snapshot) (any, error) {
		limit := q.Limit
		if limit == 0 {
			limit = s.timelineLimit
		}
		entries, err := trends.MergeTimeline(snap.streams, limit)
		if err != nil {
			return nil, err
		}
		return trends.Slice[trends.TimelineEntry]{
			Items: entries,
			Total: len(snap.signals),
			More:  len(snap.signals) > len(entries),
		}, nil
	})
}

// Series returns a zero-filled daily series ending on the evaluation day.
// Requests for more than the configured maximum of days are rejected.
func (s *Service) Series(ctx context.Context, body []byte, q SeriesQuery) (*Result, error) {
	if q.Days > s.maxChartDays {
		return nil, fmt.Errorf("%w: days must not exceed %d, got %d", trends.ErrInvalidArgument, s.maxChartDays, q.Days)
	}
	return s.serve(ctx, ViewSeries, q, body, func(snap *snapshot) (any, error) {
		fn, err := subCategory(q.By)
		if err != nil {
			return nil, err
		}
		days := q.Days
		if days == 0 {
			days = s.windows.ChartDays
		}
		return trends.BuildDailySeriesIn(snap.signals, fn, snap.now, days, s.location)
	})
}
