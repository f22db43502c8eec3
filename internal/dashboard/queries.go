package dashboard

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/lvonguyen/threatlens/internal/signals"
	"github.com/lvonguyen/threatlens/internal/trends"
)

// View names, used for metrics, spans and cache keys.
const (
	ViewGroups      = "groups"
	ViewTrends      = "trends"
	ViewAllTrends   = "trends_all"
	ViewLeaderboard = "leaderboard"
	ViewTimeline    = "timeline"
	ViewSeries      = "series"
)

// GroupsQuery selects the grouping dimension.
type GroupsQuery struct {
	Dimension signals.Dimension
}

// TrendsQuery selects one trend category view.
type TrendsQuery struct {
	Dimension signals.Dimension
	Category  trends.TrendCategory
	Limit     int
}

// AllTrendsQuery selects every trend category view for a dimension.
type AllTrendsQuery struct {
	Dimension signals.Dimension
	Limit     int
}

// LeaderboardQuery ranks groups by a metric.
type LeaderboardQuery struct {
	Dimension signals.Dimension
	Metric    trends.Metric
	Direction trends.Direction
	Limit     int
}

// TimelineQuery caps the merged feed.
type TimelineQuery struct {
	Limit int
}

// SeriesQuery selects the day count and sub-category of a daily series.
// By is "severity", "source" or a dimension name.
type SeriesQuery struct {
	Days int
	By   string
}

func (q GroupsQuery) validate() error {
	return validDimension(q.Dimension)
}

func (q GroupsQuery) canonical() string {
	return url.Values{"dimension": {string(q.Dimension)}}.Encode()
}

func (q TrendsQuery) validate() error {
	if err := validDimension(q.Dimension); err != nil {
		return err
	}
	if !q.Category.Valid() {
		return fmt.Errorf("%w: unknown trend category %q", trends.ErrInvalidArgument, q.Category)
	}
	return validLimit(q.Limit)
}

func (q TrendsQuery) canonical() string {
	return url.Values{
		"dimension": {string(q.Dimension)},
		"category":  {string(q.Category)},
		"limit":     {strconv.Itoa(q.Limit)},
	}.Encode()
}

func (q AllTrendsQuery) validate() error {
	if err := validDimension(q.Dimension); err != nil {
		return err
	}
	return validLimit(q.Limit)
}

func (q AllTrendsQuery) canonical() string {
	return url.Values{
		"dimension": {string(q.Dimension)},
		"limit":     {strconv.Itoa(q.Limit)},
	}.Encode()
}

func (q LeaderboardQuery) validate() error {
	if err := validDimension(q.Dimension); err != nil {
		return err
	}
	if !q.Metric.Valid() {
		return fmt.Errorf("%w: unknown metric %q", trends.ErrInvalidArgument, q.Metric)
	}
	if !q.Direction.Valid() {
		return fmt.Errorf("%w: unknown direction %q", trends.ErrInvalidArgument, q.Direction)
	}
	return validLimit(q.Limit)
}

func (q LeaderboardQuery) canonical() string {
	return url.Values{
		"dimension": {string(q.Dimension)},
		"metric":    {string(q.Metric)},
		"direction": {string(q.Direction)},
		"limit":     {strconv.Itoa(q.Limit)},
	}.Encode()
}

func (q TimelineQuery) validate() error {
	return validLimit(q.Limit)
}

func (q TimelineQuery) canonical() string {
	return url.Values{"limit": {strconv.Itoa(q.Limit)}}.Encode()
}

func (q SeriesQuery) validate() error {
	if q.Days < 0 {
		return fmt.Errorf("%w: days must not be negative, got %d", trends.ErrInvalidArgument, q.Days)
	}
	_, err := subCategory(q.By)
	return err
}

func (q SeriesQuery) canonical() string {
	return url.Values{
		"days": {strconv.Itoa(q.Days)},
		"by":   {q.By},
	}.Encode()
}

// subCategory resolves a series "by" parameter. Empty means severity.
func subCategory(by string) (trends.SubCategoryFunc, error) {
	switch by {
	case "", "severity":
		return trends.BySeverity, nil
	case "source":
		return trends.BySource, nil
	}
	d := signals.Dimension(by)
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unknown series sub-category %q", trends.ErrInvalidArgument, by)
	}
	return trends.ByDimension(d), nil
}

func validDimension(d signals.Dimension) error {
	if !d.Valid() {
		return fmt.Errorf("%w: unknown dimension %q", trends.ErrInvalidArgument, d)
	}
	return nil
}

func validLimit(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: limit must not be negative, got %d", trends.ErrInvalidArgument, n)
	}
	return nil
}
