// Package trends derives view-ready aggregates from normalized signals:
// per-entity group statistics, recent/prior window trend categories,
// leaderboards, a merged timeline and zero-filled daily series.
//
// Every function is a pure transformation of its inputs and an explicit
// evaluation time. Nothing is cached or shared between calls, so views for
// different dimensions may be computed concurrently from the same snapshot.
package trends

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument marks caller misuse: unknown dimension, metric or
// category, negative limits, or inconsistent windows.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	// DefaultRecentWindow is the span of the recent trend window.
	DefaultRecentWindow = 7 * 24 * time.Hour
	// DefaultPriorWindow is the horizon of the prior window, measured from now.
	DefaultPriorWindow = 30 * 24 * time.Hour
	// DefaultChartDays is the number of days in a daily series.
	DefaultChartDays = 7
	// DefaultMaxChartDays bounds the days a series request may ask for.
	DefaultMaxChartDays = 366
	// DefaultTimelineLimit caps merged timelines.
	DefaultTimelineLimit = 20
)

// Windows holds the tunable window boundaries.
type Windows struct {
	Recent    time.Duration `yaml:"recent_window"`
	Prior     time.Duration `yaml:"prior_window"`
	ChartDays int           `yaml:"chart_days"`
}

// DefaultWindows returns the 7-day recent, 30-day prior, 7-day chart windows.
func DefaultWindows() Windows {
	return Windows{
		Recent:    DefaultRecentWindow,
		Prior:     DefaultPriorWindow,
		ChartDays: DefaultChartDays,
	}
}

// Validate checks that the windows are positive and nested.
func (w Windows) Validate() error {
	if w.Recent <= 0 {
		return fmt.Errorf("%w: recent window must be positive, got %s", ErrInvalidArgument, w.Recent)
	}
	if w.Prior <= w.Recent {
		return fmt.Errorf("%w: prior window %s must exceed recent window %s", ErrInvalidArgument, w.Prior, w.Recent)
	}
	if w.ChartDays <= 0 {
		return fmt.Errorf("%w: chart days must be positive, got %d", ErrInvalidArgument, w.ChartDays)
	}
	return nil
}

// Bucket identifies which trend window a timestamp falls in.
type Bucket int

const (
	BucketNone Bucket = iota
	BucketRecent
	BucketPrior
)

func (b Bucket) String() string {
	switch b {
	case BucketRecent:
		return "recent"
	case BucketPrior:
		return "prior"
	default:
		return "none"
	}
}

// Partition places ts in exactly one of recent (now-Recent, now],
// prior (now-Prior, now-Recent] or neither.
func (w Windows) Partition(ts, now time.Time) Bucket {
	if ts.After(now) {
		return BucketNone
	}
	recentStart := now.Add(-w.Recent)
	if ts.After(recentStart) {
		return BucketRecent
	}
	if ts.After(now.Add(-w.Prior)) {
		return BucketPrior
	}
	return BucketNone
}
