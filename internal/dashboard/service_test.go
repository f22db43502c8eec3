package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lvonguyen/threatlens/internal/cache"
	"github.com/lvonguyen/threatlens/internal/intake"
	"github.com/lvonguyen/threatlens/internal/observability"
	"github.com/lvonguyen/threatlens/internal/signals"
	"github.com/lvonguyen/threatlens/internal/trends"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) string {
	return testNow.AddDate(0, 0, -d).Format(time.RFC3339)
}

// threat renders a threats-feed record.
func threat(id, org, country, firstSeen string) string {
	return fmt.Sprintf(`{"id": %q, "hosting_provider": %q, "country": %q, "ip_address": "10.0.0.%s", "first_seen": %q}`,
		id, org, country, id, firstSeen)
}

// batch renders an envelope with now set to testNow.
func batch(feeds map[string][]string) []byte {
	var parts []string
	for _, source := range []string{"threats", "cve_advisories", "social_iocs", "breach_checks", "email_auth_reports", "ato_events", "spam_trap_hits"} {
		if recs, ok := feeds[source]; ok {
			parts = append(parts, fmt.Sprintf(`{"source": %q, "records": [%s]}`, source, strings.Join(recs, ",")))
		}
	}
	return []byte(fmt.Sprintf(`{"now": %q, "feeds": [%s]}`, testNow.Format(time.RFC3339), strings.Join(parts, ",")))
}

type envelope struct {
	RunID       string          `json:"run_id"`
	View        string          `json:"view"`
	GeneratedAt time.Time       `json:"generated_at"`
	Now         time.Time       `json:"now"`
	Dropped     map[string]int  `json:"dropped"`
	Data        json.RawMessage `json:"data"`
}

func decode(t *testing.T, res *Result, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("unexpected data shape: %v\n%s", err, env.Data)
		}
	}
	return env
}

func newTestService(t *testing.T, c cache.ViewCache) (*Service, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc, err := NewService(Options{
		Cache:          c,
		Metrics:        metrics,
		VisibleDefault: 5,
		Clock:          func() time.Time { return testNow.Add(time.Minute) },
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, metrics
}

// =============================================================================
// View Tests
// =============================================================================

// TestGroups_Classification covers a group with one recent, one prior and
// one expired signal.
func TestGroups_Classification(t *testing.T) {
	svc, _ := newTestService(t, nil)
	body := batch(map[string][]string{"threats": {
		threat("1", "Acme Host", "US", daysAgo(2)),
		threat("2", "Acme Host", "US", daysAgo(10)),
		threat("3", "Acme Host", "US", daysAgo(40)),
	}})

	res, err := svc.Groups(context.Background(), body, GroupsQuery{Dimension: signals.DimensionOrg})
	if err != nil {
		t.Fatalf("Groups failed: %v", err)
	}

	var groups []GroupView
	env := decode(t, res, &groups)

	if env.View != ViewGroups || env.RunID == "" || !env.Now.Equal(testNow) {
		t.Errorf("unexpected envelope %+v", env)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	g := groups[0]
	if g.Key != "Acme Host" || g.TotalCount != 3 || g.RecentCount != 1 || g.PriorCount != 1 {
		t.Errorf("got %s total=%d recent=%d prior=%d", g.Key, g.TotalCount, g.RecentCount, g.PriorCount)
	}
	if len(g.Categories) != 2 || g.Categories[0] != trends.WorstNow || g.Categories[1] != trends.PreviouslyBad {
		t.Errorf("categories = %v", g.Categories)
	}
	if len(g.DistinctValues[signals.AttributeIP]) != 3 {
		t.Errorf("distinct ips = %v", g.DistinctValues[signals.AttributeIP])
	}
}

// TestTrends_Overlapping verifies a group with five prior signals appears
// in both previously_bad and most_improved.
func TestTrends_Overlapping(t *testing.T) {
	svc, _ := newTestService(t, nil)
	var recs []string
	for i := 0; i < 5; i++ {
		recs = append(recs, threat(fmt.Sprint(i), "Beta Net", "DE", daysAgo(15)))
	}
	body := batch(map[string][]string{"threats": recs})

	res, err := svc.AllTrends(context.Background(), body, AllTrendsQuery{Dimension: signals.DimensionOrg})
	if err != nil {
		t.Fatalf("AllTrends failed: %v", err)
	}

	var views map[trends.TrendCategory]trends.Slice[trends.GroupStat]
	decode(t, res, &views)

	if len(views[trends.PreviouslyBad].Items) != 1 || len(views[trends.MostImproved].Items) != 1 {
		t.Errorf("Beta Net should be in both views: %+v", views)
	}
	if len(views[trends.WorstNow].Items) != 0 {
		t.Errorf("worst_now should be empty: %+v", views[trends.WorstNow])
	}

	res, err = svc.Trends(context.Background(), body, TrendsQuery{Dimension: signals.DimensionOrg, Category: trends.MostImproved})
	if err != nil {
		t.Fatalf("Trends failed: %v", err)
	}
	var one trends.Slice[trends.GroupStat]
	decode(t, res, &one)
	if one.Total != 1 || one.Items[0].Key != "Beta Net" || one.Items[0].PriorCount != 5 {
		t.Errorf("most_improved = %+v", one)
	}
}

// TestLeaderboard_TieBreak verifies equal metrics order by key ascending.
func TestLeaderboard_TieBreak(t *testing.T) {
	svc, _ := newTestService(t, nil)
	var recs []string
	for i := 0; i < 4; i++ {
		recs = append(recs,
			threat(fmt.Sprint(i), "Zulu Hosting", "US", daysAgo(1)),
			threat(fmt.Sprint(10+i), "Alpha Hosting", "US", daysAgo(1)))
	}
	body := batch(map[string][]string{"threats": recs})

	res, err := svc.Leaderboard(context.Background(), body, LeaderboardQuery{
		Dimension: signals.DimensionOrg,
		Metric:    trends.MetricRecent,
		Direction: trends.Descending,
		Limit:     1,
	})
	if err != nil {
		t.Fatalf("Leaderboard failed: %v", err)
	}

	var board trends.Slice[trends.GroupStat]
	decode(t, res, &board)
	if len(board.Items) != 1 || board.Items[0].Key != "Alpha Hosting" || !board.More {
		t.Errorf("expected Alpha Hosting first with more=true, got %+v", board)
	}
}

// TestTimeline_Limit verifies the merged feed is newest first and capped.
func TestTimeline_Limit(t *testing.T) {
	svc, _ := newTestService(t, nil)
	body := batch(map[string][]string{
		"threats":        {threat("a", "Acme", "US", daysAgo(3)), threat("b", "Acme", "US", daysAgo(1))},
		"spam_trap_hits": {fmt.Sprintf(`{"id": "s", "sender_domain": "spam.test", "received_at": %q}`, daysAgo(2))},
	})

	res, err := svc.Timeline(context.Background(), body, TimelineQuery{Limit: 2})
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}

	var feed trends.Slice[trends.TimelineEntry]
	decode(t, res, &feed)
	if len(feed.Items) != 2 || feed.Items[0].ID != "b" || feed.Items[1].ID != "s" {
		t.Errorf("unexpected feed %+v", feed.Items)
	}
	if !feed.More || feed.Total != 3 {
		t.Errorf("expected more=true total=3, got more=%v total=%d", feed.More, feed.Total)
	}
}

// TestTimeline_FeedOrderTieBreak verifies equal timestamps follow the order
// the feeds were posted in, with repeated sources kept as separate streams.
func TestTimeline_FeedOrderTieBreak(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ts := daysAgo(1)
	body := []byte(fmt.Sprintf(`{"now": %q, "feeds": [
		{"source": "spam_trap_hits", "records": [{"id": "spam", "sender_domain": "spam.test", "received_at": %q}]},
		{"source": "threats", "records": [%s]},
		{"source": "spam_trap_hits", "records": [{"id": "spam2", "sender_domain": "spam.test", "received_at": %q}]}
	]}`, testNow.Format(time.RFC3339), ts, threat("threat", "Acme", "US", ts), ts))

	res, err := svc.Timeline(context.Background(), body, TimelineQuery{})
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}

	var feed trends.Slice[trends.TimelineEntry]
	decode(t, res, &feed)
	var got []string
	for _, e := range feed.Items {
		got = append(got, e.ID)
	}
	if strings.Join(got, ",") != "spam,threat,spam2" {
		t.Errorf("feed order = %v, want [spam threat spam2]", got)
	}
}

// TestSeries_DefaultDays verifies days=0 uses the configured chart days.
func TestSeries_DefaultDays(t *testing.T) {
	svc, _ := newTestService(t, nil)
	body := batch(map[string][]string{"threats": {
		threat("1", "Acme", "US", daysAgo(0)),
		threat("2", "Acme", "DE", daysAgo(6)),
	}})

	res, err := svc.Series(context.Background(), body, SeriesQuery{By: "country"})
	if err != nil {
		t.Fatalf("Series failed: %v", err)
	}

	var points []trends.SeriesPoint
	decode(t, res, &points)
	if len(points) != trends.DefaultChartDays {
		t.Fatalf("expected %d points, got %d", trends.DefaultChartDays, len(points))
	}
	if points[0].Counts["DE"] != 1 || points[6].Counts["US"] != 1 {
		t.Errorf("unexpected series %+v", points)
	}
}

// TestSeries_MaxDays verifies day counts above the configured maximum are
// rejected before any series is built.
func TestSeries_MaxDays(t *testing.T) {
	svc, err := NewService(Options{MaxChartDays: 30})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	body := batch(nil)

	if _, err := svc.Series(context.Background(), body, SeriesQuery{Days: 31}); !errors.Is(err, trends.ErrInvalidArgument) {
		t.Errorf("days above maximum: got %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.Series(context.Background(), body, SeriesQuery{Days: 30}); err != nil {
		t.Errorf("days at maximum: %v", err)
	}

	if _, err := NewService(Options{MaxChartDays: 3}); !errors.Is(err, trends.ErrInvalidArgument) {
		t.Errorf("maximum below chart days: got %v, want ErrInvalidArgument", err)
	}
}

// TestDropped verifies records without timestamps are counted per source
// and logged with their id.
func TestDropped(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc, err := NewService(Options{Metrics: metrics, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	body := batch(map[string][]string{"threats": {
		threat("1", "Acme", "US", daysAgo(1)),
		`{"id": "bad", "hosting_provider": "Acme", "first_seen": "last tuesday"}`,
	}})

	res, err := svc.Groups(context.Background(), body, GroupsQuery{Dimension: signals.DimensionOrg})
	if err != nil {
		t.Fatalf("Groups failed: %v", err)
	}

	var groups []GroupView
	env := decode(t, res, &groups)
	if env.Dropped["threats"] != 1 {
		t.Errorf("dropped = %v, want threats:1", env.Dropped)
	}
	if groups[0].TotalCount != 1 {
		t.Errorf("dropped record must not be counted, total=%d", groups[0].TotalCount)
	}
	if got := testutil.ToFloat64(metrics.RecordsDropped.WithLabelValues("threats")); got != 1 {
		t.Errorf("records_dropped_total = %v, want 1", got)
	}

	entries := logs.FilterMessage("Dropped record without usable timestamp").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 drop log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["id"] != "bad" || fields["source"] != "threats" || fields["index"] != int64(1) {
		t.Errorf("drop log fields = %v", fields)
	}
}

// TestNowDefaultsToClock verifies the clock supplies now when the batch
// omits it.
func TestNowDefaultsToClock(t *testing.T) {
	svc, _ := newTestService(t, nil)
	res, err := svc.Timeline(context.Background(), []byte(`{"feeds": []}`), TimelineQuery{})
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	env := decode(t, res, nil)
	if !env.Now.Equal(testNow.Add(time.Minute)) {
		t.Errorf("now = %v, want clock time", env.Now)
	}
}

// TestInvalidRequests verifies argument and payload errors.
func TestInvalidRequests(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	body := batch(nil)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"unknown dimension", func() error {
			_, err := svc.Groups(ctx, body, GroupsQuery{Dimension: "planet"})
			return err
		}, trends.ErrInvalidArgument},
		{"unknown category", func() error {
			_, err := svc.Trends(ctx, body, TrendsQuery{Dimension: signals.DimensionOrg, Category: "hot"})
			return err
		}, trends.ErrInvalidArgument},
		{"negative limit", func() error {
			_, err := svc.Leaderboard(ctx, body, LeaderboardQuery{Dimension: signals.DimensionOrg, Metric: trends.MetricTotal, Direction: trends.Descending, Limit: -1})
			return err
		}, trends.ErrInvalidArgument},
		{"unknown metric", func() error {
			_, err := svc.Leaderboard(ctx, body, LeaderboardQuery{Dimension: signals.DimensionOrg, Metric: "score", Direction: trends.Descending})
			return err
		}, trends.ErrInvalidArgument},
		{"negative days", func() error {
			_, err := svc.Series(ctx, body, SeriesQuery{Days: -1})
			return err
		}, trends.ErrInvalidArgument},
		{"unknown series category", func() error {
			_, err := svc.Series(ctx, body, SeriesQuery{By: "planet"})
			return err
		}, trends.ErrInvalidArgument},
		{"malformed body", func() error {
			_, err := svc.Timeline(ctx, []byte(`{`), TimelineQuery{})
			return err
		}, intake.ErrInvalidPayload},
		{"unknown source", func() error {
			_, err := svc.Timeline(ctx, []byte(`{"feeds": [{"source": "irc", "records": []}]}`), TimelineQuery{})
			return err
		}, intake.ErrUnknownSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Cache Tests
// =============================================================================

// TestCache_HitAndInvalidate verifies repeated requests hit the cache and
// invalidation forces recomputation.
func TestCache_HitAndInvalidate(t *testing.T) {
	ctx := context.Background()
	svc, metrics := newTestService(t, cache.NewMemory(time.Minute))
	body := batch(map[string][]string{"threats": {threat("1", "Acme", "US", daysAgo(1))}})
	q := GroupsQuery{Dimension: signals.DimensionOrg}

	first, err := svc.Groups(ctx, body, q)
	if err != nil || first.Cached {
		t.Fatalf("first request: cached=%v err=%v", first != nil && first.Cached, err)
	}
	second, err := svc.Groups(ctx, body, q)
	if err != nil || !second.Cached {
		t.Fatalf("second request should be cached: err=%v", err)
	}
	if string(first.Body) != string(second.Body) {
		t.Error("cached body differs from computed body")
	}

	// A different dimension is a different entry.
	other, _ := svc.Groups(ctx, body, GroupsQuery{Dimension: signals.DimensionCountry})
	if other.Cached {
		t.Error("different query must not share a cache entry")
	}

	if err := svc.Invalidate(ctx, "test"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	third, _ := svc.Groups(ctx, body, q)
	if third.Cached {
		t.Error("request after invalidation should recompute")
	}
	if decode(t, third, nil).RunID == decode(t, first, nil).RunID {
		t.Error("recomputed view should carry a new run id")
	}

	if got := testutil.ToFloat64(metrics.ViewCacheRequests.WithLabelValues(ViewGroups, "hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CacheInvalidations.WithLabelValues("test")); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}
}

// failingCache fails every operation.
type failingCache struct{}

var errBackend = errors.New("backend down")

func (failingCache) Get(context.Context, string) ([]byte, error) { return nil, errBackend }
func (failingCache) Set(context.Context, string, []byte) error   { return errBackend }
func (failingCache) Generation(context.Context) (int64, error)   { return 0, errBackend }
func (failingCache) Invalidate(context.Context) (int64, error)   { return 0, errBackend }
func (failingCache) Ping(context.Context) error                  { return errBackend }
func (failingCache) Close() error                                { return nil }

// TestCache_FailureDegrades verifies cache errors never fail a view.
func TestCache_FailureDegrades(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, failingCache{})

	res, err := svc.Groups(ctx, batch(nil), GroupsQuery{Dimension: signals.DimensionBrand})
	if err != nil || res.Cached {
		t.Fatalf("expected computed view despite cache failure, got %v", err)
	}
	if err := svc.Ready(ctx); !errors.Is(err, errBackend) {
		t.Errorf("Ready = %v, want backend error", err)
	}
	if err := svc.Invalidate(ctx, "test"); !errors.Is(err, errBackend) {
		t.Errorf("Invalidate = %v, want backend error", err)
	}
}
