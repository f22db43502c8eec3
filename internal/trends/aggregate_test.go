package trends

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/lvonguyen/threatlens/internal/signals"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return testNow.Add(-time.Duration(d) * 24 * time.Hour)
}

func orgSignal(id, org string, ts time.Time, sev signals.Severity, ip string) signals.Signal {
	s := signals.Signal{
		ID:          id,
		Timestamp:   ts,
		Severity:    sev,
		SourceTable: signals.SourceThreats,
		GroupKeys:   map[signals.Dimension]string{signals.DimensionSource: string(signals.SourceThreats)},
	}
	if org != "" {
		s.GroupKeys[signals.DimensionOrg] = org
	}
	if ip != "" {
		s.Attributes = map[signals.Attribute]string{signals.AttributeIP: ip}
	}
	return s
}

// =============================================================================
// Aggregate Tests
// =============================================================================

// TestAggregate_CountsAndDistinctValues verifies per-group totals, the
// severity histogram and set semantics of distinct values.
func TestAggregate_CountsAndDistinctValues(t *testing.T) {
	sigs := []signals.Signal{
		orgSignal("1", "Acme Host", daysAgo(1), signals.SeverityHigh, "203.0.113.1"),
		orgSignal("2", "Acme Host", daysAgo(2), signals.SeverityHigh, "203.0.113.1"),
		orgSignal("3", "Acme Host", daysAgo(3), signals.SeverityLow, "203.0.113.2"),
		orgSignal("4", "Beta Net", daysAgo(4), "", ""),
	}

	stats, err := Aggregate(sigs, signals.DimensionOrg)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(stats) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(stats))
	}

	acme := stats["Acme Host"]
	if acme.TotalCount != 3 {
		t.Errorf("Acme Host total = %d, want 3", acme.TotalCount)
	}
	if got := acme.Distinct(signals.AttributeIP); got != 2 {
		t.Errorf("Acme Host distinct IPs = %d, want 2", got)
	}
	if acme.SeverityHistogram[signals.SeverityHigh] != 2 || acme.SeverityHistogram[signals.SeverityLow] != 1 {
		t.Errorf("unexpected histogram: %v", acme.SeverityHistogram)
	}
	if !acme.FirstSeen.Equal(daysAgo(3)) || !acme.LastSeen.Equal(daysAgo(1)) {
		t.Errorf("unexpected first/last seen: %v / %v", acme.FirstSeen, acme.LastSeen)
	}

	beta := stats["Beta Net"]
	if beta.SeverityHistogram[signals.SeverityMedium] != 1 {
		t.Errorf("missing severity should count as medium, got %v", beta.SeverityHistogram)
	}
	if beta.DistinctValues != nil {
		t.Errorf("expected no distinct values for Beta Net, got %v", beta.DistinctValues)
	}
}

// TestAggregate_ExcludesSignalsWithoutDimension verifies every signal with
// the dimension lands in exactly one group and the rest in none.
func TestAggregate_ExcludesSignalsWithoutDimension(t *testing.T) {
	sigs := []signals.Signal{
		orgSignal("1", "Acme Host", daysAgo(1), signals.SeverityHigh, ""),
		orgSignal("2", "", daysAgo(1), signals.SeverityHigh, ""),
		orgSignal("3", "Gamma Cloud", daysAgo(1), signals.SeverityHigh, ""),
		orgSignal("4", "", daysAgo(1), signals.SeverityHigh, ""),
	}

	stats, err := Aggregate(sigs, signals.DimensionOrg)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	total := 0
	for _, st := range stats {
		total += st.TotalCount
	}
	if total != 2 {
		t.Errorf("expected 2 grouped signals, got %d", total)
	}
	if _, ok := stats[""]; ok {
		t.Error("signals without the dimension must not form an empty-key group")
	}
}

// TestAggregate_OrderIndependent verifies permuting the input yields
// identical group stats.
func TestAggregate_OrderIndependent(t *testing.T) {
	var sigs []signals.Signal
	orgs := []string{"Acme Host", "Beta Net", "Gamma Cloud"}
	ips := []string{"203.0.113.1", "203.0.113.2", "198.51.100.3", ""}
	for i := 0; i < 60; i++ {
		sigs = append(sigs, orgSignal(
			string(rune('a'+i%26)),
			orgs[i%len(orgs)],
			daysAgo(i%40),
			signals.Severities()[i%5],
			ips[i%len(ips)],
		))
	}

	want, err := Aggregate(sigs, signals.DimensionOrg)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 10; round++ {
		shuffled := make([]signals.Signal, len(sigs))
		copy(shuffled, sigs)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		got, err := Aggregate(shuffled, signals.DimensionOrg)
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round %d: permuted input produced different stats", round)
		}
	}
}

// TestAggregate_InvalidDimension verifies an unknown dimension is rejected.
func TestAggregate_InvalidDimension(t *testing.T) {
	_, err := Aggregate(nil, signals.Dimension("hostname"))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

// TestAggregate_EmptyInput verifies empty input yields an empty result.
func TestAggregate_EmptyInput(t *testing.T) {
	stats, err := Aggregate(nil, signals.DimensionCountry)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if stats == nil || len(stats) != 0 {
		t.Errorf("expected empty non-nil map, got %v", stats)
	}
}

// TestSorted verifies key ordering of the stats list.
func TestSorted(t *testing.T) {
	stats := map[string]GroupStat{
		"b": {Key: "b"},
		"a": {Key: "a"},
		"c": {Key: "c"},
	}
	got := Sorted(stats)
	if got[0].Key != "a" || got[1].Key != "b" || got[2].Key != "c" {
		t.Errorf("unexpected order: %v", got)
	}
}
