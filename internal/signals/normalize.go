package signals

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// UnknownProvider is the placeholder some feeds emit when the hosting
// organization could not be resolved. It is never used as a group key.
const UnknownProvider = "Unknown Provider"

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// ParseTimestamp parses a feed timestamp into UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// firstTimestamp returns the first candidate that parses.
func firstTimestamp(candidates ...string) (time.Time, bool) {
	for _, c := range candidates {
		if t, ok := ParseTimestamp(c); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Normalize converts a record into a Signal. It returns false when the
// record has no usable timestamp; such records are dropped, never stamped
// with the current time.
func Normalize(r Record) (Signal, bool) {
	if r == nil {
		return Signal{}, false
	}
	return r.normalize()
}

// NormalizeAll normalizes records in order and returns the kept signals.
// onDrop, when non-nil, is called with the index of every dropped record.
func NormalizeAll(records []Record, onDrop func(i int, r Record)) []Signal {
	out := make([]Signal, 0, len(records))
	for i, r := range records {
		s, ok := Normalize(r)
		if !ok {
			if onDrop != nil {
				onDrop(i, r)
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// RecordID returns the identifier carried by a record, or "" when it has none.
func RecordID(r Record) string {
	switch v := r.(type) {
	case ThreatRecord:
		return v.ID
	case CVEAdvisory:
		return v.CVEID
	case SocialIndicator:
		return v.ID
	case BreachCheck:
		return v.ID
	case EmailAuthReport:
		return v.ID
	case AccountTakeoverEvent:
		return v.ID
	case SpamTrapHit:
		return v.ID
	}
	return ""
}

// builder accumulates a Signal, omitting empty dimension and attribute values.
type builder struct {
	s Signal
}

func newBuilder(source SourceTable, id string, ts time.Time, sev Severity) *builder {
	b := &builder{s: Signal{
		ID:          strings.TrimSpace(id),
		Timestamp:   ts,
		Severity:    sev,
		SourceTable: source,
		GroupKeys:   map[Dimension]string{},
		Attributes:  map[Attribute]string{},
	}}
	b.key(DimensionSource, string(source))
	return b
}

func (b *builder) key(d Dimension, value string) *builder {
	if v := strings.TrimSpace(value); v != "" {
		b.s.GroupKeys[d] = v
	}
	return b
}

func (b *builder) attr(a Attribute, value string) *builder {
	if v := strings.TrimSpace(value); v != "" {
		b.s.Attributes[a] = v
	}
	return b
}

func (b *builder) detail(format string, args ...any) *builder {
	b.s.Detail = strings.TrimSpace(fmt.Sprintf(format, args...))
	return b
}

func (b *builder) tags(tags ...string) *builder {
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		b.s.Tags = append(b.s.Tags, t)
	}
	sort.Strings(b.s.Tags)
	return b
}

func (b *builder) build() Signal {
	if len(b.s.Attributes) == 0 {
		b.s.Attributes = nil
	}
	return b.s
}

func (r ThreatRecord) normalize() (Signal, bool) {
	ts, ok := firstTimestamp(r.FirstSeen, r.LastSeen)
	if !ok {
		return Signal{}, false
	}
	org := r.HostingProvider
	if strings.EqualFold(strings.TrimSpace(org), UnknownProvider) {
		org = ""
	}
	b := newBuilder(SourceThreats, r.ID, ts, ParseSeverity(r.Severity)).
		key(DimensionOrg, org).
		key(DimensionBrand, r.Brand).
		key(DimensionCountry, strings.ToUpper(r.Country)).
		key(DimensionAttackType, strings.ToLower(r.ThreatType)).
		key(DimensionIOCType, "url").
		attr(AttributeIP, r.IPAddress).
		attr(AttributeDomain, strings.ToLower(r.Domain)).
		attr(AttributeASN, r.ASN).
		attr(AttributeContact, strings.ToLower(r.AbuseContact)).
		tags(append([]string{r.Brand, r.ThreatType}, r.Tags...)...).
		detail("%s %s", r.ThreatType, r.URL)
	return b.build(), true
}

func (r CVEAdvisory) normalize() (Signal, bool) {
	ts, ok := firstTimestamp(r.PublishedAt, r.UpdatedAt)
	if !ok {
		return Signal{}, false
	}
	sev := ParseSeverity(r.Severity)
	if strings.TrimSpace(r.Severity) == "" && r.CVSS > 0 {
		sev = severityFromCVSS(r.CVSS)
	}
	b := newBuilder(SourceCVEAdvisories, r.CVEID, ts, sev).
		key(DimensionBrand, r.Vendor).
		key(DimensionIOCType, "cve").
		tags(append([]string{r.Vendor, r.Product}, r.Tags...)...).
		detail("%s %s", r.CVEID, r.Title)
	return b.build(), true
}

func (r SocialIndicator) normalize() (Signal, bool) {
	ts, ok := firstTimestamp(r.DetectedAt, r.CreatedAt)
	if !ok {
		return Signal{}, false
	}
	iocType := strings.ToLower(strings.TrimSpace(r.IOCType))
	b := newBuilder(SourceSocialIOCs, r.ID, ts, ParseSeverity(r.Severity)).
		key(DimensionBrand, r.Brand).
		key(DimensionIOCType, iocType).
		key(DimensionAttackType, strings.ToLower(r.Category)).
		tags(append([]string{r.Brand, r.Platform}, r.Tags...)...).
		detail("%s on %s: %s", iocType, r.Platform, r.IOCValue)
	switch iocType {
	case "ip":
		b.attr(AttributeIP, r.IOCValue)
	case "domain":
		b.attr(AttributeDomain, strings.ToLower(r.IOCValue))
	}
	return b.build(), true
}

func (r BreachCheck) normalize() (Signal, bool) {
	ts, ok := ParseTimestamp(r.CheckedAt)
	if !ok {
		return Signal{}, false
	}
	sev := ParseSeverity(r.RiskLevel)
	if strings.TrimSpace(r.RiskLevel) == "" {
		if r.Breached || r.BreachCount > 0 {
			sev = SeverityHigh
		} else {
			sev = SeverityLow
		}
	}
	b := newBuilder(SourceBreachChecks, r.ID, ts, sev).
		key(DimensionBrand, r.Brand).
		key(DimensionIOCType, "email").
		attr(AttributeDomain, strings.ToLower(r.Domain)).
		tags(append([]string{r.Brand}, r.Breaches...)...).
		detail("%s found in %d breaches", r.Email, r.BreachCount)
	return b.build(), true
}

func (r EmailAuthReport) normalize() (Signal, bool) {
	ts, ok := firstTimestamp(r.ReceivedAt, r.DateRangeEnd)
	if !ok {
		return Signal{}, false
	}
	var dmarcTag string
	if r.DMARCResult != "" {
		dmarcTag = "dmarc_" + strings.ToLower(r.DMARCResult)
	}
	b := newBuilder(SourceEmailAuth, r.ID, ts, emailAuthSeverity(r)).
		key(DimensionOrg, r.ReportingOrg).
		key(DimensionCountry, strings.ToUpper(r.Country)).
		key(DimensionIOCType, "ip").
		attr(AttributeIP, r.SourceIP).
		attr(AttributeDomain, strings.ToLower(r.Domain)).
		tags(dmarcTag, r.Disposition).
		detail("DMARC %s for %s from %s (%d messages)", r.DMARCResult, r.Domain, r.SourceIP, r.MessageCount)
	return b.build(), true
}

func (r AccountTakeoverEvent) normalize() (Signal, bool) {
	ts, ok := firstTimestamp(r.DetectedAt, r.CreatedAt)
	if !ok {
		return Signal{}, false
	}
	sev := ParseSeverity(r.Severity)
	if strings.TrimSpace(r.Severity) == "" && r.RiskScore > 0 {
		sev = severityFromScore(r.RiskScore)
	}
	b := newBuilder(SourceATOEvents, r.ID, ts, sev).
		key(DimensionAttackType, strings.ToLower(r.AttackType)).
		key(DimensionCountry, strings.ToUpper(r.Country)).
		key(DimensionIOCType, "ip").
		attr(AttributeIP, r.SourceIP).
		attr(AttributeASN, r.ASN).
		tags(r.AttackType).
		detail("%s against %s from %s", r.AttackType, r.UserEmail, r.SourceIP)
	return b.build(), true
}

func (r SpamTrapHit) normalize() (Signal, bool) {
	ts, ok := ParseTimestamp(r.ReceivedAt)
	if !ok {
		return Signal{}, false
	}
	b := newBuilder(SourceSpamTraps, r.ID, ts, ParseSeverity(r.Severity)).
		key(DimensionBrand, r.Brand).
		key(DimensionCountry, strings.ToUpper(r.Country)).
		key(DimensionAttackType, strings.ToLower(r.Category)).
		key(DimensionIOCType, "domain").
		attr(AttributeIP, r.SenderIP).
		attr(AttributeDomain, strings.ToLower(r.SenderDomain)).
		tags(append([]string{r.Brand, r.Category}, r.Tags...)...).
		detail("%s: %s", r.SenderDomain, r.Subject)
	return b.build(), true
}

func severityFromCVSS(score float64) Severity {
	switch {
	case score >= 9:
		return SeverityCritical
	case score >= 7:
		return SeverityHigh
	case score >= 4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// severityFromScore maps a 0-100 risk score.
func severityFromScore(score float64) Severity {
	switch {
	case score >= 90:
		return SeverityCritical
	case score >= 70:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func emailAuthSeverity(r EmailAuthReport) Severity {
	if strings.EqualFold(r.DMARCResult, "fail") {
		return SeverityHigh
	}
	spfFail := r.SPFResult != "" && !strings.EqualFold(r.SPFResult, "pass")
	dkimFail := r.DKIMResult != "" && !strings.EqualFold(r.DKIMResult, "pass")
	if spfFail || dkimFail {
		return SeverityMedium
	}
	if strings.EqualFold(r.DMARCResult, "pass") {
		return SeverityInfo
	}
	return SeverityMedium
}
