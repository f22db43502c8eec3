// Package signals defines the normalized Signal model that every ThreatLens
// view is computed from, together with the typed feed records it is derived
// from.
package signals

import (
	"strings"
	"time"
)

// Severity is the ordinal severity category of a signal.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities returns every severity from most to least severe.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

// ParseSeverity maps a free-form severity string onto a Severity.
// Empty or unrecognized input resolves to SeverityMedium.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical", "crit":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate", "med":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "info", "informational", "none":
		return SeverityInfo
	default:
		return SeverityMedium
	}
}

// Dimension names a grouping axis of a signal.
type Dimension string

const (
	DimensionOrg        Dimension = "org"
	DimensionBrand      Dimension = "brand"
	DimensionCountry    Dimension = "country"
	DimensionAttackType Dimension = "attackType"
	DimensionIOCType    Dimension = "iocType"
	DimensionSource     Dimension = "source"
)

// Dimensions returns the closed set of grouping dimensions.
func Dimensions() []Dimension {
	return []Dimension{
		DimensionOrg,
		DimensionBrand,
		DimensionCountry,
		DimensionAttackType,
		DimensionIOCType,
		DimensionSource,
	}
}

// Valid reports whether d is one of the known dimensions.
func (d Dimension) Valid() bool {
	for _, known := range Dimensions() {
		if d == known {
			return true
		}
	}
	return false
}

// Attribute names a distinct-value attribute collected per group.
type Attribute string

const (
	AttributeIP      Attribute = "ip"
	AttributeDomain  Attribute = "domain"
	AttributeASN     Attribute = "asn"
	AttributeContact Attribute = "contact"
)

// SourceTable is the originating record category of a signal.
type SourceTable string

const (
	SourceThreats       SourceTable = "threats"
	SourceCVEAdvisories SourceTable = "cve_advisories"
	SourceSocialIOCs    SourceTable = "social_iocs"
	SourceBreachChecks  SourceTable = "breach_checks"
	SourceEmailAuth     SourceTable = "email_auth_reports"
	SourceATOEvents     SourceTable = "ato_events"
	SourceSpamTraps     SourceTable = "spam_trap_hits"
)

// SourceTables returns every supported source table.
func SourceTables() []SourceTable {
	return []SourceTable{
		SourceThreats,
		SourceCVEAdvisories,
		SourceSocialIOCs,
		SourceBreachChecks,
		SourceEmailAuth,
		SourceATOEvents,
		SourceSpamTraps,
	}
}

// Valid reports whether s is a supported source table.
func (s SourceTable) Valid() bool {
	for _, known := range SourceTables() {
		if s == known {
			return true
		}
	}
	return false
}

// Signal is the normalized unit every aggregation operates on.
type Signal struct {
	ID          string               `json:"id"`
	Timestamp   time.Time            `json:"timestamp"`
	Severity    Severity             `json:"severity"`
	GroupKeys   map[Dimension]string `json:"group_keys,omitempty"`
	Attributes  map[Attribute]string `json:"attributes,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	SourceTable SourceTable          `json:"source_table"`
	Detail      string               `json:"detail,omitempty"`
}

// Key returns the signal's value for a dimension.
func (s Signal) Key(d Dimension) (string, bool) {
	v, ok := s.GroupKeys[d]
	return v, ok
}

// HasTag reports whether the signal carries the given tag.
func (s Signal) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
