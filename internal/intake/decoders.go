package intake

import (
	"strconv"
	"strings"
	"time"

	"github.com/lvonguyen/threatlens/internal/signals"
	"github.com/valyala/fastjson"
)

// decoders maps each source table to its record decoder.
var decoders = map[signals.SourceTable]func(*fastjson.Value) signals.Record{
	signals.SourceThreats: func(v *fastjson.Value) signals.Record {
		return signals.ThreatRecord{
			ID:              str(v, "id"),
			URL:             str(v, "url"),
			Domain:          str(v, "domain"),
			IPAddress:       str(v, "ip_address"),
			ASN:             str(v, "asn"),
			HostingProvider: str(v, "hosting_provider"),
			AbuseContact:    str(v, "abuse_contact"),
			Country:         str(v, "country"),
			Brand:           str(v, "brand"),
			ThreatType:      str(v, "threat_type"),
			Severity:        str(v, "severity"),
			Tags:            strs(v, "tags"),
			FirstSeen:       ts(v, "first_seen"),
			LastSeen:        ts(v, "last_seen"),
		}
	},
	signals.SourceCVEAdvisories: func(v *fastjson.Value) signals.Record {
		return signals.CVEAdvisory{
			CVEID:       str(v, "cve_id"),
			Title:       str(v, "title"),
			Vendor:      str(v, "vendor"),
			Product:     str(v, "product"),
			Severity:    str(v, "severity"),
			CVSS:        num(v, "cvss"),
			Tags:        strs(v, "tags"),
			PublishedAt: ts(v, "published_at"),
			UpdatedAt:   ts(v, "updated_at"),
		}
	},
	signals.SourceSocialIOCs: func(v *fastjson.Value) signals.Record {
		return signals.SocialIndicator{
			ID:          str(v, "id"),
			Platform:    str(v, "platform"),
			Category:    str(v, "category"),
			IOCType:     str(v, "ioc_type"),
			IOCValue:    str(v, "ioc_value"),
			Author:      str(v, "author"),
			Brand:       str(v, "brand"),
			Severity:    str(v, "severity"),
			Tags:        strs(v, "tags"),
			DetectedAt:  ts(v, "detected_at"),
			CreatedAt:   ts(v, "created_at"),
			Description: str(v, "description"),
		}
	},
	signals.SourceBreachChecks: func(v *fastjson.Value) signals.Record {
		return signals.BreachCheck{
			ID:          str(v, "id"),
			Email:       str(v, "email"),
			Domain:      str(v, "domain"),
			Brand:       str(v, "brand"),
			Breached:    boolean(v, "breached"),
			BreachCount: int(num(v, "breach_count")),
			Breaches:    strs(v, "breaches"),
			RiskLevel:   str(v, "risk_level"),
			CheckedAt:   ts(v, "checked_at"),
		}
	},
	signals.SourceEmailAuth: func(v *fastjson.Value) signals.Record {
		return signals.EmailAuthReport{
			ID:           str(v, "id"),
			ReportingOrg: str(v, "reporting_org"),
			Domain:       str(v, "domain"),
			SourceIP:     str(v, "source_ip"),
			Country:      str(v, "country"),
			SPFResult:    str(v, "spf_result"),
			DKIMResult:   str(v, "dkim_result"),
			DMARCResult:  str(v, "dmarc_result"),
			Disposition:  str(v, "disposition"),
			MessageCount: int(num(v, "message_count")),
			ReceivedAt:   ts(v, "received_at"),
			DateRangeEnd: ts(v, "date_range_end"),
		}
	},
	signals.SourceATOEvents: func(v *fastjson.Value) signals.Record {
		return signals.AccountTakeoverEvent{
			ID:         str(v, "id"),
			UserEmail:  str(v, "user_email"),
			AttackType: str(v, "attack_type"),
			SourceIP:   str(v, "source_ip"),
			ASN:        str(v, "asn"),
			Country:    str(v, "country"),
			RiskScore:  num(v, "risk_score"),
			Severity:   str(v, "severity"),
			DetectedAt: ts(v, "detected_at"),
			CreatedAt:  ts(v, "created_at"),
		}
	},
	signals.SourceSpamTraps: func(v *fastjson.Value) signals.Record {
		return signals.SpamTrapHit{
			ID:           str(v, "id"),
			TrapAddress:  str(v, "trap_address"),
			SenderIP:     str(v, "sender_ip"),
			SenderDomain: str(v, "sender_domain"),
			Subject:      str(v, "subject"),
			Category:     str(v, "category"),
			Brand:        str(v, "brand"),
			Country:      str(v, "country"),
			Severity:     str(v, "severity"),
			Tags:         strs(v, "tags"),
			ReceivedAt:   ts(v, "received_at"),
		}
	},
}

// str reads a scalar field as a string. Numbers and booleans are rendered
// in their JSON form; anything else is empty.
func str(v *fastjson.Value, key string) string {
	f := v.Get(key)
	if f == nil {
		return ""
	}
	switch f.Type() {
	case fastjson.TypeString:
		return strings.TrimSpace(string(f.GetStringBytes()))
	case fastjson.TypeNumber:
		return f.String()
	case fastjson.TypeTrue:
		return "true"
	case fastjson.TypeFalse:
		return "false"
	}
	return ""
}

// num reads a numeric field, accepting numeric strings.
func num(v *fastjson.Value, key string) float64 {
	f := v.Get(key)
	if f == nil {
		return 0
	}
	switch f.Type() {
	case fastjson.TypeNumber:
		return f.GetFloat64()
	case fastjson.TypeString:
		n, err := strconv.ParseFloat(strings.TrimSpace(string(f.GetStringBytes())), 64)
		if err == nil {
			return n
		}
	}
	return 0
}

// boolean reads a boolean field, accepting "true"/"false" strings and 0/1.
func boolean(v *fastjson.Value, key string) bool {
	f := v.Get(key)
	if f == nil {
		return false
	}
	switch f.Type() {
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeNumber:
		return f.GetFloat64() != 0
	case fastjson.TypeString:
		b, _ := strconv.ParseBool(strings.TrimSpace(string(f.GetStringBytes())))
		return b
	}
	return false
}

// strs reads a string list from an array or a comma-separated string.
func strs(v *fastjson.Value, key string) []string {
	f := v.Get(key)
	if f == nil {
		return nil
	}
	var out []string
	switch f.Type() {
	case fastjson.TypeArray:
		for _, item := range f.GetArray() {
			if item.Type() == fastjson.TypeString {
				if s := strings.TrimSpace(string(item.GetStringBytes())); s != "" {
					out = append(out, s)
				}
			}
		}
	case fastjson.TypeString:
		for _, part := range strings.Split(string(f.GetStringBytes()), ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// ts reads a timestamp field. Strings pass through for the normalizer to
// parse; numbers are Unix seconds and are rendered as RFC 3339.
func ts(v *fastjson.Value, key string) string {
	f := v.Get(key)
	if f == nil {
		return ""
	}
	switch f.Type() {
	case fastjson.TypeString:
		return strings.TrimSpace(string(f.GetStringBytes()))
	case fastjson.TypeNumber:
		if t, ok := timestampValue(f); ok {
			return t.Format(time.RFC3339)
		}
	}
	return ""
}

// timestampValue converts a string or Unix-seconds value into UTC time.
func timestampValue(f *fastjson.Value) (time.Time, bool) {
	switch f.Type() {
	case fastjson.TypeString:
		return signals.ParseTimestamp(string(f.GetStringBytes()))
	case fastjson.TypeNumber:
		secs := f.GetFloat64()
		if secs <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(secs), 0).UTC(), true
	}
	return time.Time{}, false
}
