package intake

import (
	"errors"
	"testing"
	"time"

	"github.com/lvonguyen/threatlens/internal/signals"
)

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	return d
}

// =============================================================================
// Envelope Tests
// =============================================================================

// TestDecode_Envelope verifies feeds decode in order with the caller's now.
func TestDecode_Envelope(t *testing.T) {
	body := []byte(`{
		"now": "2024-06-15T12:00:00Z",
		"feeds": [
			{"source": "threats", "records": [
				{"id": "t1", "hosting_provider": "Acme Host", "asn": 13335, "first_seen": "2024-06-13T08:00:00Z", "tags": ["phish", "kit"]}
			]},
			{"source": "spam_trap_hits", "records": [
				{"id": "s1", "sender_domain": "spam.test", "received_at": 1718445600, "tags": "bulk, promo"}
			]}
		]
	}`)

	batch, err := newDecoder(t).Decode(body)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if want := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC); !batch.Now.Equal(want) {
		t.Errorf("now = %v, want %v", batch.Now, want)
	}
	if len(batch.Feeds) != 2 || batch.Feeds[0].Source != signals.SourceThreats {
		t.Fatalf("unexpected feeds: %+v", batch.Feeds)
	}

	threat, ok := batch.Feeds[0].Records[0].(signals.ThreatRecord)
	if !ok {
		t.Fatalf("expected ThreatRecord, got %T", batch.Feeds[0].Records[0])
	}
	if threat.ASN != "13335" {
		t.Errorf("numeric asn should decode as string, got %q", threat.ASN)
	}
	if len(threat.Tags) != 2 || threat.Tags[1] != "kit" {
		t.Errorf("tags = %v", threat.Tags)
	}

	spam := batch.Feeds[1].Records[0].(signals.SpamTrapHit)
	if spam.ReceivedAt != "2024-06-15T10:00:00Z" {
		t.Errorf("epoch timestamp should render as RFC 3339, got %q", spam.ReceivedAt)
	}
	if len(spam.Tags) != 2 || spam.Tags[0] != "bulk" || spam.Tags[1] != "promo" {
		t.Errorf("comma-separated tags = %v", spam.Tags)
	}
}

// TestDecode_WithoutNow verifies now is optional.
func TestDecode_WithoutNow(t *testing.T) {
	batch, err := newDecoder(t).Decode([]byte(`{"feeds": []}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !batch.Now.IsZero() || len(batch.Feeds) != 0 {
		t.Errorf("unexpected batch %+v", batch)
	}
}

// TestDecode_Invalid verifies envelope validation errors.
func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{"feeds": [`, ErrInvalidPayload},
		{"missing feeds", `{"now": "2024-06-15T12:00:00Z"}`, ErrInvalidPayload},
		{"feeds not array", `{"feeds": {}}`, ErrInvalidPayload},
		{"record not object", `{"feeds": [{"source": "threats", "records": [1]}]}`, ErrInvalidPayload},
		{"missing records", `{"feeds": [{"source": "threats"}]}`, ErrInvalidPayload},
		{"bad now", `{"now": "yesterday", "feeds": []}`, ErrInvalidPayload},
		{"unknown source", `{"feeds": [{"source": "pastebin", "records": []}]}`, ErrUnknownSource},
	}

	d := newDecoder(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode([]byte(tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Record Decoding Tests
// =============================================================================

// TestDecode_AllSources verifies every source table has a decoder and the
// decoded records normalize.
func TestDecode_AllSources(t *testing.T) {
	records := map[signals.SourceTable]string{
		signals.SourceThreats:       `{"id": "1", "hosting_provider": "Acme", "first_seen": "2024-06-14"}`,
		signals.SourceCVEAdvisories: `{"cve_id": "CVE-2024-0001", "vendor": "Acme", "cvss": "9.8", "published_at": "2024-06-14"}`,
		signals.SourceSocialIOCs:    `{"id": "2", "platform": "x", "ioc_type": "domain", "ioc_value": "bad.test", "detected_at": "2024-06-14"}`,
		signals.SourceBreachChecks:  `{"id": "3", "email": "a@b.test", "breached": "true", "breach_count": 2, "checked_at": "2024-06-14"}`,
		signals.SourceEmailAuth:     `{"id": "4", "domain": "b.test", "dmarc_result": "fail", "message_count": 10, "received_at": "2024-06-14"}`,
		signals.SourceATOEvents:     `{"id": "5", "user_email": "a@b.test", "risk_score": 95, "detected_at": "2024-06-14"}`,
		signals.SourceSpamTraps:     `{"id": "6", "sender_domain": "spam.test", "received_at": "2024-06-14"}`,
	}

	d := newDecoder(t)
	for _, source := range signals.SourceTables() {
		t.Run(string(source), func(t *testing.T) {
			raw, ok := records[source]
			if !ok {
				t.Fatalf("no fixture for %s", source)
			}
			body := []byte(`{"feeds": [{"source": "` + string(source) + `", "records": [` + raw + `]}]}`)

			batch, err := d.Decode(body)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			rec := batch.Feeds[0].Records[0]
			if rec.Source() != source {
				t.Errorf("record source = %s, want %s", rec.Source(), source)
			}
			if _, ok := signals.Normalize(rec); !ok {
				t.Errorf("decoded %s record should normalize", source)
			}
		})
	}
}

// TestDecode_LenientFields verifies numeric strings and boolean strings.
func TestDecode_LenientFields(t *testing.T) {
	body := []byte(`{"feeds": [
		{"source": "cve_advisories", "records": [{"cve_id": "CVE-1", "cvss": "7.5"}]},
		{"source": "breach_checks", "records": [{"id": "b", "breached": 1, "breaches": ["LinkedIn", 4, ""]}]}
	]}`)

	batch, err := newDecoder(t).Decode(body)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	cve := batch.Feeds[0].Records[0].(signals.CVEAdvisory)
	if cve.CVSS != 7.5 {
		t.Errorf("cvss = %v, want 7.5", cve.CVSS)
	}

	breach := batch.Feeds[1].Records[0].(signals.BreachCheck)
	if !breach.Breached {
		t.Error("numeric 1 should decode as breached")
	}
	if len(breach.Breaches) != 1 || breach.Breaches[0] != "LinkedIn" {
		t.Errorf("breaches = %v, non-string and empty entries should be skipped", breach.Breaches)
	}
}
