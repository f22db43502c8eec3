package signals

// Record is a raw feed record of one known source table. The set of
// implementations is closed; each variant owns exactly one normalization.
type Record interface {
	// Source returns the record's source table.
	Source() SourceTable

	normalize() (Signal, bool)
}

// ThreatRecord is a malicious-URL list entry.
type ThreatRecord struct {
	ID              string   `json:"id"`
	URL             string   `json:"url"`
	Domain          string   `json:"domain"`
	IPAddress       string   `json:"ip_address"`
	ASN             string   `json:"asn"`
	HostingProvider string   `json:"hosting_provider"`
	AbuseContact    string   `json:"abuse_contact"`
	Country         string   `json:"country"`
	Brand           string   `json:"brand"`
	ThreatType      string   `json:"threat_type"` // phishing, malware, c2, ...
	Severity        string   `json:"severity"`
	Tags            []string `json:"tags"`
	FirstSeen       string   `json:"first_seen"`
	LastSeen        string   `json:"last_seen"`
}

// CVEAdvisory is a vulnerability advisory.
type CVEAdvisory struct {
	CVEID       string   `json:"cve_id"`
	Title       string   `json:"title"`
	Vendor      string   `json:"vendor"`
	Product     string   `json:"product"`
	Severity    string   `json:"severity"`
	CVSS        float64  `json:"cvss"`
	Tags        []string `json:"tags"`
	PublishedAt string   `json:"published_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// SocialIndicator is an indicator observed on a social-media platform.
type SocialIndicator struct {
	ID          string   `json:"id"`
	Platform    string   `json:"platform"`
	Category    string   `json:"category"`
	IOCType     string   `json:"ioc_type"` // url, domain, ip, handle, ...
	IOCValue    string   `json:"ioc_value"`
	Author      string   `json:"author"`
	Brand       string   `json:"brand"`
	Severity    string   `json:"severity"`
	Tags        []string `json:"tags"`
	DetectedAt  string   `json:"detected_at"`
	CreatedAt   string   `json:"created_at"`
	Description string   `json:"description"`
}

// BreachCheck is the outcome of checking an address against breach corpora.
type BreachCheck struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Domain      string   `json:"domain"`
	Brand       string   `json:"brand"`
	Breached    bool     `json:"breached"`
	BreachCount int      `json:"breach_count"`
	Breaches    []string `json:"breaches"`
	RiskLevel   string   `json:"risk_level"`
	CheckedAt   string   `json:"checked_at"`
}

// EmailAuthReport is one row of a DMARC aggregate report.
type EmailAuthReport struct {
	ID           string `json:"id"`
	ReportingOrg string `json:"reporting_org"`
	Domain       string `json:"domain"`
	SourceIP     string `json:"source_ip"`
	Country      string `json:"country"`
	SPFResult    string `json:"spf_result"`
	DKIMResult   string `json:"dkim_result"`
	DMARCResult  string `json:"dmarc_result"`
	Disposition  string `json:"disposition"` // none, quarantine, reject
	MessageCount int    `json:"message_count"`
	ReceivedAt   string `json:"received_at"`
	DateRangeEnd string `json:"date_range_end"`
}

// AccountTakeoverEvent is a suspected account-takeover attempt.
type AccountTakeoverEvent struct {
	ID         string  `json:"id"`
	UserEmail  string  `json:"user_email"`
	AttackType string  `json:"attack_type"` // credential_stuffing, session_hijack, ...
	SourceIP   string  `json:"source_ip"`
	ASN        string  `json:"asn"`
	Country    string  `json:"country"`
	RiskScore  float64 `json:"risk_score"`
	Severity   string  `json:"severity"`
	DetectedAt string  `json:"detected_at"`
	CreatedAt  string  `json:"created_at"`
}

// SpamTrapHit is a message caught by a spam-trap address.
type SpamTrapHit struct {
	ID           string   `json:"id"`
	TrapAddress  string   `json:"trap_address"`
	SenderIP     string   `json:"sender_ip"`
	SenderDomain string   `json:"sender_domain"`
	Subject      string   `json:"subject"`
	Category     string   `json:"category"`
	Brand        string   `json:"brand"`
	Country      string   `json:"country"`
	Severity     string   `json:"severity"`
	Tags         []string `json:"tags"`
	ReceivedAt   string   `json:"received_at"`
}

func (ThreatRecord) Source() SourceTable         { return SourceThreats }
func (CVEAdvisory) Source() SourceTable          { return SourceCVEAdvisories }
func (SocialIndicator) Source() SourceTable      { return SourceSocialIOCs }
func (BreachCheck) Source() SourceTable          { return SourceBreachChecks }
func (EmailAuthReport) Source() SourceTable      { return SourceEmailAuth }
func (AccountTakeoverEvent) Source() SourceTable { return SourceATOEvents }
func (SpamTrapHit) Source() SourceTable          { return SourceSpamTraps }
