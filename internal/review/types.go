package review

import (
	"encoding/json"
	"time"
)

// Stage represents the lifecycle state of a review session.
type Stage string

// Session stages. Sessions advance strictly forward; committed and aborted
// are terminal.
const (
	StageDiscovering      Stage = "discovering"
	StageAwaitingReview   Stage = "awaiting_review"
	StageAnalyzing        Stage = "analyzing"
	StageAwaitingApproval Stage = "awaiting_approval"
	StageCommitted        Stage = "committed"
	StageAborted          Stage = "aborted"
)

// Terminal reports whether the stage admits no further transitions.
func (s Stage) Terminal() bool {
	return s == StageCommitted || s == StageAborted
}

// rank orders stages along the forward path. Aborted sits outside the path.
func (s Stage) rank() int {
	switch s {
	case StageDiscovering:
		return 0
	case StageAwaitingReview:
		return 1
	case StageAnalyzing:
		return 2
	case StageAwaitingApproval:
		return 3
	case StageCommitted:
		return 4
	default:
		return -1
	}
}

// AtOrPast reports whether the session has already reached the target stage.
// Duplicate trigger deliveries use this to detect no-op transitions.
func (s Stage) AtOrPast(target Stage) bool {
	return s.rank() >= 0 && target.rank() >= 0 && s.rank() >= target.rank()
}

// Category tags a document with the review domain it belongs to.
type Category string

// Recognized document categories.
const (
	CategoryLegal        Category = "legal"
	CategorySecurity     Category = "security"
	CategoryUnclassified Category = "unclassified"
)

// DocumentOrigin records how a document entered the manifest.
type DocumentOrigin string

// Document origins.
const (
	OriginCrawled DocumentOrigin = "crawled"
	OriginManual  DocumentOrigin = "manual"
)

// Seed is an initial URL supplied to start discovery.
type Seed struct {
	URL        string     `json:"url"`
	Categories []Category `json:"declared_categories,omitempty"`
}

// DocumentRecord is one discovered or manually supplied document.
// Human reviewers only ever toggle Included and Categories; everything else
// is owned by the discovery engine.
type DocumentRecord struct {
	Name          string         `json:"name"`
	SourceURL     string         `json:"source_url"`
	CanonicalURL  string         `json:"canonical_url"`
	Text          string         `json:"-"`
	BlobURI       string         `json:"blob_uri,omitempty"`
	Categories    []Category     `json:"categories"`
	Included      bool           `json:"included"`
	HumanReviewed bool           `json:"human_reviewed"`
	Origin        DocumentOrigin `json:"origin"`
	Depth         int            `json:"depth"`
	FetchError    string         `json:"fetch_error,omitempty"`
	ContextQuote  string         `json:"context_quote,omitempty"`
	RetrievedAt   time.Time      `json:"retrieved_at,omitempty"`
}

// HasCategory reports whether the record carries the given tag.
func (d DocumentRecord) HasCategory(c Category) bool {
	for _, have := range d.Categories {
		if have == c {
			return true
		}
	}
	return false
}

// Classified reports whether the record matched at least one recognized
// category other than unclassified.
func (d DocumentRecord) Classified() bool {
	for _, c := range d.Categories {
		if c != CategoryUnclassified {
			return true
		}
	}
	return false
}

// Manifest is the ordered set of candidate documents for a session, unique
// by canonical URL.
type Manifest struct {
	Documents []DocumentRecord `json:"documents"`
}

// Get returns the record for the canonical URL, if present.
func (m *Manifest) Get(canonicalURL string) (DocumentRecord, bool) {
	for _, d := range m.Documents {
		if d.CanonicalURL == canonicalURL {
			return d, true
		}
	}
	return DocumentRecord{}, false
}

// Upsert inserts a newly discovered record or refreshes an existing one.
// Human-set inclusion state survives re-discovery: for records a reviewer has
// already touched only the fetched text and annotations are refreshed.
func (m *Manifest) Upsert(rec DocumentRecord) {
	for i, d := range m.Documents {
		if d.CanonicalURL != rec.CanonicalURL {
			continue
		}
		if d.HumanReviewed {
			rec.Included = d.Included
			rec.Categories = d.Categories
			rec.HumanReviewed = true
		}
		m.Documents[i] = rec
		return
	}
	m.Documents = append(m.Documents, rec)
}

// Included returns the records currently marked for analysis.
func (m *Manifest) Included() []DocumentRecord {
	var out []DocumentRecord
	for _, d := range m.Documents {
		if d.Included {
			out = append(out, d)
		}
	}
	return out
}

// IncludedByCategory returns included records carrying the given tag.
func (m *Manifest) IncludedByCategory(c Category) []DocumentRecord {
	var out []DocumentRecord
	for _, d := range m.Documents {
		if d.Included && d.HasCategory(c) {
			out = append(out, d)
		}
	}
	return out
}

// AnalysisStatus classifies the outcome of one capability call after retries.
type AnalysisStatus string

// Analysis outcomes. Degraded results flow through to synthesis so partial
// failure is visible data rather than control flow.
const (
	AnalysisSucceeded AnalysisStatus = "succeeded"
	AnalysisDegraded  AnalysisStatus = "degraded"
	AnalysisSkipped   AnalysisStatus = "skipped"
)

// AnalysisResult is the immutable output of one capability invocation.
type AnalysisResult struct {
	Capability string          `json:"capability"`
	Status     AnalysisStatus  `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error,omitempty"`
	ProducedAt time.Time       `json:"produced_at"`
}

// RiskProfile is the caller-supplied risk-tolerance context handed to
// synthesis: who we are (the lens) and how the vendor is used (the subject).
type RiskProfile struct {
	CompanyName       string   `json:"company_name"`
	Industry          string   `json:"industry"`
	Services          string   `json:"services"`
	Regulations       []string `json:"regulations,omitempty"`
	UsageContext      string   `json:"usage_context"`
	DataTypes         string   `json:"data_types"`
	RelationshipOwner string   `json:"relationship_owner"`
	TermLength        string   `json:"term_length,omitempty"`
	DataProcessor     bool     `json:"data_processor"`
}

// VendorTypeSignal maps the processor flag onto the synthesis input signal.
func (p RiskProfile) VendorTypeSignal() string {
	if p.DataProcessor {
		return "Processor"
	}
	return "General Supplier"
}

// RiskRating values permitted in a decision record.
const (
	RiskLow      = "Low"
	RiskMedium   = "Medium"
	RiskHigh     = "High"
	RiskCritical = "Critical"
)

// DataProcessingStatus values permitted in a decision record.
const (
	ProcessingProcessor  = "Processor"
	ProcessingController = "Controller"
	ProcessingNA         = "N/A"
)

// DecisionRecord is the canonical human-approved risk decision. The field set
// is fixed; it must round-trip through the fenced JSON block in session
// comments without loss.
type DecisionRecord struct {
	ProcessorName        string `json:"processor_name"`
	ServiceDescription   string `json:"service_description"`
	UsageSummary         string `json:"usage_summary"`
	RiskRating           string `json:"risk_rating"`
	DataProcessingStatus string `json:"data_processing_status"`
	KeyLegalFinding      string `json:"key_legal_finding"`
	KeySecurityFinding   string `json:"key_security_finding"`
	Mitigations          string `json:"mitigations"`
	RelationshipOwner    string `json:"relationship_owner"`
	TerminationNotice    string `json:"termination_notice"`
}

// Session is one vendor's end-to-end review instance.
type Session struct {
	ID         string           `json:"id"`
	VendorName string           `json:"vendor_name"`
	Stage      Stage            `json:"stage"`
	Seeds      []Seed           `json:"seeds"`
	Profile    RiskProfile      `json:"profile"`
	Manifest   Manifest         `json:"manifest"`
	Results    []AnalysisResult `json:"results,omitempty"`
	Draft      *DecisionRecord  `json:"draft,omitempty"`
	Degraded   []string         `json:"degraded_capabilities,omitempty"`
	AbortCause string           `json:"abort_cause,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// RegistryEntry is one committed decision in the durable registry.
// Re-review writes a superseding entry with a higher version; entries are
// never silently overwritten.
type RegistryEntry struct {
	VendorKey    string         `json:"vendor_key"`
	Version      int            `json:"version"`
	SessionID    string         `json:"session_id"`
	Decision     DecisionRecord `json:"decision"`
	ApprovedAt   time.Time      `json:"approved_at"`
	NextReviewAt time.Time      `json:"next_review_at"`
	AuditRef     string         `json:"audit_ref"`
}

// ReviewInterval returns how long a decision with the given risk rating
// remains valid before re-review is due.
func ReviewInterval(riskRating string) time.Duration {
	const day = 24 * time.Hour
	switch riskRating {
	case RiskHigh, RiskCritical:
		return 180 * day
	case RiskLow:
		return 730 * day
	default:
		return 365 * day
	}
}
