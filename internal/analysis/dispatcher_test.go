package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vendor-review-pipeline/internal/capability"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

type fakeInvoker struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	errs      map[string]error
	inputs    map[string]map[string]any
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		responses: map[string]json.RawMessage{},
		errs:      map[string]error{},
		inputs:    map[string]map[string]any{},
	}
}

func (f *fakeInvoker) Invoke(_ context.Context, capabilityName string, input map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	f.inputs[capabilityName] = input
	f.mu.Unlock()
	if err := f.errs[capabilityName]; err != nil {
		return nil, err
	}
	if raw, ok := f.responses[capabilityName]; ok {
		return raw, nil
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeInvoker) inputFor(capabilityName string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[capabilityName]
}

func (f *fakeInvoker) invoked(capabilityName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.inputs[capabilityName]
	return ok
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

var synthesisOK = json.RawMessage(`{
	"report": {"overall_assessment": "Adopt", "executive_summary": "Fine."},
	"draft_approval_data": {
		"processor_name": "Example Inc",
		"service_description": "Hosted CI",
		"usage_summary": "Builds and tests",
		"risk_rating": "Medium",
		"data_processing_status": "Processor",
		"relationship_owner": "eng-lead"
	}
}`)

func analysisSession() *review.Session {
	return &review.Session{
		ID:         "sess-1",
		VendorName: "Example Inc",
		Profile: review.RiskProfile{
			CompanyName:       "Acme Corp",
			Industry:          "Fintech",
			UsageContext:      "CI for backend services",
			DataTypes:         "Source code",
			RelationshipOwner: "eng-lead",
			DataProcessor:     true,
		},
		Manifest: review.Manifest{Documents: []review.DocumentRecord{
			{
				CanonicalURL: "https://vendor.example/terms",
				SourceURL:    "https://vendor.example/terms",
				Text:         "Legal terms text.",
				Categories:   []review.Category{review.CategoryLegal},
				Included:     true,
			},
			{
				CanonicalURL: "https://vendor.example/security",
				SourceURL:    "https://vendor.example/security",
				Text:         "Security posture text.",
				Categories:   []review.Category{review.CategorySecurity},
				Included:     true,
			},
		}},
	}
}

func newTestDispatcher(invoker review.Invoker) *Dispatcher {
	return New(invoker, fixedClock{at: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}, Config{}, nil)
}

func TestAnalyze_FanOutScopedByCategory(t *testing.T) {
	t.Parallel()

	invoker := newFakeInvoker()
	invoker.responses[capability.CapabilityLegal] = json.RawMessage(`{"summary": "legal ok"}`)
	invoker.responses[capability.CapabilitySecurity] = json.RawMessage(`{"summary": "security ok"}`)
	invoker.responses[capability.CapabilitySynthesis] = synthesisOK

	session := analysisSession()
	require.NoError(t, newTestDispatcher(invoker).Analyze(context.Background(), session))

	legalInput := invoker.inputFor(capability.CapabilityLegal)
	require.Contains(t, legalInput["consolidated_text"], "Legal terms text.")
	require.NotContains(t, legalInput["consolidated_text"], "Security posture text.")
	require.Contains(t, legalInput["company_profile"], "Acme Corp")

	securityInput := invoker.inputFor(capability.CapabilitySecurity)
	require.Contains(t, securityInput["consolidated_text"], "Security posture text.")

	synthesisInput := invoker.inputFor(capability.CapabilitySynthesis)
	require.Equal(t, "Processor", synthesisInput["vendor_type_signal"])
	require.Equal(t, "eng-lead", synthesisInput["relationship_owner"])
	require.Contains(t, synthesisInput["legal_json_string"], "legal ok")
	require.Contains(t, synthesisInput["security_json_string"], "security ok")

	require.Len(t, session.Results, 3)
	for _, r := range session.Results {
		require.Equal(t, review.AnalysisSucceeded, r.Status)
	}
	require.Empty(t, session.Degraded)
	require.NotNil(t, session.Draft)
	require.Equal(t, "Example Inc", session.Draft.ProcessorName)
	require.Equal(t, review.RiskMedium, session.Draft.RiskRating)
}

func TestAnalyze_SkipsEmptyCategory(t *testing.T) {
	t.Parallel()

	invoker := newFakeInvoker()
	invoker.responses[capability.CapabilityLegal] = json.RawMessage(`{"summary": "legal ok"}`)
	invoker.responses[capability.CapabilitySynthesis] = synthesisOK

	session := analysisSession()
	// Drop the security document.
	session.Manifest.Documents = session.Manifest.Documents[:1]

	require.NoError(t, newTestDispatcher(invoker).Analyze(context.Background(), session))
	require.False(t, invoker.invoked(capability.CapabilitySecurity))

	security, ok := findResult(session, capability.CapabilitySecurity)
	require.True(t, ok)
	require.Equal(t, review.AnalysisSkipped, security.Status)
	require.Contains(t, string(security.Output), `"skipped"`)

	synthesisInput := invoker.inputFor(capability.CapabilitySynthesis)
	require.Contains(t, synthesisInput["security_json_string"], "skipped")
	require.Empty(t, session.Degraded)
}

func TestAnalyze_DegradedCapabilityDoesNotBlock(t *testing.T) {
	t.Parallel()

	invoker := newFakeInvoker()
	invoker.responses[capability.CapabilityLegal] = json.RawMessage(`{"summary": "legal ok"}`)
	invoker.errs[capability.CapabilitySecurity] = &review.CapabilityError{
		Capability: capability.CapabilitySecurity,
		Timeout:    true,
		Err:        errors.New("deadline exceeded"),
	}
	invoker.responses[capability.CapabilitySynthesis] = synthesisOK

	session := analysisSession()
	require.NoError(t, newTestDispatcher(invoker).Analyze(context.Background(), session))

	security, ok := findResult(session, capability.CapabilitySecurity)
	require.True(t, ok)
	require.Equal(t, review.AnalysisDegraded, security.Status)
	require.NotEmpty(t, security.Error)

	require.True(t, invoker.invoked(capability.CapabilitySynthesis))
	require.Equal(t, []string{capability.CapabilitySecurity}, session.Degraded)
	require.NotNil(t, session.Draft)
}

func TestAnalyze_SynthesisDegradedLeavesNoDraft(t *testing.T) {
	t.Parallel()

	invoker := newFakeInvoker()
	invoker.responses[capability.CapabilityLegal] = json.RawMessage(`{"summary": "legal ok"}`)
	invoker.responses[capability.CapabilitySecurity] = json.RawMessage(`{"summary": "security ok"}`)
	invoker.errs[capability.CapabilitySynthesis] = &review.CapabilityError{
		Capability: capability.CapabilitySynthesis,
		Schema:     true,
		Err:        errors.New("invalid payload"),
	}

	session := analysisSession()
	require.NoError(t, newTestDispatcher(invoker).Analyze(context.Background(), session))

	require.Nil(t, session.Draft)
	require.Contains(t, session.Degraded, capability.CapabilitySynthesis)
}

func TestAnalyze_NoIncludedDocuments(t *testing.T) {
	t.Parallel()

	session := analysisSession()
	for i := range session.Manifest.Documents {
		session.Manifest.Documents[i].Included = false
	}

	err := newTestDispatcher(newFakeInvoker()).Analyze(context.Background(), session)
	require.ErrorIs(t, err, review.ErrNoDocuments)
}

func TestConsolidate(t *testing.T) {
	t.Parallel()

	docs := []review.DocumentRecord{
		{CanonicalURL: "https://b.example/doc", SourceURL: "https://b.example/doc", Text: "second"},
		{CanonicalURL: "https://a.example/doc", SourceURL: "https://a.example/doc", Text: "first"},
		{CanonicalURL: "https://c.example/empty", SourceURL: "https://c.example/empty", Text: "  "},
	}

	text := Consolidate(docs)
	require.Contains(t, text, documentSeparator)
	require.Contains(t, text, "Source URL: https://a.example/doc")
	require.Less(t, strings.Index(text, "first"), strings.Index(text, "second"))
	require.NotContains(t, text, "c.example/empty")
	require.Empty(t, Consolidate(nil))
}
