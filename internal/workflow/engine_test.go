package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vendor-review-pipeline/internal/analysis"
	"github.com/JakeFAU/vendor-review-pipeline/internal/audit"
	"github.com/JakeFAU/vendor-review-pipeline/internal/capability"
	"github.com/JakeFAU/vendor-review-pipeline/internal/checklist"
	eventmem "github.com/JakeFAU/vendor-review-pipeline/internal/eventlog/memory"
	"github.com/JakeFAU/vendor-review-pipeline/internal/metrics"
	queuemem "github.com/JakeFAU/vendor-review-pipeline/internal/queue/memory"
	registrymem "github.com/JakeFAU/vendor-review-pipeline/internal/registry/memory"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
	sessionmem "github.com/JakeFAU/vendor-review-pipeline/internal/session/memory"
	storagemem "github.com/JakeFAU/vendor-review-pipeline/internal/storage/memory"
)

type fakeDiscoverer struct {
	mu    sync.Mutex
	calls int
	err   error
	docs  []review.DocumentRecord
}

func (f *fakeDiscoverer) Discover(_ context.Context, session *review.Session) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, doc := range f.docs {
		session.Manifest.Upsert(doc)
	}
	return nil
}

func (f *fakeDiscoverer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalyzer struct {
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, session *review.Session) error {
	if f.err != nil {
		return f.err
	}
	draft := review.DecisionRecord{
		ProcessorName:        "Example Inc",
		ServiceDescription:   "Hosted CI",
		UsageSummary:         "Builds and tests",
		RiskRating:           review.RiskMedium,
		DataProcessingStatus: review.ProcessingProcessor,
		RelationshipOwner:    "eng-lead",
	}
	output := map[string]any{
		"report": map[string]any{
			"overall_assessment": "Adopt",
			"executive_summary":  "Acceptable risk.",
		},
		"draft_approval_data": draft,
	}
	raw, _ := json.Marshal(output)
	session.Results = []review.AnalysisResult{{
		Capability: capability.CapabilitySynthesis,
		Status:     review.AnalysisSucceeded,
		Output:     raw,
	}}
	session.Draft = &draft
	return nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type fixture struct {
	engine     *Engine
	sessions   *sessionmem.Store
	events     *eventmem.Log
	registry   *registrymem.Registry
	blobs      *storagemem.BlobStore
	discoverer *fakeDiscoverer
	analyzer   *fakeAnalyzer
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	metrics.Init()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		sessions: sessionmem.NewStore(),
		events:   eventmem.NewLog(),
		registry: registrymem.NewRegistry(),
		blobs:    storagemem.NewBlobStore(),
		discoverer: &fakeDiscoverer{docs: []review.DocumentRecord{
			{
				Name:         "Terms of Service",
				SourceURL:    "https://vendor.example/terms",
				CanonicalURL: "https://vendor.example/terms",
				Text:         "terms text",
				BlobURI:      "memory://sessions/s1/abc.html",
				Categories:   []review.Category{review.CategoryLegal},
				Included:     true,
				Origin:       review.OriginCrawled,
			},
		}},
		analyzer: &fakeAnalyzer{},
		now:      now,
	}
	auditor := audit.NewWriter(f.blobs, fixedClock{at: now}, audit.Config{}, nil)
	f.engine = New(
		f.sessions, f.events, f.registry,
		f.discoverer, f.analyzer, auditor,
		&seqIDs{}, fixedClock{at: now}, nil,
	)
	return f
}

func openTrigger() review.Trigger {
	return review.Trigger{
		Kind:      review.TriggerRequestOpened,
		SessionID: "s1",
		Request: &review.OpenRequest{
			VendorName: "Example Inc",
			Seeds:      []review.Seed{{URL: "https://vendor.example/terms"}},
			Profile:    review.RiskProfile{CompanyName: "Acme Corp", RelationshipOwner: "eng-lead"},
		},
	}
}

func (f *fixture) mustHandle(t *testing.T, trigger review.Trigger) {
	t.Helper()
	require.NoError(t, f.engine.Handle(context.Background(), trigger))
}

func (f *fixture) session(t *testing.T) review.Session {
	t.Helper()
	session, err := f.sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	return session
}

func (f *fixture) eventBodies(t *testing.T) []string {
	t.Helper()
	events, err := f.events.List(context.Background(), "s1")
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Body
	}
	return out
}

func TestHandle_OpenPublishesChecklist(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())

	session := f.session(t)
	require.Equal(t, review.StageAwaitingReview, session.Stage)
	require.Len(t, session.Manifest.Documents, 1)

	bodies := f.eventBodies(t)
	require.Len(t, bodies, 1)
	require.Contains(t, bodies[0], checklist.Marker)
	require.Contains(t, bodies[0], "Terms of Service")

	// Duplicate delivery is a no-op.
	f.mustHandle(t, openTrigger())
	require.Len(t, f.eventBodies(t), 1)
	require.Equal(t, 1, f.discoverer.callCount())
}

func TestHandle_OpenDiscoveryFailureStaysDiscovering(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.discoverer.err = errors.New("network down")

	err := f.engine.Handle(context.Background(), openTrigger())
	require.Error(t, err)

	session := f.session(t)
	require.Equal(t, review.StageDiscovering, session.Stage)
	bodies := f.eventBodies(t)
	require.Len(t, bodies, 1)
	require.Contains(t, bodies[0], "Discovery failed")
}

func TestHandle_ConfirmRunsAnalysis(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())
	f.mustHandle(t, review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "s1"})

	session := f.session(t)
	require.Equal(t, review.StageAwaitingApproval, session.Stage)
	require.NotNil(t, session.Draft)

	bodies := f.eventBodies(t)
	require.Len(t, bodies, 2)
	require.Contains(t, bodies[1], analysis.DraftBlockHeading)

	// Duplicate confirmation is a no-op.
	f.mustHandle(t, review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "s1"})
	require.Len(t, f.eventBodies(t), 2)
}

func TestHandle_ConfirmWithNothingIncludedBlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())

	err := f.engine.Handle(context.Background(), review.Trigger{
		Kind:      review.TriggerReviewConfirmed,
		SessionID: "s1",
		Overrides: []review.ChecklistOverride{
			{CanonicalURL: "https://vendor.example/terms", Included: false},
		},
	})
	require.ErrorIs(t, err, review.ErrNoDocuments)

	session := f.session(t)
	require.Equal(t, review.StageAwaitingReview, session.Stage)
	require.True(t, session.Manifest.Documents[0].HumanReviewed)

	bodies := f.eventBodies(t)
	require.Contains(t, bodies[len(bodies)-1], "no documents included")

	// A corrected confirmation advances normally.
	f.mustHandle(t, review.Trigger{
		Kind:      review.TriggerReviewConfirmed,
		SessionID: "s1",
		Overrides: []review.ChecklistOverride{
			{CanonicalURL: "https://vendor.example/terms", Included: true},
		},
	})
	require.Equal(t, review.StageAwaitingApproval, f.session(t).Stage)
}

func TestHandle_ApproveCommitsAndReleases(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())
	f.mustHandle(t, review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "s1"})
	f.mustHandle(t, review.Trigger{Kind: review.TriggerDecisionApproved, SessionID: "s1"})

	session := f.session(t)
	require.Equal(t, review.StageCommitted, session.Stage)
	require.Empty(t, session.Manifest.Documents[0].Text)
	require.Empty(t, session.Manifest.Documents[0].BlobURI)

	entry, err := f.registry.Get(context.Background(), "example-inc")
	require.NoError(t, err)
	require.Equal(t, 1, entry.Version)
	require.Equal(t, "s1", entry.SessionID)
	require.Equal(t, review.RiskMedium, entry.Decision.RiskRating)
	require.Equal(t, f.now.Add(review.ReviewInterval(review.RiskMedium)), entry.NextReviewAt)
	require.NotEmpty(t, entry.AuditRef)

	_, ok := f.blobs.GetObject("registry/example-inc/s1-audit.json")
	require.True(t, ok)

	// Duplicate approval is a no-op, not a second version.
	f.mustHandle(t, review.Trigger{Kind: review.TriggerDecisionApproved, SessionID: "s1"})
	entry, err = f.registry.Get(context.Background(), "example-inc")
	require.NoError(t, err)
	require.Equal(t, 1, entry.Version)
}

func TestHandle_ApproveMostRecentHumanEditWins(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())
	f.mustHandle(t, review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "s1"})

	// A reviewer edits the risk rating in a later comment.
	require.NoError(t, f.events.Append(context.Background(), review.SessionEvent{
		ID:        "human-1",
		SessionID: "s1",
		Author:    "reviewer",
		Kind:      review.EventComment,
		Body:      "## 📝 Reviewer-Approved Data\n```json\n{\"risk_rating\": \"High\", \"mitigations\": \"SSO enforced\"}\n```",
	}))

	f.mustHandle(t, review.Trigger{Kind: review.TriggerDecisionApproved, SessionID: "s1"})

	entry, err := f.registry.Get(context.Background(), "example-inc")
	require.NoError(t, err)
	require.Equal(t, review.RiskHigh, entry.Decision.RiskRating)
	require.Equal(t, "SSO enforced", entry.Decision.Mitigations)
	// Unedited fields come from the draft, not blank defaults.
	require.Equal(t, "Hosted CI", entry.Decision.ServiceDescription)
	require.Equal(t, f.now.Add(review.ReviewInterval(review.RiskHigh)), entry.NextReviewAt)
}

func TestHandle_ApproveInvalidDecisionBlocksCommit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())
	f.mustHandle(t, review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "s1"})

	require.NoError(t, f.events.Append(context.Background(), review.SessionEvent{
		ID:        "human-1",
		SessionID: "s1",
		Kind:      review.EventComment,
		Body:      "## 📝 Reviewer-Approved Data\n```json\n{\"risk_rating\": \"Catastrophic\"}\n```",
	}))

	err := f.engine.Handle(context.Background(), review.Trigger{Kind: review.TriggerDecisionApproved, SessionID: "s1"})
	var parseErr *review.DecisionParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, "risk_rating", parseErr.Field)

	session := f.session(t)
	require.Equal(t, review.StageAwaitingApproval, session.Stage)
	_, regErr := f.registry.Get(context.Background(), "example-inc")
	require.ErrorIs(t, regErr, review.ErrEntryNotFound)

	bodies := f.eventBodies(t)
	require.Contains(t, bodies[len(bodies)-1], "Cannot commit")

	// A corrected edit commits.
	require.NoError(t, f.events.Append(context.Background(), review.SessionEvent{
		ID:        "human-2",
		SessionID: "s1",
		Kind:      review.EventComment,
		Body:      "## 📝 Reviewer-Approved Data\n```json\n{\"risk_rating\": \"Low\"}\n```",
	}))
	f.mustHandle(t, review.Trigger{Kind: review.TriggerDecisionApproved, SessionID: "s1"})

	entry, err := f.registry.Get(context.Background(), "example-inc")
	require.NoError(t, err)
	require.Equal(t, review.RiskLow, entry.Decision.RiskRating)
}

func TestHandle_ApproveBeforeReportIsOutOfOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())

	err := f.engine.Handle(context.Background(), review.Trigger{Kind: review.TriggerDecisionApproved, SessionID: "s1"})
	require.Error(t, err)
	require.Equal(t, review.StageAwaitingReview, f.session(t).Stage)
}

func TestHandle_RefreshRerunsDiscovery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())
	f.mustHandle(t, review.Trigger{Kind: review.TriggerRefreshRequested, SessionID: "s1"})

	require.Equal(t, 2, f.discoverer.callCount())
	require.Len(t, f.eventBodies(t), 2)
	require.Equal(t, review.StageAwaitingReview, f.session(t).Stage)
}

func TestHandle_RefreshRecoversFailedDiscovery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.discoverer.err = errors.New("network down")

	err := f.engine.Handle(context.Background(), openTrigger())
	require.Error(t, err)
	require.Equal(t, review.StageDiscovering, f.session(t).Stage)

	// Once the cause is fixed, a refresh retries from discovering.
	f.discoverer.err = nil
	f.mustHandle(t, review.Trigger{Kind: review.TriggerRefreshRequested, SessionID: "s1"})

	session := f.session(t)
	require.Equal(t, review.StageAwaitingReview, session.Stage)
	require.Len(t, session.Manifest.Documents, 1)

	bodies := f.eventBodies(t)
	require.Contains(t, bodies[len(bodies)-1], checklist.Marker)
}

func TestHandle_ConfirmResumesInterruptedAnalysis(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())

	f.analyzer.err = errors.New("capability outage")
	err := f.engine.Handle(context.Background(), review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "s1"})
	require.Error(t, err)
	require.Equal(t, review.StageAnalyzing, f.session(t).Stage)

	bodies := f.eventBodies(t)
	require.Contains(t, bodies[len(bodies)-1], "Analysis did not complete")

	// A redelivered confirmation resumes from the persisted manifest.
	f.analyzer.err = nil
	f.mustHandle(t, review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "s1"})

	session := f.session(t)
	require.Equal(t, review.StageAwaitingApproval, session.Stage)
	require.NotNil(t, session.Draft)
	bodies = f.eventBodies(t)
	require.Contains(t, bodies[len(bodies)-1], analysis.DraftBlockHeading)
}

func TestHandle_RefreshResumesInterruptedAnalysis(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())

	f.analyzer.err = errors.New("capability outage")
	err := f.engine.Handle(context.Background(), review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "s1"})
	require.Error(t, err)

	f.analyzer.err = nil
	f.mustHandle(t, review.Trigger{Kind: review.TriggerRefreshRequested, SessionID: "s1"})

	require.Equal(t, review.StageAwaitingApproval, f.session(t).Stage)
	// The confirmed manifest is analyzed as-is, not re-crawled.
	require.Equal(t, 1, f.discoverer.callCount())
}

func TestHandle_AbortFromAnyNonTerminalStage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mustHandle(t, openTrigger())
	f.mustHandle(t, review.Trigger{
		Kind:      review.TriggerReviewAborted,
		SessionID: "s1",
		Reason:    "duplicate request",
	})

	session := f.session(t)
	require.Equal(t, review.StageAborted, session.Stage)
	require.Equal(t, "duplicate request", session.AbortCause)
	require.Empty(t, session.Manifest.Documents[0].BlobURI)

	// Aborting again is a no-op.
	f.mustHandle(t, review.Trigger{Kind: review.TriggerReviewAborted, SessionID: "s1"})

	// No further triggers act on an aborted session.
	err := f.engine.Handle(context.Background(), review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "s1"})
	require.Error(t, err)
}

func TestHandle_UnknownSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.engine.Handle(context.Background(), review.Trigger{Kind: review.TriggerReviewConfirmed, SessionID: "nope"})
	require.ErrorIs(t, err, review.ErrSessionNotFound)
}

func TestRun_ConsumesTriggersFromQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	queue := queuemem.NewQueue(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx, queue)
	}()

	require.NoError(t, queue.Enqueue(ctx, openTrigger()))

	require.Eventually(t, func() bool {
		session, err := f.sessions.Get(context.Background(), "s1")
		return err == nil && session.Stage == review.StageAwaitingReview
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not stop on cancellation")
	}
}
