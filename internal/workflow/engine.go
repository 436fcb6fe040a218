// Package workflow routes external triggers through the review session state
// machine. Every handler is idempotent under duplicate delivery: a trigger
// that arrives for a session already in or past its target stage is a no-op.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/vendor-review-pipeline/internal/analysis"
	"github.com/JakeFAU/vendor-review-pipeline/internal/checklist"
	"github.com/JakeFAU/vendor-review-pipeline/internal/extract"
	"github.com/JakeFAU/vendor-review-pipeline/internal/metrics"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// botAuthor names the pipeline as the author of generated events.
const botAuthor = "review-pipeline"

// Discoverer runs the crawl that populates a session's manifest.
type Discoverer interface {
	Discover(ctx context.Context, session *review.Session) error
}

// Analyzer runs the capability fan-out and synthesis for a session.
type Analyzer interface {
	Analyze(ctx context.Context, session *review.Session) error
}

// Auditor writes the commit audit document and releases transient storage.
type Auditor interface {
	Write(ctx context.Context, session review.Session, entry review.RegistryEntry) (string, error)
	ReleaseSession(ctx context.Context, session *review.Session)
}

// TriggerSource delivers triggers to Run. Deliveries are at-least-once.
type TriggerSource interface {
	Dequeue(ctx context.Context) (review.Trigger, error)
}

// Engine is the state machine driver.
type Engine struct {
	sessions   review.SessionStore
	events     review.EventLog
	registry   review.Registry
	discoverer Discoverer
	analyzer   Analyzer
	auditor    Auditor
	ids        review.IDGenerator
	clock      review.Clock
	logger     *zap.Logger
}

// New builds an Engine.
func New(
	sessions review.SessionStore,
	events review.EventLog,
	registry review.Registry,
	discoverer Discoverer,
	analyzer Analyzer,
	auditor Auditor,
	ids review.IDGenerator,
	clock review.Clock,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		sessions:   sessions,
		events:     events,
		registry:   registry,
		discoverer: discoverer,
		analyzer:   analyzer,
		auditor:    auditor,
		ids:        ids,
		clock:      clock,
		logger:     logger.Named("workflow"),
	}
}

// Run consumes triggers until the context ends. Handler failures are logged
// and do not stop the loop; the failed session stays in its current stage for
// human remediation.
func (e *Engine) Run(ctx context.Context, source TriggerSource) error {
	for {
		trigger, err := source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := e.Handle(ctx, trigger); err != nil {
			e.logger.Error("trigger failed",
				zap.String("kind", string(trigger.Kind)),
				zap.String("session_id", trigger.SessionID),
				zap.Error(err),
			)
		}
	}
}

// Handle routes one trigger. Duplicate deliveries detected as stale return
// nil; real failures leave the session where it was and surface the error.
func (e *Engine) Handle(ctx context.Context, trigger review.Trigger) error {
	var err error
	switch trigger.Kind {
	case review.TriggerRequestOpened:
		err = e.handleOpen(ctx, trigger)
	case review.TriggerReviewConfirmed:
		err = e.handleConfirm(ctx, trigger)
	case review.TriggerDecisionApproved:
		err = e.handleApprove(ctx, trigger)
	case review.TriggerRefreshRequested:
		err = e.handleRefresh(ctx, trigger)
	case review.TriggerReviewAborted:
		err = e.handleAbort(ctx, trigger)
	default:
		err = fmt.Errorf("unknown trigger kind %q", trigger.Kind)
	}

	switch {
	case err == nil:
		metrics.ObserveTrigger(string(trigger.Kind), "ok")
	case review.IsStaleTrigger(err):
		metrics.ObserveTrigger(string(trigger.Kind), "stale")
		e.logger.Info("stale trigger ignored",
			zap.String("kind", string(trigger.Kind)),
			zap.String("session_id", trigger.SessionID),
		)
		return nil
	default:
		metrics.ObserveTrigger(string(trigger.Kind), "error")
	}
	return err
}

func (e *Engine) handleOpen(ctx context.Context, trigger review.Trigger) error {
	if trigger.Request == nil {
		return fmt.Errorf("request_opened trigger carries no request")
	}
	if trigger.Request.VendorName == "" {
		return fmt.Errorf("request has no vendor name")
	}
	if len(trigger.Request.Seeds) == 0 {
		return fmt.Errorf("request has no seed urls")
	}

	sessionID := trigger.SessionID
	if sessionID == "" {
		id, err := e.ids.NewID()
		if err != nil {
			return fmt.Errorf("generate session id: %w", err)
		}
		sessionID = id
	} else if _, err := e.sessions.Get(ctx, sessionID); err == nil {
		// Duplicate delivery of an open we already processed.
		return &review.StaleTriggerError{
			SessionID: sessionID,
			Stage:     review.StageDiscovering,
			Trigger:   trigger.Kind,
		}
	}

	now := e.clock.Now()
	session := review.Session{
		ID:         sessionID,
		VendorName: trigger.Request.VendorName,
		Stage:      review.StageDiscovering,
		Seeds:      trigger.Request.Seeds,
		Profile:    trigger.Request.Profile,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.sessions.Create(ctx, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	metrics.IncActiveSessions()

	return e.discoverAndPublish(ctx, &session)
}

func (e *Engine) handleRefresh(ctx context.Context, trigger review.Trigger) error {
	session, err := e.sessions.Get(ctx, trigger.SessionID)
	if err != nil {
		return err
	}
	if session.Stage.Terminal() {
		return &review.StaleTriggerError{SessionID: session.ID, Stage: session.Stage, Trigger: trigger.Kind}
	}
	switch session.Stage {
	case review.StageDiscovering, review.StageAwaitingReview:
		// A session stuck in discovering after a failed crawl recovers here.
		return e.discoverAndPublish(ctx, &session)
	case review.StageAnalyzing:
		// The confirmed manifest already exists; resume analysis instead of
		// re-crawling it.
		return e.analyzeAndReport(ctx, &session)
	default:
		return fmt.Errorf("session %s is %s, refresh requires %s",
			session.ID, session.Stage, review.StageAwaitingReview)
	}
}

// discoverAndPublish runs the crawl, posts the checklist and advances the
// session to awaiting_review.
func (e *Engine) discoverAndPublish(ctx context.Context, session *review.Session) error {
	if err := e.discoverer.Discover(ctx, session); err != nil {
		e.postEvent(ctx, session.ID, review.EventError,
			fmt.Sprintf("**Discovery failed:** %v\nThe session stays in `%s`; retry with a refresh once the cause is fixed.", err, session.Stage))
		session.UpdatedAt = e.clock.Now()
		if updateErr := e.sessions.Update(ctx, *session); updateErr != nil {
			e.logger.Error("persist session after failed discovery", zap.Error(updateErr))
		}
		return fmt.Errorf("discover session %s: %w", session.ID, err)
	}

	e.postEvent(ctx, session.ID, review.EventChecklist, checklist.Render(session.Manifest))

	session.Stage = review.StageAwaitingReview
	session.UpdatedAt = e.clock.Now()
	return e.sessions.Update(ctx, *session)
}

func (e *Engine) handleConfirm(ctx context.Context, trigger review.Trigger) error {
	session, err := e.sessions.Get(ctx, trigger.SessionID)
	if err != nil {
		return err
	}
	if session.Stage == review.StageAborted {
		return fmt.Errorf("session %s is aborted", session.ID)
	}
	if session.Stage.AtOrPast(review.StageAwaitingApproval) {
		return &review.StaleTriggerError{SessionID: session.ID, Stage: session.Stage, Trigger: trigger.Kind}
	}
	if session.Stage == review.StageAnalyzing {
		// An earlier analysis run was interrupted. The confirmed manifest is
		// already persisted, so a redelivered confirmation resumes from it.
		return e.analyzeAndReport(ctx, &session)
	}
	if session.Stage != review.StageAwaitingReview {
		return fmt.Errorf("session %s is %s, confirmation requires %s",
			session.ID, session.Stage, review.StageAwaitingReview)
	}

	applyOverrides(&session.Manifest, trigger.Overrides)

	if len(session.Manifest.Included()) == 0 {
		e.postEvent(ctx, session.ID, review.EventError,
			"**Cannot start analysis:** the confirmed checklist has no documents included. Check at least one document and confirm again.")
		session.UpdatedAt = e.clock.Now()
		if err := e.sessions.Update(ctx, session); err != nil {
			return err
		}
		return review.ErrNoDocuments
	}

	session.Stage = review.StageAnalyzing
	session.UpdatedAt = e.clock.Now()
	if err := e.sessions.Update(ctx, session); err != nil {
		return err
	}

	return e.analyzeAndReport(ctx, &session)
}

// analyzeAndReport runs the capability fan-out, posts the report and advances
// the session to awaiting_approval. On failure the session stays in analyzing
// so a redelivered confirmation or a refresh resumes it.
func (e *Engine) analyzeAndReport(ctx context.Context, session *review.Session) error {
	if err := e.analyzer.Analyze(ctx, session); err != nil {
		e.postEvent(ctx, session.ID, review.EventError,
			fmt.Sprintf("**Analysis did not complete:** %v\nThe session stays in `%s`; confirm again or request a refresh to retry.", err, session.Stage))
		session.UpdatedAt = e.clock.Now()
		if updateErr := e.sessions.Update(ctx, *session); updateErr != nil {
			e.logger.Error("persist session after failed analysis", zap.Error(updateErr))
		}
		return fmt.Errorf("analyze session %s: %w", session.ID, err)
	}

	e.postEvent(ctx, session.ID, review.EventReport, analysis.RenderReport(session))

	session.Stage = review.StageAwaitingApproval
	session.UpdatedAt = e.clock.Now()
	return e.sessions.Update(ctx, *session)
}

func (e *Engine) handleApprove(ctx context.Context, trigger review.Trigger) error {
	session, err := e.sessions.Get(ctx, trigger.SessionID)
	if err != nil {
		return err
	}
	if session.Stage == review.StageAborted {
		return fmt.Errorf("session %s is aborted", session.ID)
	}
	if session.Stage.AtOrPast(review.StageCommitted) {
		return &review.StaleTriggerError{SessionID: session.ID, Stage: session.Stage, Trigger: trigger.Kind}
	}
	if session.Stage != review.StageAwaitingApproval {
		return fmt.Errorf("session %s is %s, approval requires %s",
			session.ID, session.Stage, review.StageAwaitingApproval)
	}

	var base review.DecisionRecord
	if session.Draft != nil {
		base = *session.Draft
	}
	decision, err := extract.Latest(ctx, e.events, session.ID, base)
	if err != nil {
		e.postEvent(ctx, session.ID, review.EventError,
			fmt.Sprintf("**Cannot commit:** %v\nEdit the Reviewer-Approved Data block and approve again.", err))
		return err
	}

	vendorKey, err := review.DeriveVendorKey(decision.ProcessorName)
	if err != nil {
		e.postEvent(ctx, session.ID, review.EventError,
			fmt.Sprintf("**Cannot commit:** processor name %q does not yield a usable vendor key.", decision.ProcessorName))
		return err
	}

	now := e.clock.Now()
	entry := review.RegistryEntry{
		VendorKey:    vendorKey,
		SessionID:    session.ID,
		Decision:     decision,
		ApprovedAt:   now,
		NextReviewAt: now.Add(review.ReviewInterval(decision.RiskRating)),
	}

	// The audit document goes first so the registry row can reference it.
	// Its path is deterministic per session, so a crash between the two
	// steps re-runs cleanly.
	auditRef, err := e.auditor.Write(ctx, session, entry)
	if err != nil {
		e.postEvent(ctx, session.ID, review.EventError,
			fmt.Sprintf("**Cannot commit:** writing the audit document failed: %v", err))
		return err
	}
	entry.AuditRef = auditRef

	committed, err := e.registry.Commit(ctx, entry)
	if errors.Is(err, review.ErrAlreadyCommitted) {
		// The registry write survived an earlier crash; converge the session.
		e.finalizeCommit(ctx, &session)
		return &review.StaleTriggerError{SessionID: session.ID, Stage: review.StageCommitted, Trigger: trigger.Kind}
	}
	if err != nil {
		e.postEvent(ctx, session.ID, review.EventError,
			fmt.Sprintf("**Cannot commit:** registry write failed: %v", err))
		return err
	}
	metrics.ObserveRegistryCommit()

	e.postEvent(ctx, session.ID, review.EventComment,
		fmt.Sprintf("✅ Decision committed: `%s` version %d, next review due %s.",
			committed.VendorKey, committed.Version, committed.NextReviewAt.Format("2006-01-02")))

	e.finalizeCommit(ctx, &session)
	return nil
}

func (e *Engine) finalizeCommit(ctx context.Context, session *review.Session) {
	e.auditor.ReleaseSession(ctx, session)
	session.Stage = review.StageCommitted
	session.UpdatedAt = e.clock.Now()
	if err := e.sessions.Update(ctx, *session); err != nil {
		e.logger.Error("persist committed session", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	metrics.DecActiveSessions()
}

func (e *Engine) handleAbort(ctx context.Context, trigger review.Trigger) error {
	session, err := e.sessions.Get(ctx, trigger.SessionID)
	if err != nil {
		return err
	}
	if session.Stage.Terminal() {
		return &review.StaleTriggerError{SessionID: session.ID, Stage: session.Stage, Trigger: trigger.Kind}
	}

	e.auditor.ReleaseSession(ctx, &session)
	session.Stage = review.StageAborted
	session.AbortCause = trigger.Reason
	session.UpdatedAt = e.clock.Now()
	if err := e.sessions.Update(ctx, session); err != nil {
		return err
	}
	metrics.DecActiveSessions()

	cause := trigger.Reason
	if cause == "" {
		cause = "no reason given"
	}
	e.postEvent(ctx, session.ID, review.EventComment,
		fmt.Sprintf("🛑 Review aborted: %s.", cause))
	return nil
}

// applyOverrides merges the human-confirmed checklist state into the
// manifest. Every override marks its record human-reviewed so re-discovery
// preserves the choice.
func applyOverrides(manifest *review.Manifest, overrides []review.ChecklistOverride) {
	for _, o := range overrides {
		for i := range manifest.Documents {
			doc := &manifest.Documents[i]
			if doc.CanonicalURL != o.CanonicalURL {
				continue
			}
			doc.Included = o.Included
			doc.HumanReviewed = true
			if len(o.Categories) > 0 {
				doc.Categories = o.Categories
			}
			break
		}
	}
}

// postEvent appends a bot-authored event; failures are logged, never fatal.
// A blocking error must still surface somewhere, so the caller's own error
// return carries the same information.
func (e *Engine) postEvent(ctx context.Context, sessionID, kind, body string) {
	id, err := e.ids.NewID()
	if err != nil {
		e.logger.Error("generate event id", zap.Error(err))
		return
	}
	event := review.SessionEvent{
		ID:        id,
		SessionID: sessionID,
		Author:    botAuthor,
		Kind:      kind,
		Body:      body,
		CreatedAt: e.clock.Now(),
	}
	if err := e.events.Append(ctx, event); err != nil {
		e.logger.Error("append session event",
			zap.String("session_id", sessionID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
