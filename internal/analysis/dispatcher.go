package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vendor-review-pipeline/internal/capability"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Config bounds the dispatcher's fan-out.
type Config struct {
	// Workers caps concurrent capability calls.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	return c
}

// Dispatcher fans included documents out to the domain capabilities and folds
// their outputs through synthesis into a draft decision. A capability that
// exhausts its retry budget degrades to a partial result; it never blocks the
// batch.
type Dispatcher struct {
	invoker review.Invoker
	clock   review.Clock
	cfg     Config
	logger  *zap.Logger
}

// New builds a dispatcher.
func New(invoker review.Invoker, clock review.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		invoker: invoker,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("analysis"),
	}
}

// domainCall pairs a capability with its category-scoped document bundle.
type domainCall struct {
	capability string
	category   review.Category
	docs       []review.DocumentRecord
}

// Analyze runs the full fan-out/fan-in pass and writes results, the degraded
// list, and the draft decision onto the session. The returned error is only
// non-nil for cancellation; capability failures are recorded as degraded
// results instead.
func (d *Dispatcher) Analyze(ctx context.Context, session *review.Session) error {
	if len(session.Manifest.Included()) == 0 {
		return review.ErrNoDocuments
	}

	profile := FormatProfile(session.Profile)
	usage := FormatUsageDetails(session.VendorName, session.Profile)

	calls := []domainCall{
		{capability: capability.CapabilityLegal, category: review.CategoryLegal},
		{capability: capability.CapabilitySecurity, category: review.CategorySecurity},
	}
	for i := range calls {
		calls[i].docs = session.Manifest.IncludedByCategory(calls[i].category)
	}

	results := make([]review.AnalysisResult, len(calls))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Workers)
	for i, call := range calls {
		group.Go(func() error {
			results[i] = d.runDomain(groupCtx, call, profile, usage)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	byCapability := map[string]review.AnalysisResult{}
	for _, r := range results {
		byCapability[r.Capability] = r
	}

	synthesis := d.runSynthesis(ctx, session, profile, usage, byCapability)
	results = append(results, synthesis)

	session.Results = results
	session.Degraded = nil
	for _, r := range results {
		if r.Status == review.AnalysisDegraded {
			session.Degraded = append(session.Degraded, r.Capability)
		}
	}

	if synthesis.Status == review.AnalysisSucceeded {
		draft, err := parseDraft(synthesis.Output)
		if err != nil {
			d.logger.Warn("synthesis draft unusable", zap.Error(err))
		} else {
			session.Draft = &draft
		}
	}
	return ctx.Err()
}

func (d *Dispatcher) runDomain(ctx context.Context, call domainCall, profile, usage string) review.AnalysisResult {
	result := review.AnalysisResult{
		Capability: call.capability,
		ProducedAt: d.clock.Now(),
	}

	text := Consolidate(call.docs)
	if text == "" {
		result.Status = review.AnalysisSkipped
		result.Output = skippedPayload(fmt.Sprintf("no approved %s documents", call.category))
		return result
	}

	input := map[string]any{
		"company_profile":      profile,
		"vendor_usage_details": usage,
		"consolidated_text":    text,
	}
	raw, err := d.invoker.Invoke(ctx, call.capability, input)
	result.Attempts = attemptBudget
	result.ProducedAt = d.clock.Now()
	if err != nil {
		d.logger.Warn("domain capability degraded",
			zap.String("capability", call.capability),
			zap.Error(err),
		)
		result.Status = review.AnalysisDegraded
		result.Error = err.Error()
		result.Output = degradedPayload(err)
		return result
	}
	result.Status = review.AnalysisSucceeded
	result.Output = raw
	return result
}

func (d *Dispatcher) runSynthesis(
	ctx context.Context,
	session *review.Session,
	profile, usage string,
	domain map[string]review.AnalysisResult,
) review.AnalysisResult {
	result := review.AnalysisResult{
		Capability: capability.CapabilitySynthesis,
		ProducedAt: d.clock.Now(),
	}

	input := map[string]any{
		"company_profile":      profile,
		"vendor_usage_details": usage,
		"vendor_type_signal":   session.Profile.VendorTypeSignal(),
		"relationship_owner":   session.Profile.RelationshipOwner,
		"security_json_string": string(domain[capability.CapabilitySecurity].Output),
		"legal_json_string":    string(domain[capability.CapabilityLegal].Output),
	}
	raw, err := d.invoker.Invoke(ctx, capability.CapabilitySynthesis, input)
	result.Attempts = attemptBudget
	result.ProducedAt = d.clock.Now()
	if err != nil {
		d.logger.Warn("synthesis degraded", zap.Error(err))
		result.Status = review.AnalysisDegraded
		result.Error = err.Error()
		result.Output = degradedPayload(err)
		return result
	}
	result.Status = review.AnalysisSucceeded
	result.Output = raw
	return result
}

// attemptBudget mirrors the client's retry budget; by the time a call returns
// an error the budget is spent.
var attemptBudget = capability.NewRetryPolicy().MaxAttempts()

func skippedPayload(reason string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"status": "skipped", "reason": reason})
	return raw
}

func degradedPayload(err error) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"status": "degraded", "reason": err.Error()})
	return raw
}

func parseDraft(raw json.RawMessage) (review.DecisionRecord, error) {
	var out struct {
		Draft review.DecisionRecord `json:"draft_approval_data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return review.DecisionRecord{}, fmt.Errorf("decode synthesis output: %w", err)
	}
	if out.Draft.ProcessorName == "" {
		return review.DecisionRecord{}, fmt.Errorf("synthesis draft missing processor name")
	}
	return out.Draft, nil
}
