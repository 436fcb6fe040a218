package review

import (
	"regexp"
	"strings"
)

var vendorKeyStrip = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveVendorKey builds the stable registry key from the decision's
// processor name: lowercase, non-alphanumeric runs collapsed to hyphens.
// Free-text name matching is never used for registry lookups.
func DeriveVendorKey(processorName string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(processorName))
	key = vendorKeyStrip.ReplaceAllString(key, "-")
	key = strings.Trim(key, "-")
	if key == "" {
		return "", ErrKeyCollision
	}
	return key, nil
}

// requiredDecisionFields are fields that must carry a value for a decision
// record to be committable, in report order.
var requiredDecisionFields = []struct {
	name  string
	value func(DecisionRecord) string
}{
	{"processor_name", func(d DecisionRecord) string { return d.ProcessorName }},
	{"service_description", func(d DecisionRecord) string { return d.ServiceDescription }},
	{"usage_summary", func(d DecisionRecord) string { return d.UsageSummary }},
	{"risk_rating", func(d DecisionRecord) string { return d.RiskRating }},
	{"data_processing_status", func(d DecisionRecord) string { return d.DataProcessingStatus }},
	{"relationship_owner", func(d DecisionRecord) string { return d.RelationshipOwner }},
}

// Validate checks required fields and enum membership. It reports the first
// offending field; it never substitutes defaults for required fields.
func (d DecisionRecord) Validate() error {
	for _, f := range requiredDecisionFields {
		if strings.TrimSpace(f.value(d)) == "" {
			return &DecisionParseError{Field: f.name, Reason: "required field is empty"}
		}
	}
	switch d.RiskRating {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
	default:
		return &DecisionParseError{Field: "risk_rating", Reason: "must be one of Low, Medium, High, Critical"}
	}
	switch d.DataProcessingStatus {
	case ProcessingProcessor, ProcessingController, ProcessingNA:
	default:
		return &DecisionParseError{Field: "data_processing_status", Reason: "must be one of Processor, Controller, N/A"}
	}
	return nil
}

// MergeOver fills every empty field of d from the base record, so a partial
// human edit touching one field keeps the rest of the last known-valid
// record.
func (d DecisionRecord) MergeOver(base DecisionRecord) DecisionRecord {
	out := d
	if out.ProcessorName == "" {
		out.ProcessorName = base.ProcessorName
	}
	if out.ServiceDescription == "" {
		out.ServiceDescription = base.ServiceDescription
	}
	if out.UsageSummary == "" {
		out.UsageSummary = base.UsageSummary
	}
	if out.RiskRating == "" {
		out.RiskRating = base.RiskRating
	}
	if out.DataProcessingStatus == "" {
		out.DataProcessingStatus = base.DataProcessingStatus
	}
	if out.KeyLegalFinding == "" {
		out.KeyLegalFinding = base.KeyLegalFinding
	}
	if out.KeySecurityFinding == "" {
		out.KeySecurityFinding = base.KeySecurityFinding
	}
	if out.Mitigations == "" {
		out.Mitigations = base.Mitigations
	}
	if out.RelationshipOwner == "" {
		out.RelationshipOwner = base.RelationshipOwner
	}
	if out.TerminationNotice == "" {
		out.TerminationNotice = base.TerminationNotice
	}
	return out
}
