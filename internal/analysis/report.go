package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/vendor-review-pipeline/internal/capability"
	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// DraftBlockHeading labels the fenced JSON block holding the editable decision
// record. The decision extractor keys on this marker, so it must survive
// rendering byte for byte.
const DraftBlockHeading = "## 📝 Reviewer-Approved Data"

type reportFinding struct {
	Finding        string `json:"finding"`
	Risk           string `json:"risk"`
	Gap            string `json:"gap"`
	Summary        string `json:"summary"`
	Recommendation string `json:"recommendation"`
}

type synthesisReport struct {
	OverallAssessment string          `json:"overall_assessment"`
	ExecutiveSummary  string          `json:"executive_summary"`
	PositiveFindings  []reportFinding `json:"positive_findings"`
	KeyLegalRisks     []reportFinding `json:"key_legal_risks"`
	KeySecurityGaps   []reportFinding `json:"key_security_gaps"`
}

// RenderReport formats the session's analysis results as the markdown event
// posted for human approval. When synthesis degraded it falls back to the raw
// domain outputs so reviewers still see everything the platform produced.
func RenderReport(session *review.Session) string {
	synthesis, ok := findResult(session, capability.CapabilitySynthesis)
	if !ok || synthesis.Status != review.AnalysisSucceeded {
		return renderFallback(session)
	}

	var out struct {
		Report synthesisReport       `json:"report"`
		Draft  review.DecisionRecord `json:"draft_approval_data"`
	}
	if err := json.Unmarshal(synthesis.Output, &out); err != nil {
		return renderFallback(session)
	}

	var b strings.Builder
	b.WriteString("## 🚀 Generated Risk Summary\n")
	fmt.Fprintf(&b, "### **Overall Assessment: %s**\n", orNA(out.Report.OverallAssessment))
	fmt.Fprintf(&b, "**Executive Summary:** %s\n", orNA(out.Report.ExecutiveSummary))

	b.WriteString("\n### ✅ Positive Findings\n")
	b.WriteString(renderFindings(out.Report.PositiveFindings, "Finding", "None identified."))

	b.WriteString("\n### ⚖️ Key Legal Risks\n")
	b.WriteString(renderFindings(out.Report.KeyLegalRisks, "Risk", "No critical legal risks identified."))

	b.WriteString("\n### 🛡️ Key Security Gaps\n")
	b.WriteString(renderFindings(out.Report.KeySecurityGaps, "Gap", "No critical security gaps identified."))

	if len(session.Degraded) > 0 {
		b.WriteString("\n### ⚠️ Degraded Confidence\n")
		b.WriteString("The following analyses exhausted their retry budget; findings below may be incomplete:\n")
		for _, name := range session.Degraded {
			fmt.Fprintf(&b, "* `%s`\n", name)
		}
	}

	b.WriteString("\n---\n")
	b.WriteString("\n" + DraftBlockHeading + " (Draft)\n")
	b.WriteString("Please review, edit, and confirm the details below. ")
	b.WriteString("This JSON block will be committed to the vendor registry on approval.\n")
	fmt.Fprintf(&b, "```json\n%s\n```\n", marshalIndent(out.Draft))

	b.WriteString("\n---\n")
	b.WriteString("\n## 🤖 Raw Analysis Data\n")
	b.WriteString(renderRawSections(session))
	return b.String()
}

func renderFindings(findings []reportFinding, headline, empty string) string {
	if len(findings) == 0 {
		return empty + "\n"
	}
	var b strings.Builder
	for _, f := range findings {
		head := f.Finding
		if head == "" {
			head = f.Risk
		}
		if head == "" {
			head = f.Gap
		}
		if f.Recommendation == "" && f.Risk == "" && f.Gap == "" {
			fmt.Fprintf(&b, "* **%s:** %s\n", orNA(head), orNA(f.Summary))
			continue
		}
		fmt.Fprintf(&b, "* **%s:** %s\n  * **Summary:** %s\n  * **Recommendation:** %s\n",
			headline, orNA(head), orNA(f.Summary), orNA(f.Recommendation))
	}
	return b.String()
}

func renderFallback(session *review.Session) string {
	var b strings.Builder
	b.WriteString("## 🤖 Vendor Analysis Results (Synthesis Failed)\n\n")
	b.WriteString("The final risk synthesis did not produce a usable report. ")
	b.WriteString("Please review the raw analysis outputs below.\n")
	b.WriteString(renderRawSections(session))
	return b.String()
}

func renderRawSections(session *review.Session) string {
	sections := []struct {
		capability string
		title      string
	}{
		{capability.CapabilitySecurity, "### 🛡️ Security Posture Analysis"},
		{capability.CapabilityLegal, "### ⚖️ Legal & DPA Analysis"},
	}

	var b strings.Builder
	for _, s := range sections {
		result, ok := findResult(session, s.capability)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n%s\n", s.title)
		fmt.Fprintf(&b, "```json\n%s\n```\n", indentRaw(result.Output))
	}
	return b.String()
}

func findResult(session *review.Session, capabilityName string) (review.AnalysisResult, bool) {
	for _, r := range session.Results {
		if r.Capability == capabilityName {
			return r, true
		}
	}
	return review.AnalysisResult{}, false
}

func marshalIndent(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func indentRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
