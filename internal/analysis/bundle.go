package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// documentSeparator delimits documents inside a consolidated bundle so a
// capability can attribute findings to a source URL.
const documentSeparator = "--- DOCUMENT SEPARATOR ---"

// Consolidate compiles the documents into a single capability input string,
// ordered by canonical URL for stable output across runs.
func Consolidate(docs []review.DocumentRecord) string {
	if len(docs) == 0 {
		return ""
	}

	sorted := make([]review.DocumentRecord, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CanonicalURL < sorted[j].CanonicalURL
	})

	var b strings.Builder
	for _, doc := range sorted {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n%s\nSource URL: %s\n\n", documentSeparator, doc.SourceURL)
		b.WriteString(doc.Text)
	}
	return b.String()
}

// FormatProfile renders the caller's company profile as the markdown context
// block capabilities expect (the lens the analysis is performed through).
func FormatProfile(p review.RiskProfile) string {
	parts := []string{
		"**Company Name:** " + orNA(p.CompanyName),
		"**Industry:** " + orNA(p.Industry),
		"**Services:** " + orNA(p.Services),
		"**Applicable Regulations:** " + orNA(strings.Join(p.Regulations, ", ")),
	}
	return strings.Join(parts, "\n")
}

// FormatUsageDetails renders how the vendor is used (the subject under
// analysis).
func FormatUsageDetails(vendorName string, p review.RiskProfile) string {
	parts := []string{
		"**Service Name:** " + orNA(vendorName),
		"**Vendor/Service Usage Context:** " + orNA(p.UsageContext),
		"**Data Types Involved:** " + orNA(p.DataTypes),
		"**Relationship Owner:** " + orNA(p.RelationshipOwner),
		"**Term Length:** " + orNA(p.TermLength),
	}
	return strings.Join(parts, "\n")
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
