package discovery

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Documents vendors commonly hold back behind a request form. Each entry maps
// the in-text mention to the display name used in the "Awaiting Document"
// checklist section.
var awaitedDocuments = []struct {
	marker   string
	name     string
	category review.Category
}{
	{"soc 2", "SOC 2 Report", review.CategorySecurity},
	{"soc2", "SOC 2 Report", review.CategorySecurity},
	{"iso 27001", "ISO 27001 Certificate", review.CategorySecurity},
	{"penetration test", "Penetration Test Summary", review.CategorySecurity},
	{"security whitepaper", "Security Whitepaper", review.CategorySecurity},
	{"data processing addendum", "Data Processing Addendum", review.CategoryLegal},
	{"data processing agreement", "Data Processing Agreement", review.CategoryLegal},
	{"insurance certificate", "Insurance Certificate", review.CategoryLegal},
}

var requestMarkers = []string{
	"upon request",
	"on request",
	"by request",
	"contact us for",
	"available to customers",
}

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

// recordUnlinkedReferences scans fetched text for documents that are
// mentioned but not linked and records them as excluded manual placeholders,
// so the reviewer sees what still has to be requested from the vendor.
func (e *Engine) recordUnlinkedReferences(session *review.Session) {
	for _, doc := range session.Manifest.Documents {
		if doc.Text == "" {
			continue
		}
		for _, ref := range scanUnlinkedReferences(doc.Text) {
			key := "awaiting:" + slugify(ref.name)
			if _, exists := session.Manifest.Get(key); exists {
				continue
			}
			session.Manifest.Upsert(review.DocumentRecord{
				Name:         ref.name,
				CanonicalURL: key,
				Categories:   []review.Category{ref.category},
				Included:     false,
				Origin:       review.OriginManual,
				ContextQuote: ref.quote,
				RetrievedAt:  e.clock.Now(),
			})
		}
	}
}

type unlinkedRef struct {
	name     string
	category review.Category
	quote    string
}

func scanUnlinkedReferences(text string) []unlinkedRef {
	var refs []unlinkedRef
	seen := make(map[string]struct{})
	for _, sentence := range sentenceSplit.Split(text, -1) {
		lower := strings.ToLower(sentence)
		if !containsAny(lower, requestMarkers) {
			continue
		}
		for _, doc := range awaitedDocuments {
			if !strings.Contains(lower, doc.marker) {
				continue
			}
			if _, dup := seen[doc.name]; dup {
				continue
			}
			seen[doc.name] = struct{}{}
			refs = append(refs, unlinkedRef{
				name:     doc.name,
				category: doc.category,
				quote:    truncateQuote(strings.TrimSpace(sentence)),
			})
		}
	}
	return refs
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func truncateQuote(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(s)
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
