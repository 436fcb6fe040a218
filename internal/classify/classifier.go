// Package classify assigns review categories to discovered documents.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// CapabilityName is the external capability consulted when heuristics fail.
const CapabilityName = "classify_document"

// Keyword vocabularies matched against the URL path and the document text.
// Classification is advisory: it sets inclusion defaults, never blocks.
var legalKeywords = []string{
	"privacy",
	"dpa",
	"data-processing",
	"data_processing",
	"terms",
	"tos",
	"legal",
	"gdpr",
	"ccpa",
	"subprocessor",
	"sub-processor",
	"eula",
	"msa",
	"acceptable-use",
	"aup",
	"cookie",
	"sla",
	"service-level",
}

var securityKeywords = []string{
	"security",
	"trust",
	"soc2",
	"soc-2",
	"iso27001",
	"iso-27001",
	"compliance",
	"pentest",
	"penetration",
	"vulnerability",
	"infosec",
	"certifications",
	"bug-bounty",
	"encryption",
	"incident-response",
}

// Strong in-text markers, checked only against the head of the document.
var legalTextMarkers = []string{
	"data processing addendum",
	"data processing agreement",
	"privacy policy",
	"terms of service",
	"service level agreement",
}

var securityTextMarkers = []string{
	"soc 2",
	"iso 27001",
	"security overview",
	"penetration test",
	"incident response",
}

// Classifier assigns categories using deterministic heuristics first and an
// external capability for unresolved cases.
type Classifier struct {
	invoker review.Invoker
	logger  *zap.Logger
}

// New builds a Classifier. The invoker may be nil; heuristics then decide
// alone and unresolved documents stay unclassified.
func New(invoker review.Invoker, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		invoker: invoker,
		logger:  logger.Named("classify"),
	}
}

// Classify returns the category set for a document. It never returns an
// error: an unresolvable document is tagged unclassified and left for the
// human reviewer.
func (c *Classifier) Classify(ctx context.Context, rawURL, text string) []review.Category {
	if cats := Heuristic(rawURL, text); len(cats) > 0 {
		return cats
	}
	if c.invoker == nil {
		return []review.Category{review.CategoryUnclassified}
	}

	cats, err := c.delegate(ctx, rawURL, text)
	if err != nil {
		c.logger.Warn("capability classification failed",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return []review.Category{review.CategoryUnclassified}
	}
	if len(cats) == 0 {
		return []review.Category{review.CategoryUnclassified}
	}
	return cats
}

type capabilityVerdict struct {
	Categories []string `json:"categories"`
}

func (c *Classifier) delegate(ctx context.Context, rawURL, text string) ([]review.Category, error) {
	const maxExcerpt = 4000
	excerpt := text
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt]
	}

	raw, err := c.invoker.Invoke(ctx, CapabilityName, map[string]any{
		"url":     rawURL,
		"excerpt": excerpt,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", CapabilityName, err)
	}

	var verdict capabilityVerdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, fmt.Errorf("decode %s output: %w", CapabilityName, err)
	}

	var cats []review.Category
	for _, c := range verdict.Categories {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case string(review.CategoryLegal):
			cats = appendUnique(cats, review.CategoryLegal)
		case string(review.CategorySecurity):
			cats = appendUnique(cats, review.CategorySecurity)
		}
	}
	if len(cats) == 0 {
		return nil, review.ErrClassificationAmbiguous
	}
	return cats, nil
}

// Heuristic classifies from the URL path and the head of the document text
// alone. Deterministic; safe to re-run on re-discovery.
func Heuristic(rawURL, text string) []review.Category {
	haystack := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil {
		haystack = strings.ToLower(u.Path + "?" + u.RawQuery)
	}

	var cats []review.Category
	for _, kw := range legalKeywords {
		if containsToken(haystack, kw) {
			cats = appendUnique(cats, review.CategoryLegal)
			break
		}
	}
	for _, kw := range securityKeywords {
		if containsToken(haystack, kw) {
			cats = appendUnique(cats, review.CategorySecurity)
			break
		}
	}

	const headSize = 2000
	head := strings.ToLower(text)
	if len(head) > headSize {
		head = head[:headSize]
	}
	for _, marker := range legalTextMarkers {
		if strings.Contains(head, marker) {
			cats = appendUnique(cats, review.CategoryLegal)
			break
		}
	}
	for _, marker := range securityTextMarkers {
		if strings.Contains(head, marker) {
			cats = appendUnique(cats, review.CategorySecurity)
			break
		}
	}
	return cats
}

var tokenBoundary = regexp.MustCompile(`[a-z0-9]+(?:[-_][a-z0-9]+)*`)

// containsToken matches kw against hyphen/underscore delimited path tokens so
// "terms" matches "/terms-of-service" but not "/determinism".
func containsToken(haystack, kw string) bool {
	for _, token := range tokenBoundary.FindAllString(haystack, -1) {
		if token == kw {
			return true
		}
		for _, part := range strings.FieldsFunc(token, func(r rune) bool { return r == '-' || r == '_' }) {
			if part == kw {
				return true
			}
		}
	}
	// Compound keywords ("data-processing") span token separators.
	return strings.Contains(kw, "-") && strings.Contains(haystack, kw)
}

func appendUnique(cats []review.Category, c review.Category) []review.Category {
	for _, have := range cats {
		if have == c {
			return cats
		}
	}
	return append(cats, c)
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// DeriveName produces a human-readable document name for checklists: the HTML
// title when present, otherwise the humanized last URL path segment.
func DeriveName(rawURL, text string) string {
	if m := titlePattern.FindStringSubmatch(text); len(m) == 2 {
		title := strings.TrimSpace(htmlUnescapeBasic(m[1]))
		if title != "" {
			return title
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return rawURL
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	last = strings.TrimSuffix(last, ".html")
	last = strings.TrimSuffix(last, ".htm")
	last = strings.TrimSuffix(last, ".pdf")
	last = strings.ReplaceAll(last, "-", " ")
	last = strings.ReplaceAll(last, "_", " ")
	if last == "" {
		return rawURL
	}
	return titleCase(last)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func htmlUnescapeBasic(s string) string {
	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
	return r.Replace(s)
}
