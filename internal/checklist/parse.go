package checklist

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// itemPattern matches one checklist row. The trailing backticked group is the
// canonical URL key; the greedy middle swallows the display link so the last
// parenthesized code span wins.
var itemPattern = regexp.MustCompile("(?m)^-\\s*\\[([ xX])\\]\\s*\\*\\*(.+?)\\*\\*:.*\\(`([^`]+)`\\)\\s*$")

// Parse extracts the human-confirmed inclusion state from an edited checklist
// body. Lines that do not look like checklist rows are ignored, so surrounding
// prose and reviewer commentary are harmless.
func Parse(body string) []review.ChecklistOverride {
	matches := itemPattern.FindAllStringSubmatch(body, -1)
	overrides := make([]review.ChecklistOverride, 0, len(matches))
	for _, m := range matches {
		checked := strings.EqualFold(m[1], "x")
		tag := strings.TrimSpace(m[2])
		key := strings.TrimSpace(m[3])
		if key == "" {
			continue
		}
		overrides = append(overrides, review.ChecklistOverride{
			CanonicalURL: key,
			Included:     checked,
			Categories:   parseCategories(tag),
		})
	}
	return overrides
}

// parseCategories maps a rendered tag back to category values. Nil means the
// tag carries no category information and the existing tags stand.
func parseCategories(tag string) []review.Category {
	if strings.HasPrefix(tag, awaitingTag) {
		return nil
	}
	var out []review.Category
	for _, part := range strings.Split(tag, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "legal":
			out = append(out, review.CategoryLegal)
		case "security":
			out = append(out, review.CategorySecurity)
		}
	}
	return out
}
