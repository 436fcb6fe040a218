// Package checklist renders a session's document manifest as an editable
// markdown task list and parses the human-confirmed edits back out of it.
// Render and Parse must stay in sync: every line Render emits for a document
// has to round-trip through Parse without loss.
package checklist

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Marker identifies a checklist event body so updates replace the previous
// checklist instead of stacking new ones.
const Marker = "<!-- vendor-review:checklist -->"

// awaitingTag labels placeholder rows for referenced-but-unlinked documents.
const awaitingTag = "Awaiting Document"

// Render formats the manifest as the checklist posted for human review.
func Render(manifest review.Manifest) string {
	var online, offline []string
	for _, doc := range manifest.Documents {
		if doc.Origin == review.OriginManual && doc.BlobURI == "" {
			offline = append(offline, renderAwaiting(doc))
			continue
		}
		online = append(online, renderDocument(doc))
	}

	var b strings.Builder
	b.WriteString(Marker + "\n")
	b.WriteString("## 📋 Document Review Checklist\n")
	b.WriteString("Check the documents to include in the analysis, uncheck the rest, then confirm the review.\n")

	b.WriteString("\n### Online Documents Found\n")
	if len(online) == 0 {
		b.WriteString("*No documents were discovered from the seed URLs.*\n")
	} else {
		b.WriteString(strings.Join(online, "\n") + "\n")
	}

	if len(offline) > 0 {
		b.WriteString("\n### Offline / Unlinked References\n")
		b.WriteString("*(These were mentioned in fetched pages but not linked; upload them manually if needed)*\n\n")
		b.WriteString(strings.Join(offline, "\n") + "\n")
	}
	return b.String()
}

func renderDocument(doc review.DocumentRecord) string {
	checked := " "
	if doc.Included {
		checked = "x"
	}

	line := fmt.Sprintf("- [%s] **%s**: [`%s`](%s) (`%s`)",
		checked, tagFor(doc), displayName(doc), linkFor(doc), doc.CanonicalURL)
	if doc.FetchError != "" {
		line += fmt.Sprintf("\n  > *Fetch failed: %s*", doc.FetchError)
	}
	return line
}

func renderAwaiting(doc review.DocumentRecord) string {
	line := fmt.Sprintf("- [ ] **%s**: `%s` (`%s`)", awaitingTag, displayName(doc), doc.CanonicalURL)
	if doc.ContextQuote != "" {
		line += fmt.Sprintf("\n  > *Mentioned in: %q*", doc.ContextQuote)
	}
	return line
}

func tagFor(doc review.DocumentRecord) string {
	var tags []string
	for _, c := range doc.Categories {
		if c == review.CategoryUnclassified {
			continue
		}
		tags = append(tags, titleCategory(c))
	}
	if len(tags) == 0 {
		return "None"
	}
	return strings.Join(tags, ", ")
}

func titleCategory(c review.Category) string {
	s := string(c)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func displayName(doc review.DocumentRecord) string {
	if doc.Name != "" {
		return doc.Name
	}
	return doc.CanonicalURL
}

func linkFor(doc review.DocumentRecord) string {
	if doc.BlobURI != "" {
		return doc.BlobURI
	}
	return doc.SourceURL
}
