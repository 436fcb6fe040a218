package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

func TestScanUnlinkedReferences(t *testing.T) {
	t.Parallel()

	text := `We take security seriously.
Our SOC 2 Type II report is available upon request.
An ISO 27001 certificate can be provided to customers on request.
We also blog about penetration testing best practices.`

	refs := scanUnlinkedReferences(text)
	require.Len(t, refs, 2)
	require.Equal(t, "SOC 2 Report", refs[0].name)
	require.Equal(t, review.CategorySecurity, refs[0].category)
	require.Contains(t, refs[0].quote, "available upon request")
	require.Equal(t, "ISO 27001 Certificate", refs[1].name)
}

func TestScanUnlinkedReferences_NoRequestMarkerNoMatch(t *testing.T) {
	t.Parallel()

	refs := scanUnlinkedReferences("Our SOC 2 audit happens annually.")
	require.Empty(t, refs)
}

func TestRecordUnlinkedReferences_AddsExcludedManualPlaceholders(t *testing.T) {
	t.Parallel()

	engine := &Engine{clock: fixedClock{at: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}}
	session := &review.Session{Manifest: review.Manifest{Documents: []review.DocumentRecord{
		{
			CanonicalURL: "https://vendor.example/security",
			Text:         "Our SOC 2 report is available upon request.",
			Included:     true,
		},
	}}}

	engine.recordUnlinkedReferences(session)

	placeholder, ok := session.Manifest.Get("awaiting:soc-2-report")
	require.True(t, ok)
	require.Equal(t, "SOC 2 Report", placeholder.Name)
	require.Equal(t, review.OriginManual, placeholder.Origin)
	require.False(t, placeholder.Included)
	require.NotEmpty(t, placeholder.ContextQuote)

	// Re-running does not duplicate the placeholder.
	engine.recordUnlinkedReferences(session)
	count := 0
	for _, d := range session.Manifest.Documents {
		if d.CanonicalURL == "awaiting:soc-2-report" {
			count++
		}
	}
	require.Equal(t, 1, count)
}
