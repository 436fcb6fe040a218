package checklist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

func sampleManifest() review.Manifest {
	return review.Manifest{Documents: []review.DocumentRecord{
		{
			Name:         "Terms of Service",
			SourceURL:    "https://vendor.example/terms",
			CanonicalURL: "https://vendor.example/terms",
			BlobURI:      "file:///blobs/sessions/s1/abc.html",
			Categories:   []review.Category{review.CategoryLegal},
			Included:     true,
		},
		{
			Name:         "Trust Center",
			SourceURL:    "https://vendor.example/trust",
			CanonicalURL: "https://vendor.example/trust",
			Categories:   []review.Category{review.CategoryLegal, review.CategorySecurity},
			Included:     true,
		},
		{
			Name:         "Careers",
			SourceURL:    "https://vendor.example/careers",
			CanonicalURL: "https://vendor.example/careers",
			Categories:   []review.Category{review.CategoryUnclassified},
			Included:     false,
		},
		{
			Name:         "Status Page",
			SourceURL:    "https://vendor.example/status",
			CanonicalURL: "https://vendor.example/status",
			Included:     false,
			FetchError:   "connection refused",
		},
		{
			Name:         "SOC 2 Report",
			CanonicalURL: "awaiting:soc-2-report",
			Origin:       review.OriginManual,
			ContextQuote: "Our SOC 2 report is available upon request.",
			Categories:   []review.Category{review.CategorySecurity},
			Included:     false,
		},
	}}
}

func TestRender(t *testing.T) {
	t.Parallel()

	out := Render(sampleManifest())
	require.True(t, strings.HasPrefix(out, Marker))
	require.Contains(t, out, "- [x] **Legal**: [`Terms of Service`](file:///blobs/sessions/s1/abc.html) (`https://vendor.example/terms`)")
	require.Contains(t, out, "- [x] **Legal, Security**: [`Trust Center`]")
	require.Contains(t, out, "- [ ] **None**: [`Careers`]")
	require.Contains(t, out, "*Fetch failed: connection refused*")
	require.Contains(t, out, "Offline / Unlinked References")
	require.Contains(t, out, "- [ ] **Awaiting Document**: `SOC 2 Report` (`awaiting:soc-2-report`)")
	require.Contains(t, out, "available upon request")
}

func TestRenderParseRoundTrip(t *testing.T) {
	t.Parallel()

	manifest := sampleManifest()
	overrides := Parse(Render(manifest))
	require.Len(t, overrides, len(manifest.Documents))

	byKey := map[string]review.ChecklistOverride{}
	for _, o := range overrides {
		byKey[o.CanonicalURL] = o
	}

	require.True(t, byKey["https://vendor.example/terms"].Included)
	require.Equal(t, []review.Category{review.CategoryLegal}, byKey["https://vendor.example/terms"].Categories)
	require.True(t, byKey["https://vendor.example/trust"].Included)
	require.Len(t, byKey["https://vendor.example/trust"].Categories, 2)
	require.False(t, byKey["https://vendor.example/careers"].Included)
	require.Empty(t, byKey["https://vendor.example/careers"].Categories)
	require.False(t, byKey["awaiting:soc-2-report"].Included)
}

func TestParse_HumanEdits(t *testing.T) {
	t.Parallel()

	body := Render(sampleManifest())
	// Reviewer unchecks the terms page and checks the careers page.
	body = strings.Replace(body,
		"- [x] **Legal**: [`Terms of Service`]",
		"- [ ] **Legal**: [`Terms of Service`]", 1)
	body = strings.Replace(body,
		"- [ ] **None**: [`Careers`]",
		"- [X] **None**: [`Careers`]", 1)

	byKey := map[string]review.ChecklistOverride{}
	for _, o := range Parse(body) {
		byKey[o.CanonicalURL] = o
	}
	require.False(t, byKey["https://vendor.example/terms"].Included)
	require.True(t, byKey["https://vendor.example/careers"].Included)
}

func TestParse_IgnoresProse(t *testing.T) {
	t.Parallel()

	body := `Looks good to me overall.

- [x] **Legal**: [` + "`Terms`" + `](https://blob.example/x) (` + "`https://vendor.example/terms`" + `)

Let me know if anything is missing. [ ] ** not a row **
`
	overrides := Parse(body)
	require.Len(t, overrides, 1)
	require.Equal(t, "https://vendor.example/terms", overrides[0].CanonicalURL)
}

func TestParse_EmptyBody(t *testing.T) {
	t.Parallel()

	require.Empty(t, Parse(""))
	require.Empty(t, Parse("no checklist here"))
}
