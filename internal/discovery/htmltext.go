package discovery

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blankLines = regexp.MustCompile(`\n{3,}`)

// ExtractText flattens an HTML document to plain text for analysis bundles.
// Script, style and navigation chrome are dropped; block elements become
// line breaks so headings stay separated from body text.
func ExtractText(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript, nav, header, footer, svg").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, body *goquery.Selection) {
		writeBlockText(&sb, body)
	})
	if sb.Len() == 0 {
		// No body element; fall back to the whole document text.
		sb.WriteString(doc.Text())
	}

	text := strings.TrimSpace(sb.String())
	text = blankLines.ReplaceAllString(text, "\n\n")
	return text, nil
}

var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "li": {}, "tr": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"br": {}, "blockquote": {}, "pre": {}, "table": {},
}

func writeBlockText(sb *strings.Builder, sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		if goquery.NodeName(node) == "#text" {
			if txt := strings.TrimSpace(node.Text()); txt != "" {
				sb.WriteString(txt)
				sb.WriteByte(' ')
			}
			return
		}
		name := goquery.NodeName(node)
		if _, block := blockTags[name]; block {
			sb.WriteByte('\n')
			writeBlockText(sb, node)
			sb.WriteByte('\n')
			return
		}
		writeBlockText(sb, node)
	})
}
