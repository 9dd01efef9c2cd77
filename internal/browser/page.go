package browser

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// titleSelectors are tried in order for the article title.
var titleSelectors = []string{
	`meta[property="og:title"]`,
	".article-title",
	".report-title",
	"h1",
	"title",
}

// contentSelectors are tried in order for the article body; the first
// selector with non-trivial text wins. A whole-document text walk is
// the last resort for pages with unexpected structure.
var contentSelectors = []string{
	"article",
	".article-content",
	".report-content",
	".content",
	"#content",
}

// platformSelectors locate the source-platform label the vendor stamps
// on each report page.
var platformSelectors = []string{
	`meta[property="og:site_name"]`,
	".source-platform",
	".platform",
	".source",
}

// ExtractPage pulls {title, visible text, platform label} out of
// rendered HTML using structural selectors, falling back to a raw
// text-node walk when the structure is unrecognized.
func ExtractPage(rawHTML string) *Page {
	page := &Page{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		page.Text = textNodeFallback(rawHTML)
		return page
	}

	for _, sel := range titleSelectors {
		if t := selectText(doc, sel); t != "" {
			page.Title = t
			break
		}
	}

	for _, sel := range platformSelectors {
		if p := selectText(doc, sel); p != "" {
			page.Platform = p
			break
		}
	}

	for _, sel := range contentSelectors {
		text := cleanWhitespace(doc.Find(sel).First().Text())
		if len(text) >= 40 {
			page.Text = text
			break
		}
	}
	if page.Text == "" {
		// Structure not recognized: strip chrome and walk text nodes.
		doc.Find("script, style, nav, header, footer, noscript").Remove()
		page.Text = cleanWhitespace(doc.Find("body").Text())
	}
	if page.Text == "" {
		page.Text = textNodeFallback(rawHTML)
	}

	return page
}

// selectText returns the trimmed text (or content attribute for meta
// tags) of the first match.
func selectText(doc *goquery.Document, selector string) string {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	if goquery.NodeName(sel) == "meta" {
		content, _ := sel.Attr("content")
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(sel.Text())
}

// skipElements are HTML elements whose content is never article text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Head:     true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

// textNodeFallback tokenizes malformed HTML and concatenates its text
// nodes, skipping script/style content.
func textNodeFallback(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	var b strings.Builder
	var skipDepth int

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return cleanWhitespace(b.String())
			}
			return cleanWhitespace(b.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skipElements[atom.Lookup(name)] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skipElements[atom.Lookup(name)] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.WriteString(tokenizer.Token().Data)
				b.WriteString(" ")
			}
		}
	}
}

// cleanWhitespace collapses runs of whitespace and blank lines in
// extracted text.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var cleaned []string
	prevEmpty := false

	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
		} else {
			prevEmpty = false
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
