package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// rawURLRe picks up bare URLs from plain-text bodies. Trailing
// punctuation common in prose is excluded.
var rawURLRe = regexp.MustCompile(`https?://[^\s<>"'）)】\]]+`)

// CollectLinks gathers candidate report URLs from the mail's anchor
// tags and raw text, keeps only those on the vendor domain, and
// deduplicates preserving first-seen order.
func CollectLinks(htmlBody, textBody, vendorDomain string) []string {
	var candidates []string

	if htmlBody != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody)); err == nil {
			doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
				if href, ok := s.Attr("href"); ok {
					candidates = append(candidates, strings.TrimSpace(href))
				}
			})
		}
		candidates = append(candidates, rawURLRe.FindAllString(htmlBody, -1)...)
	}
	candidates = append(candidates, rawURLRe.FindAllString(textBody, -1)...)

	seen := make(map[string]bool)
	var out []string
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		if !onVendorDomain(c, vendorDomain) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// onVendorDomain reports whether raw parses as an http(s) URL whose
// host is the vendor domain or a subdomain of it. An empty vendor
// domain accepts every host.
func onVendorDomain(raw, vendorDomain string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if vendorDomain == "" {
		return u.Host != ""
	}
	host := strings.ToLower(u.Hostname())
	vendor := strings.ToLower(vendorDomain)
	return host == vendor || strings.HasSuffix(host, "."+vendor)
}
