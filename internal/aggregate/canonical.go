// Package aggregate groups recurring reports of the same real-world
// incident. Each verdict is fingerprinted over its canonical URL and
// normalized hospital; within the aggregation window one Event row
// collects every duplicate sighting.
package aggregate

import (
	"net/url"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// defaultTrackingParams are always stripped in addition to the
// configured set.
var defaultTrackingParams = []string{"spm", "from"}

// CanonicalizeURL normalizes a report URL so syntactic variants of the
// same page fingerprint identically:
//   - scheme and host lower-cased
//   - default ports stripped
//   - fragment dropped
//   - tracking query parameters removed (utm_* plus the configured set)
//   - remaining query keys sorted
//   - path preserved as-is
//
// The transform is idempotent: canonicalizing a canonical URL is a
// no-op. Unparseable input is returned trimmed but otherwise unchanged.
func CanonicalizeURL(raw string, trackingParams []string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.RawQuery != "" {
		u.RawQuery = canonicalQuery(u.Query(), trackingParams)
	}

	return u.String()
}

// canonicalQuery drops tracking keys and re-encodes the rest with keys
// sorted.
func canonicalQuery(values url.Values, trackingParams []string) string {
	for key := range values {
		if isTrackingParam(key, trackingParams) {
			delete(values, key)
		}
	}
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func isTrackingParam(key string, configured []string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "utm_") {
		return true
	}
	for _, p := range defaultTrackingParams {
		if lower == p {
			return true
		}
	}
	for _, p := range configured {
		if lower == strings.ToLower(p) {
			return true
		}
	}
	return false
}

// Fingerprint derives the 64-bit unsigned event key from the canonical
// URL and normalized hospital name. The NUL separator keeps
// ("a", "bc") and ("ab", "c") from colliding.
func Fingerprint(canonicalURL, hospital string) uint64 {
	return xxh3.HashString(canonicalURL + "\x00" + hospital)
}
