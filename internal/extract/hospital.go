// Package extract turns a polled mail into scraped articles: it parses
// the hospital name, collects the vendor report links from the mail
// body, renders each page through the browser pool, and emits
// normalized article text for classification.
package extract

import (
	"regexp"
	"strings"
)

// UnknownHospital marks mails where no hospital name could be parsed.
const UnknownHospital = "未知"

// hospitalLabelRe matches the labelled line vendors put in the mail
// body, e.g. "医院：XX市第一人民医院" or "机构: XX妇幼保健院".
var hospitalLabelRe = regexp.MustCompile(`(?m)^\s*(?:医院|机构|单位)\s*[:：]\s*(\S[^\r\n]*?)\s*$`)

// subjectPatterns are tried in order against the mail subject. The
// capture ends on a hospital-suffix token; vendors append tags like
// "负面舆情" after the name.
var subjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([\p{Han}A-Za-z0-9]+?(?:人民医院|中心医院|附属医院|总医院|中医院|医院))`),
	regexp.MustCompile(`([\p{Han}A-Za-z0-9]+?(?:妇幼保健院|保健院|卫生院|疗养院))`),
	regexp.MustCompile(`([\p{Han}A-Za-z0-9]+?(?:医疗中心|医学中心|诊所))`),
}

// leadInWords are connective tokens subjects put in front of the
// hospital name; the suffix patterns would otherwise swallow them.
var leadInWords = []string{"关于", "有关", "转发", "致"}

// HospitalFromSubject extracts the hospital name from a mail subject
// using the ordered suffix patterns. Returns UnknownHospital when
// nothing matches.
func HospitalFromSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for _, re := range subjectPatterns {
		if m := re.FindStringSubmatch(subject); m != nil {
			name := m[1]
			for _, lead := range leadInWords {
				name = strings.TrimPrefix(name, lead)
			}
			return NormalizeHospital(name)
		}
	}
	return UnknownHospital
}

// HospitalFromMail prefers the labelled body line, then the subject
// patterns, then UnknownHospital.
func HospitalFromMail(subject, body string) string {
	if m := hospitalLabelRe.FindStringSubmatch(body); m != nil {
		if name := NormalizeHospital(m[1]); name != "" {
			return name
		}
	}
	return HospitalFromSubject(subject)
}

// NormalizeHospital removes all whitespace, leading, trailing and inner,
// so the same hospital always fingerprints identically.
func NormalizeHospital(name string) string {
	return strings.Join(strings.Fields(name), "")
}
