package classify

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/fusae/mailcheck/internal/store"
)

// RuleSet is a compiled snapshot of the enabled suppression rules plus
// the admin keyword list, rebuilt by the pipeline at the start of each
// tick. Disabled rules never enter a RuleSet.
type RuleSet struct {
	suppressKeywords []string // literal patterns with action=suppress
	suppressRegexps  []compiledRule
	downgradeRules   []compiledRule
	adminKeywords    []string
}

type compiledRule struct {
	pattern string
	re      *regexp.Regexp
}

// NewRuleSet compiles rules and keywords. Regex patterns that fail to
// compile are skipped with a warning rather than poisoning the set.
func NewRuleSet(rules []*store.Rule, adminKeywords []string, logger *slog.Logger) *RuleSet {
	if logger == nil {
		logger = slog.Default()
	}
	rs := &RuleSet{adminKeywords: adminKeywords}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		switch r.RuleType {
		case store.RuleTypeRegex:
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				logger.Warn("skipping rule with invalid regex",
					"pattern", r.Pattern, "error", err)
				continue
			}
			cr := compiledRule{pattern: r.Pattern, re: re}
			if r.Action == store.RuleActionDowngrade {
				rs.downgradeRules = append(rs.downgradeRules, cr)
			} else {
				rs.suppressRegexps = append(rs.suppressRegexps, cr)
			}
		default:
			if r.Action == store.RuleActionDowngrade {
				rs.downgradeRules = append(rs.downgradeRules, compiledRule{pattern: r.Pattern})
			} else {
				rs.suppressKeywords = append(rs.suppressKeywords, r.Pattern)
			}
		}
	}

	return rs
}

// MatchSuppress returns the matching pattern when any suppress rule or
// admin keyword hits the text. A hit short-circuits classification to a
// non-negative verdict without an LLM call.
func (rs *RuleSet) MatchSuppress(text string) (string, bool) {
	for _, kw := range rs.suppressKeywords {
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	for _, cr := range rs.suppressRegexps {
		if cr.re.MatchString(text) {
			return cr.pattern, true
		}
	}
	for _, kw := range rs.adminKeywords {
		if kw != "" && strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// MatchDowngrade reports whether a downgrade rule hits the text;
// matching verdicts get their severity ceiling capped.
func (rs *RuleSet) MatchDowngrade(text string) (string, bool) {
	for _, cr := range rs.downgradeRules {
		if cr.re != nil {
			if cr.re.MatchString(text) {
				return cr.pattern, true
			}
			continue
		}
		if cr.pattern != "" && strings.Contains(text, cr.pattern) {
			return cr.pattern, true
		}
	}
	return "", false
}
