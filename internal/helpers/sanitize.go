package helpers

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	tablePolicyOnce sync.Once
	tablePolicy     *bluemonday.Policy
)

// StrictHTMLPolicy strips every element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// TableHTMLPolicy keeps table structure and inline text formatting only. Attributes
// other than row and column spans are dropped, so class names and event handlers
// copied from a results page never reach the model prompt.
func TableHTMLPolicy() *bluemonday.Policy {
	tablePolicyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements("table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption")
		p.AllowElements("b", "strong", "i", "em", "span", "br", "sup", "sub")
		p.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("th", "td")
		tablePolicy = p
	})
	return tablePolicy
}

// SanitizeHTMLStrict returns the plain text of s, trimmed.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// SanitizeTableMarkup cleans the inner markup of a table. A fragment with no
// surviving text yields "".
func SanitizeTableMarkup(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	cleaned := strings.TrimSpace(TableHTMLPolicy().Sanitize(s))
	if SanitizeHTMLStrict(cleaned) == "" {
		return ""
	}
	return cleaned
}
