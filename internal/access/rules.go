package access

import (
	"strings"

	"github.com/gobwas/glob"
)

type RuleKind int

const (
	// KindOperation matches raw-operation grants of the form
	// "ns.entity.Method(args)".
	KindOperation RuleKind = iota
	// KindFunction matches rpc-function grants, with suffix and
	// namespace-prefix wildcards.
	KindFunction
)

// Rule is one free-form grant pattern kept verbatim from an access row.
// Wildcard patterns are compiled once; matching is explicit glob/prefix
// semantics rather than string concatenation at call sites.
type Rule struct {
	Kind    RuleKind
	Pattern string

	matcher glob.Glob
}

func NewRule(kind RuleKind, pattern string) Rule {
	r := Rule{Kind: kind, Pattern: pattern}
	if kind == KindFunction && strings.Contains(pattern, "*") {
		if g, err := glob.Compile(pattern); err == nil {
			r.matcher = g
		}
	}
	return r
}

func (r Rule) Matches(namespace, entity, method string) bool {
	switch r.Kind {
	case KindOperation:
		return strings.Contains(r.Pattern, "."+entity+"."+method+"(")
	case KindFunction:
		if strings.Contains(r.Pattern, "."+entity+"."+method) {
			return true
		}
		if strings.Contains(r.Pattern, "."+entity+".*") {
			return true
		}
		if r.matcher != nil && r.matcher.Match(namespace+"."+entity+"."+method) {
			return true
		}
		// a wildcard-stripped pattern acting as a namespace prefix,
		// e.g. "FS.ord*" admitting FS.orders
		if strings.Contains(r.Pattern, "*") {
			prefix := strings.ReplaceAll(r.Pattern, "*", "")
			if prefix != "" && strings.HasPrefix(namespace+"."+entity, prefix) {
				return true
			}
		}
	}
	return false
}
