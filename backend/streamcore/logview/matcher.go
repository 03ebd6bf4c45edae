package logview

import (
	"regexp"
	"strings"
)

// matcher is the compiled form of a FilterSpec. A nil pattern matches every
// line.
type matcher struct {
	pattern *regexp.Regexp
	invalid bool
}

// compileFilter builds a matcher for the spec. An invalid regex pattern must
// not crash ingestion: it falls back to literal substring matching on the raw
// term, with invalid reported so the UI can hint.
func compileFilter(spec FilterSpec) matcher {
	term := spec.Term
	if term == "" {
		return matcher{}
	}

	var expr string
	invalid := false
	switch spec.Mode {
	case ModeRegex:
		if _, err := regexp.Compile(term); err != nil {
			invalid = true
			expr = regexp.QuoteMeta(term)
		} else {
			expr = term
		}
	case ModeGrep:
		expr = globToRegexp(term)
	default:
		expr = regexp.QuoteMeta(term)
	}

	if !spec.CaseSensitive {
		expr = "(?i)" + expr
	}

	pattern, err := regexp.Compile(expr)
	if err != nil {
		// Compilation can only fail here for a hostile regex-mode term that
		// slipped past the probe above; degrade to literal matching.
		pattern = regexp.MustCompile(regexp.QuoteMeta(term))
		invalid = true
	}
	return matcher{pattern: pattern, invalid: invalid}
}

// globToRegexp translates shell-glob wildcards: * matches any run of
// characters, ? matches a single character, everything else is literal.
func globToRegexp(term string) string {
	var b strings.Builder
	for _, r := range term {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// match tests the stripped message and returns the highlight ranges.
func (m matcher) match(stripped string) (bool, [][2]int) {
	if m.pattern == nil {
		return true, nil
	}
	locations := m.pattern.FindAllStringIndex(stripped, -1)
	if len(locations) == 0 {
		return false, nil
	}
	ranges := make([][2]int, 0, len(locations))
	for _, loc := range locations {
		if loc[1] > loc[0] {
			ranges = append(ranges, [2]int{loc[0], loc[1]})
		}
	}
	return true, ranges
}
