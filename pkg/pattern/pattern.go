// Package pattern implements glob-style matching for tool names.
//
// A pattern is a literal string that may contain `*`, matching any
// sequence of characters (including none). There is no escape syntax:
// a literal `*` in a tool name cannot be expressed. Patterns are
// compiled once (escaping every other regex metacharacter, then
// substituting `*` with `.*`, anchored on both ends) and cached, since
// a mandate's allow/deny lists are static for its lifetime.
package pattern

import (
	"regexp"
	"strings"
	"sync"
)

// compiledCache memoizes compiled patterns across calls, mirroring the
// program cache the teacher keeps for compiled CEL expressions.
var compiledCache sync.Map // string -> *regexp.Regexp

// Compile returns the compiled regular expression for a glob pattern,
// compiling and caching it on first use.
func Compile(pattern string) (*regexp.Regexp, error) {
	if cached, ok := compiledCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil, err
	}

	actual, _ := compiledCache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// Match reports whether s matches the glob pattern. An invalid pattern
// never matches.
func Match(s, pattern string) bool {
	re, err := Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// MatchAny reports whether s matches any of the given patterns.
func MatchAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if Match(s, p) {
			return true
		}
	}
	return false
}

// IsToolAllowed implements the fail-closed allow/deny resolution from
// spec §4.1:
//  1. Any pattern in denied matching tool -> deny.
//  2. allowed empty -> allow.
//  3. Any pattern in allowed matching tool -> allow.
//  4. Otherwise deny (fail-closed).
func IsToolAllowed(tool string, allowed, denied []string) bool {
	if MatchAny(tool, denied) {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	return MatchAny(tool, allowed)
}
