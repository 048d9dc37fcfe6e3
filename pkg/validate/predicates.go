package validate

import (
	"regexp"
	"strings"

	"github.com/kashaf12/mandate-sub001/pkg/policy"
)

// DenySystemPaths rejects args[pathField] values that touch a
// system path prefix or contain a "../" traversal segment.
func DenySystemPaths(pathField string, systemPrefixes []string) PredicateFunc {
	return func(tool string, args map[string]any, agentID string) policy.ValidationResult {
		raw, ok := args[pathField].(string)
		if !ok {
			return policy.ValidationResult{Allowed: true, TransformedArgs: args}
		}
		if strings.Contains(raw, "../") {
			return policy.ValidationResult{Allowed: false, Reason: "path traversal segment not allowed"}
		}
		for _, prefix := range systemPrefixes {
			if strings.HasPrefix(raw, prefix) {
				return policy.ValidationResult{Allowed: false, Reason: "path under restricted system prefix: " + prefix}
			}
		}
		return policy.ValidationResult{Allowed: true, TransformedArgs: args}
	}
}

// RestrictEmailDomain allows args[emailField] only when it ends in
// "@domain" (case-insensitive), lower-casing it as the transformed
// value so downstream comparisons are stable.
func RestrictEmailDomain(emailField, domain string) PredicateFunc {
	suffix := "@" + strings.ToLower(domain)
	return func(tool string, args map[string]any, agentID string) policy.ValidationResult {
		raw, ok := args[emailField].(string)
		if !ok {
			return policy.ValidationResult{Allowed: false, Reason: "missing " + emailField}
		}
		lower := strings.ToLower(raw)
		if !strings.HasSuffix(lower, suffix) {
			return policy.ValidationResult{Allowed: false, Reason: "recipient domain not permitted"}
		}
		transformed := cloneArgs(args)
		transformed[emailField] = lower
		return policy.ValidationResult{Allowed: true, TransformedArgs: transformed}
	}
}

var writeSQLKeywords = []string{"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE", "GRANT", "REVOKE"}

// DenyWriteSQL rejects args[queryField] values containing a
// write-SQL keyword, matched case-insensitively on a word boundary.
func DenyWriteSQL(queryField string) PredicateFunc {
	return func(tool string, args map[string]any, agentID string) policy.ValidationResult {
		raw, ok := args[queryField].(string)
		if !ok {
			return policy.ValidationResult{Allowed: true, TransformedArgs: args}
		}
		upper := strings.ToUpper(raw)
		for _, kw := range writeSQLKeywords {
			if containsWord(upper, kw) {
				return policy.ValidationResult{Allowed: false, Reason: "write statement not permitted: " + kw}
			}
		}
		return policy.ValidationResult{Allowed: true, TransformedArgs: args}
	}
}

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// EmailFormat rejects args[emailField] values that don't look like an
// email address.
func EmailFormat(emailField string) PredicateFunc {
	return func(tool string, args map[string]any, agentID string) policy.ValidationResult {
		raw, ok := args[emailField].(string)
		if !ok || !emailShape.MatchString(raw) {
			return policy.ValidationResult{Allowed: false, Reason: "invalid email format"}
		}
		return policy.ValidationResult{Allowed: true, TransformedArgs: args}
	}
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], word)
		if pos < 0 {
			return false
		}
		pos += idx
		before := pos == 0 || !isWordChar(haystack[pos-1])
		after := pos+len(word) == len(haystack) || !isWordChar(haystack[pos+len(word)])
		if before && after {
			return true
		}
		idx = pos + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
