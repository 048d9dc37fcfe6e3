package pattern_test

import (
	"testing"

	"github.com/kashaf12/mandate-sub001/pkg/pattern"
	"github.com/stretchr/testify/assert"
)

func TestMatch_ExactNoWildcard(t *testing.T) {
	assert.True(t, pattern.Match("read_file", "read_file"))
	assert.False(t, pattern.Match("read_files", "read_file"))
}

func TestMatch_Wildcard(t *testing.T) {
	assert.True(t, pattern.Match("read_file", "read_*"))
	assert.True(t, pattern.Match("read_", "read_*"))
	assert.False(t, pattern.Match("write_file", "read_*"))
}

func TestMatch_EmptyPatternMatchesOnlyEmptyString(t *testing.T) {
	// The empty pattern compiles to "^$", so it matches only the empty
	// tool name.
	assert.False(t, pattern.Match("anything", ""))
	assert.True(t, pattern.Match("", ""))
}

func TestIsToolAllowed_DenyBeatsAllow(t *testing.T) {
	allowed := []string{"read_*", "search_*"}
	denied := []string{"delete_*", "execute_*"}

	assert.True(t, pattern.IsToolAllowed("read_file", allowed, denied))
	assert.False(t, pattern.IsToolAllowed("delete_file", allowed, denied))
	assert.False(t, pattern.IsToolAllowed("write_file", allowed, denied))
}

func TestIsToolAllowed_EmptyAllowListAllowsAll(t *testing.T) {
	assert.True(t, pattern.IsToolAllowed("anything", nil, nil))
	assert.False(t, pattern.IsToolAllowed("danger_op", nil, []string{"danger_*"}))
}

func TestIsToolAllowed_FailClosedOnUnknownTool(t *testing.T) {
	assert.False(t, pattern.IsToolAllowed("unknown_tool", []string{"read_file"}, nil))
}

func TestIsToolAllowed_LiteralStarNotSupported(t *testing.T) {
	// The * in a pattern is always a wildcard, never a literal: "a*b"
	// matches "aXXXb", and a pattern without * never matches a tool
	// named "a*b".
	assert.True(t, pattern.Match("aXXXb", "a*b"))
	assert.False(t, pattern.Match("a*b", "aXb"))
}
