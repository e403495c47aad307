package tablefilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmptyAndStarMatchAll(t *testing.T) {
	assert.True(t, Parse("").MatchesAll())
	assert.True(t, Parse("*").MatchesAll())
}

func TestExplicitPatternsMatch(t *testing.T) {
	f := Parse("a,b")
	assert.True(t, f.Matches("", "a"))
	assert.True(t, f.Matches("", "b"))
	assert.False(t, f.Matches("", "c"))
}

func TestWildcardSuffixAndPrefix(t *testing.T) {
	assert.True(t, Parse("*_log").Matches("", "error_log"))
	assert.False(t, Parse("*_log").Matches("", "logs"))
	assert.True(t, Parse("User*").Matches("", "UserAccounts"))
}

func TestSchemaQualifiedPattern(t *testing.T) {
	f := Parse("dbo.u*")
	assert.True(t, f.Matches("dbo", "users"))
	assert.False(t, f.Matches("sys", "users"))
}

func TestSchemaWildcardMatchesAnySchema(t *testing.T) {
	f := Parse("sales.*")
	assert.True(t, f.Matches("sales", "anything"))
	assert.False(t, f.Matches("other", "anything"))
}

func TestPatternWithoutSchemaMatchesAnySchema(t *testing.T) {
	f := Parse("users")
	assert.True(t, f.Matches("dbo", "users"))
	assert.True(t, f.Matches("", "users"))
}

func TestSingleCharWildcard(t *testing.T) {
	f := Parse("User?")
	assert.True(t, f.Matches("", "Users"))
	assert.True(t, f.Matches("", "User1"))
	assert.False(t, f.Matches("", "User12"))
}

func TestCommaSeparatedMixedPatterns(t *testing.T) {
	f := Parse("users,products,*_log")
	assert.True(t, f.Matches("", "users"))
	assert.True(t, f.Matches("", "products"))
	assert.True(t, f.Matches("", "audit_log"))
	assert.False(t, f.Matches("", "other"))
}

func TestFilterPrecisionScenario(t *testing.T) {
	f := Parse("user*,*_log")
	tables := []string{"users", "user_logs", "audit_log", "products"}
	var matched []string
	for _, tbl := range tables {
		if f.Matches("", tbl) {
			matched = append(matched, tbl)
		}
	}
	assert.ElementsMatch(t, []string{"users", "user_logs", "audit_log"}, matched)
}

func TestWhitespaceIsTrimmed(t *testing.T) {
	f := Parse(" a , b.c ")
	assert.True(t, f.Matches("", "a"))
	assert.True(t, f.Matches("b", "c"))
}
