package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldSync_DefaultIncludeWhenNoRulesMatch(t *testing.T) {
	e := New()
	assert.True(t, e.ShouldSync("notes.md", "md"))
}

func TestShouldSync_PriorityWins(t *testing.T) {
	// Scenario 7 from spec.md §8: include *.md at priority 0, exclude
	// *-temp.md at priority 10 — the exclude wins on the overlapping path.
	e := New()
	require.NoError(t, e.AddRule(Rule{
		ID: "r1", Name: "include md", Kind: KindInclude, Pattern: "*.md",
		PatternKind: PatternGlob, Priority: 0, Enabled: true,
	}))
	require.NoError(t, e.AddRule(Rule{
		ID: "r2", Name: "exclude temp md", Kind: KindExclude, Pattern: "*-temp.md",
		PatternKind: PatternGlob, Priority: 10, Enabled: true,
	}))

	assert.False(t, e.ShouldSync("test-temp.md", ""))
	assert.True(t, e.ShouldSync("test.md", ""))
}

func TestShouldSync_Deterministic(t *testing.T) {
	e := New()
	require.NoError(t, e.AddRule(Rule{
		ID: "r1", Name: "exclude logs", Kind: KindExclude, Pattern: "*.log",
		PatternKind: PatternGlob, Priority: 5, Enabled: true,
	}))

	first := e.ShouldSync("debug.log", "")
	second := e.ShouldSync("debug.log", "")
	assert.Equal(t, first, second)
	assert.False(t, first)
}

func TestShouldSync_DisabledRuleIgnored(t *testing.T) {
	e := New()
	require.NoError(t, e.AddRule(Rule{
		ID: "r1", Name: "exclude all md", Kind: KindExclude, Pattern: "*.md",
		PatternKind: PatternGlob, Priority: 100, Enabled: false,
	}))

	assert.True(t, e.ShouldSync("notes.md", ""))
}

func TestShouldSync_FileTypeQualifier(t *testing.T) {
	e := New()
	require.NoError(t, e.AddRule(Rule{
		ID: "r1", Name: "exclude yaml only", Kind: KindExclude, Pattern: "config*",
		PatternKind: PatternGlob, FileType: "yaml", Priority: 10, Enabled: true,
	}))

	assert.False(t, e.ShouldSync("config.yaml", "yaml"))
	assert.True(t, e.ShouldSync("config.json", "json"))
}

func TestShouldSync_RegexPattern(t *testing.T) {
	e := New()
	require.NoError(t, e.AddRule(Rule{
		ID: "r1", Name: "exclude numbered backups", Kind: KindExclude,
		Pattern: `^backup-\d+\.tar$`, PatternKind: PatternRegex, Priority: 1, Enabled: true,
	}))

	assert.False(t, e.ShouldSync("backup-42.tar", ""))
	assert.True(t, e.ShouldSync("backup-final.tar", ""))
}

func TestShouldSync_DoubleStarGlob(t *testing.T) {
	e := New()
	require.NoError(t, e.AddRule(Rule{
		ID: "r1", Name: "exclude git dirs", Kind: KindExclude, Pattern: "**/.git/**",
		PatternKind: PatternGlob, Priority: 1, Enabled: true,
	}))

	assert.False(t, e.ShouldSync("skills/foo/.git/HEAD", ""))
	assert.True(t, e.ShouldSync("skills/foo/README.md", ""))
}

func TestValidate_MissingFields(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
		code string
	}{
		{"missing id", Rule{Name: "n", Pattern: "*", PatternKind: PatternGlob}, "missing-field"},
		{"missing name", Rule{ID: "i", Pattern: "*", PatternKind: PatternGlob}, "missing-field"},
		{"missing pattern", Rule{ID: "i", Name: "n"}, "missing-field"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.rule)
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.code, verr.Code)
		})
	}
}

func TestValidate_InvalidPriority(t *testing.T) {
	err := Validate(Rule{ID: "i", Name: "n", Pattern: "*", PatternKind: PatternGlob, Priority: 101})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid-priority", verr.Code)
}

func TestValidate_InvalidPattern(t *testing.T) {
	err := Validate(Rule{ID: "i", Name: "n", Pattern: "[", PatternKind: PatternRegex})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "invalid-pattern", verr.Code)
}

func TestRemoveRule(t *testing.T) {
	e := New()
	require.NoError(t, e.AddRule(Rule{ID: "r1", Name: "n", Pattern: "*", PatternKind: PatternGlob, Priority: 0, Enabled: true}))

	assert.True(t, e.RemoveRule("r1"))
	assert.False(t, e.RemoveRule("r1"))
	assert.Empty(t, e.Rules())
}

func TestSelectiveFilter(t *testing.T) {
	e := New()
	sf := NewSelectiveFilter(e, []string{"skills/**"})

	assert.True(t, sf.ShouldSync("skills/foo/SKILL.md", ""))
	assert.False(t, sf.ShouldSync("agents/bar.md", ""))
}

func TestRecommended_ExcludesGitAndNodeModules(t *testing.T) {
	e, err := NewFromRules(Recommended())
	require.NoError(t, err)

	assert.False(t, e.ShouldSync("project/.git/config", ""))
	assert.False(t, e.ShouldSync("project/node_modules/pkg/index.js", ""))
	assert.True(t, e.ShouldSync("skills/my-skill/SKILL.md", ""))
}
