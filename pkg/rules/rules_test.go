package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachhq/coach/pkg/proposals"
	"github.com/coachhq/coach/pkg/scope"
)

func ruleCandidate() proposals.Candidate {
	return proposals.Candidate{
		ID:            "aaaa1111",
		Title:         "Use merge queue flags",
		CandidateType: "rule",
		Trigger:       "when using gh pr merge on a repo with merge queue enabled",
		Action:        "use gh pr merge --auto",
	}
}

func TestRenderByType(t *testing.T) {
	c := ruleCandidate()

	section := Render(c)
	assert.Contains(t, section, "## Use merge queue flags")
	assert.Contains(t, section, "**Trigger**:")
	assert.Contains(t, section, "**Action**:")

	c.CandidateType = "checklist"
	assert.Contains(t, Render(c), "- [ ]")

	c.CandidateType = "snippet"
	assert.Contains(t, Render(c), "```bash")

	c.CandidateType = "antipattern"
	assert.Contains(t, Render(c), "**Never**:")

	c.CandidateType = "skill"
	assert.Contains(t, Render(c), "Skill update")
}

func TestPathFor(t *testing.T) {
	t.Setenv("COACH_BASE_PATH", t.TempDir())

	project, err := PathFor(scope.Project, "/repo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/repo", ".coach", "RULES.md"), project)

	global, err := PathFor(scope.Global, "/repo")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(global, "RULES.md"))
	assert.NotContains(t, global, "/repo")
}

func TestAppendCreatesDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".coach", "RULES.md")
	d := Open(path)

	require.NoError(t, d.Append(ruleCandidate()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "# Coach Rules"))
	assert.Contains(t, content, "## Use merge queue flags")
}

func TestAppendIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RULES.md")
	d := Open(path)
	c := ruleCandidate()

	require.NoError(t, d.Append(c))
	require.NoError(t, d.Append(c))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "## Use merge queue flags"))
}

func TestAppendPreservesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RULES.md")
	require.NoError(t, os.WriteFile(path, []byte("# Coach Rules\n\n## Old rule\n\nkeep me\n"), 0o644))

	d := Open(path)
	require.NoError(t, d.Append(ruleCandidate()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Old rule")
	assert.Contains(t, string(data), "## Use merge queue flags")
}

func TestPreview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RULES.md")
	d := Open(path)
	c := ruleCandidate()

	diff, err := d.Preview(c)
	require.NoError(t, err)
	assert.Contains(t, diff, "+## Use merge queue flags")

	// Preview does not write anything.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// After the append, previewing the same candidate shows no change.
	require.NoError(t, d.Append(c))
	diff, err = d.Preview(c)
	require.NoError(t, err)
	assert.Empty(t, diff)
}
