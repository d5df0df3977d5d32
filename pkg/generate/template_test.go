package generate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachhq/coach/pkg/signal"
)

func TestFailureMergeQueue(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType: signal.CommandFailure,
		Command:    "gh pr merge 42 --squash --delete-branch",
		Stderr:     "Pull request is not mergeable: the repository has a merge queue enabled",
		ExitCode:   1,
	})
	require.NoError(t, err)
	assert.True(t, out.Viable)
	assert.Equal(t, "rule", out.CandidateType)
	assert.Contains(t, out.Trigger, "merge queue")
	assert.Contains(t, out.Action, "--auto")
}

func TestFailureProtectedBranch(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType: signal.CommandFailure,
		Command:    "git push origin main",
		Stderr:     "remote: error: GH006: Protected branch update failed",
		ExitCode:   1,
	})
	require.NoError(t, err)
	assert.True(t, out.Viable)
	assert.Contains(t, out.Trigger, "protected branch")
	assert.Contains(t, out.Action, "PR")
}

func TestFailureCommandNotFound(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType: signal.CommandFailure,
		Command:    "jq '.name' package.json",
		Stderr:     "bash: jq: command not found",
		ExitCode:   127,
	})
	require.NoError(t, err)
	assert.True(t, out.Viable)
	assert.Contains(t, out.Trigger, "jq")
	assert.Contains(t, out.Action, "command -v jq")
}

func TestFailureAuthAndRateLimit(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType: signal.CommandFailure,
		Command:    "gh api /repos/acme/widget",
		Stderr:     "HTTP 401: unauthorized",
		ExitCode:   1,
	})
	require.NoError(t, err)
	assert.Contains(t, out.Trigger, "authentication")

	out, err = g.Generate(context.Background(), Input{
		SignalType: signal.CommandFailure,
		Command:    "gh api /repos/acme/widget",
		Stderr:     "HTTP 429: rate limit exceeded",
		ExitCode:   1,
	})
	require.NoError(t, err)
	assert.Contains(t, out.Trigger, "rate limit")
}

func TestFailureRepeated(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType:   signal.CommandFailure,
		Command:      "docker build -t app .",
		Stderr:       "unhelpful error text",
		ExitCode:     1,
		FailureCount: 3,
	})
	require.NoError(t, err)
	assert.True(t, out.Viable)
	assert.Contains(t, out.Trigger, "repeatedly")
	assert.Contains(t, out.Trigger, "3x")
}

func TestFailureGenericIsSnippet(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType:   signal.CommandFailure,
		Command:      "some-tool run",
		Stderr:       "mystery output",
		ExitCode:     1,
		FailureCount: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "snippet", out.CandidateType)
}

func TestCorrectionDontSplit(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType:  signal.UserCorrection,
		UserMessage: "don't edit the generated client, you should regenerate it from the schema instead",
	})
	require.NoError(t, err)
	assert.True(t, out.Viable)
	assert.NotEmpty(t, out.Trigger)
	assert.Contains(t, out.Action, "regenerate")
	assert.Equal(t, "rule", out.CandidateType)
}

func TestCorrectionTooVague(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType:  signal.UserCorrection,
		UserMessage: "no",
	})
	require.NoError(t, err)
	assert.False(t, out.Viable)
}

func TestRepetitionChecklist(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType:  signal.Repetition,
		UserMessage: "run the unit tests before committing",
		SimilarMessages: []string{
			"always run the unit tests before committing anything",
			"run the unit tests before committing",
		},
	})
	require.NoError(t, err)
	assert.True(t, out.Viable)
	assert.Equal(t, "checklist", out.CandidateType)
	assert.Contains(t, out.Action, "unit tests")
	assert.Contains(t, out.Title, "Remember:")
}

func TestSkillSupplement(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType:  signal.SkillSupplement,
		UserMessage: "the deploy skill doesn't cover rollbacks, also need to check the health endpoint after",
		SkillName:   "deploy",
	})
	require.NoError(t, err)
	assert.True(t, out.Viable)
	assert.Equal(t, "skill", out.CandidateType)
	assert.Contains(t, out.Trigger, "deploy")
}

func TestVersionIssue(t *testing.T) {
	g := NewTemplateGenerator()

	out, err := g.Generate(context.Background(), Input{
		SignalType: signal.VersionIssue,
		Command:    "node build.js",
		Stderr:     "this package requires version 18.0.0 or newer",
	})
	require.NoError(t, err)
	assert.True(t, out.Viable)
	assert.Equal(t, "rule", out.CandidateType)
	assert.Contains(t, out.Trigger, "node")
}

func TestGenerateDeterministic(t *testing.T) {
	g := NewTemplateGenerator()
	in := Input{
		SignalType: signal.CommandFailure,
		Command:    "git push origin main",
		Stderr:     "protected branch hook declined",
		ExitCode:   1,
	}

	first, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := g.Generate(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestParseGeneratedJSON(t *testing.T) {
	out, err := parseGenerated("```json\n{\"title\":\"T\",\"trigger\":\"when x\",\"action\":\"do y\",\"candidate_type\":\"rule\"}\n```")
	require.NoError(t, err)
	assert.True(t, out.Viable)
	assert.Equal(t, "when x", out.Trigger)

	_, err = parseGenerated("not json at all")
	assert.Error(t, err)

	_, err = parseGenerated(`{"title":"T"}`)
	assert.Error(t, err)
}
