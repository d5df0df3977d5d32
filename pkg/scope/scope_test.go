package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachhq/coach/pkg/config"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	cfg := config.Default()
	c, err := NewClassifier(cfg.ScopeIndicators, cfg.ForceProjectPatterns)
	require.NoError(t, err)
	return c
}

func TestClassifyGlobal(t *testing.T) {
	c := newTestClassifier(t)

	// Universal engineering behavior with no project-specific markers.
	result := c.Classify(
		"before claiming a task is done",
		"always run tests and verify before committing with git",
		"Run tests before done",
	)
	assert.Equal(t, Global, result.Scope)
	assert.Greater(t, result.GlobalScore, result.ProjectScore*1.5)
	assert.NotEmpty(t, result.Reasons)
}

func TestClassifyProject(t *testing.T) {
	c := newTestClassifier(t)

	result := c.Classify(
		"when building packages/ in this monorepo",
		"use pnpm -C packages/app and check the internal docker-compose.override file",
		"Monorepo build order",
	)
	assert.Equal(t, Project, result.Scope)
}

func TestClassifyTieDefaultsToProject(t *testing.T) {
	c := newTestClassifier(t)

	// No indicators match at all: 0 vs 0 is a tie.
	result := c.Classify("when frobnicating widgets", "defrobnicate them first", "Widgets")
	assert.Equal(t, Project, result.Scope)
	assert.Equal(t, 0.0, result.ProjectScore)
	assert.Equal(t, 0.0, result.GlobalScore)
}

func TestClassifyDeterministic(t *testing.T) {
	c := newTestClassifier(t)

	first := c.Classify("when pushing with git", "run tests first", "Push discipline")
	for i := 0; i < 10; i++ {
		again := c.Classify("when pushing with git", "run tests first", "Push discipline")
		assert.Equal(t, first, again)
	}
}

func TestForceProjectOnMachineLocalPath(t *testing.T) {
	c := newTestClassifier(t)

	// Global-leaning text, but a machine-local absolute path pins it to
	// the project.
	result := c.Classify(
		"when running tests with git hooks",
		"use the wrapper at /home/alice/bin/test-wrapper.sh",
		"Test wrapper",
	)
	assert.Equal(t, Project, result.Scope)
	assert.True(t, result.Forced)
}

func TestInvalidIndicatorPattern(t *testing.T) {
	_, err := NewClassifier(config.ScopeConfig{
		Project: []config.Indicator{{Pattern: "([unclosed", Weight: 1}},
	}, nil)
	assert.Error(t, err)
}
