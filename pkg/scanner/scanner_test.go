package scanner

import (
	"context"
	"regexp"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanParsesVersions(t *testing.T) {
	checks := []ToolCheck{
		{"node", []string{"--version"}, regexp.MustCompile(`v?(\d+)\.(\d+)`), "18.0"},
		{"go", []string{"version"}, regexp.MustCompile(`go(\d+)\.(\d+)`), "1.21"},
	}
	outputs := map[string]string{
		"node": "v16.20.2\n",
		"go":   "go version go1.22.1 linux/amd64\n",
	}

	s := NewWithRunner(checks, func(_ context.Context, name string, _ ...string) (string, error) {
		return outputs[name], nil
	})

	findings := s.Scan(context.Background())
	require.Len(t, findings, 2)

	node := findings[0]
	assert.True(t, node.Installed)
	assert.Equal(t, "16.20", node.Version)
	assert.True(t, node.Outdated)

	goTool := findings[1]
	assert.True(t, goTool.Installed)
	assert.Equal(t, "1.22", goTool.Version)
	assert.False(t, goTool.Outdated)
}

func TestScanMissingTool(t *testing.T) {
	checks := []ToolCheck{
		{"gh", []string{"--version"}, regexp.MustCompile(`(\d+)\.(\d+)`), "2.40"},
	}
	s := NewWithRunner(checks, func(_ context.Context, _ string, _ ...string) (string, error) {
		return "", errors.New("executable file not found in $PATH")
	})

	findings := s.Scan(context.Background())
	require.Len(t, findings, 1)
	assert.False(t, findings[0].Installed)
	assert.False(t, findings[0].Outdated)
}

func TestScanUnparseableOutput(t *testing.T) {
	checks := []ToolCheck{
		{"docker", []string{"--version"}, regexp.MustCompile(`version (\d+)\.(\d+)`), "24.0"},
	}
	s := NewWithRunner(checks, func(_ context.Context, _ string, _ ...string) (string, error) {
		return "Docker says hello", nil
	})

	findings := s.Scan(context.Background())
	require.Len(t, findings, 1)
	assert.True(t, findings[0].Installed)
	assert.Empty(t, findings[0].Version)
	assert.False(t, findings[0].Outdated)
}

func TestVersionLess(t *testing.T) {
	assert.True(t, versionLess("16.20", "18.0"))
	assert.False(t, versionLess("18.0", "18.0"))
	assert.False(t, versionLess("20.1", "18.0"))
	assert.True(t, versionLess("2.39", "2.40"))
	assert.False(t, versionLess("2.40", "2.40"))
	assert.True(t, versionLess("3.9", "3.10"))
}

func TestDetectVersionIssue(t *testing.T) {
	assert.True(t, DetectVersionIssue("this package requires version 18.0.0 or newer"))
	assert.True(t, DetectVersionIssue("warning: flag is DEPRECATED"))
	assert.True(t, DetectVersionIssue("unsupported version of python"))
	assert.False(t, DetectVersionIssue("build succeeded"))
}
