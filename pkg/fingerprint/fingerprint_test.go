package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase and collapse whitespace",
			input:    "When   Running  Tests",
			expected: "when running tests",
		},
		{
			name:     "test runner bucketing",
			input:    "pytest fails in CI",
			expected: "<test_runner> fails in ci",
		},
		{
			name:     "package manager bucketing",
			input:    "npm install breaks",
			expected: "<pkg_manager> install breaks",
		},
		{
			name:     "multi-word tool bucketing",
			input:    "go test hangs",
			expected: "<test_runner> hangs",
		},
		{
			name:     "path replacement",
			input:    "file /usr/local/bin/tool missing",
			expected: "file <path> missing",
		},
		{
			name:     "url replacement",
			input:    "fetch https://api.example.com/v1 failed",
			expected: "fetch <url> failed",
		},
		{
			name:     "number replacement",
			input:    "exit code 128",
			expected: "exit code <num>",
		},
		{
			name:     "punctuation stripped",
			input:    "don't do that, ever!",
			expected: "dont do that ever",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, e.Normalize(tt.input))
		})
	}
}

func TestFingerprintStability(t *testing.T) {
	e := NewEngine()

	fp1 := e.Fingerprint("rule", "when gh pr merge fails", "use --auto flag")
	fp2 := e.Fingerprint("rule", "when gh pr merge fails", "use --auto flag")
	assert.Equal(t, fp1, fp2, "fingerprint must be deterministic")
	assert.Len(t, fp1, 64)
}

func TestFingerprintToolFamilies(t *testing.T) {
	e := NewEngine()

	// Different tools of the same family converge on one fingerprint.
	pytest := e.Fingerprint("rule", "when pytest fails", "check fixtures first")
	jest := e.Fingerprint("rule", "when jest fails", "check fixtures first")
	assert.Equal(t, pytest, jest)

	// A different candidate type diverges even with identical text.
	snippet := e.Fingerprint("snippet", "when pytest fails", "check fixtures first")
	assert.NotEqual(t, pytest, snippet)
}

func TestFingerprintVariableContent(t *testing.T) {
	e := NewEngine()

	// Paths, numbers and hashes do not affect the fingerprint.
	a := e.Fingerprint("rule", "error in /home/alice/app.py line 10", "fix it")
	b := e.Fingerprint("rule", "error in /home/bob/server.py line 99", "fix it")
	assert.Equal(t, a, b)
}

func TestKeywords(t *testing.T) {
	e := NewEngine()

	kw := e.Keywords("when npm install fails check the registry")
	assert.Contains(t, kw, "install")
	assert.Contains(t, kw, "registry")
	// Placeholders and short words are dropped.
	assert.NotContains(t, kw, "<pkg_manager>")
	assert.NotContains(t, kw, "the")
}

func TestSimilarity(t *testing.T) {
	e := NewEngine()

	assert.Equal(t, 1.0, e.Similarity("run the tests first", "run the tests first"))
	assert.Equal(t, 0.0, e.Similarity("", "run tests"))

	sim := e.Similarity(
		"when pushing to protected branch create a PR",
		"when pushing to protected branch use force-with-lease",
	)
	assert.Greater(t, sim, 0.3)
	assert.Less(t, sim, 1.0)
}
