// Package fingerprint generates stable fingerprints for learning candidates,
// enabling cross-repo deduplication and promotion detection. Fingerprints are
// pure functions of their inputs and stable across machines and restarts.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Normalization rules applied after tool bucketing, in order. UUIDs must be
// replaced before the generic hash rule or they match as hex runs.
var normalizationRules = []rule{
	{regexp.MustCompile(`https?://[^\s]+`), "<url>"},
	{regexp.MustCompile(`[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}`), "<uuid>"},
	{regexp.MustCompile(`[a-f0-9]{32,}`), "<hash>"},
	{regexp.MustCompile(`/[a-zA-Z0-9_\-./]+`), "<path>"},
	{regexp.MustCompile(`\b\d+\b`), "<num>"},
}

type bucket struct {
	tool string
	repl string
}

// Tool-family buckets. Multi-word tools are listed first so "go test" is
// bucketed before any single-word rule could touch it.
var toolBuckets = []bucket{
	{"go test", "<test_runner>"},
	{"go mod", "<pkg_manager>"},

	{"pytest", "<test_runner>"},
	{"jest", "<test_runner>"},
	{"mocha", "<test_runner>"},
	{"vitest", "<test_runner>"},
	{"phpunit", "<test_runner>"},
	{"rspec", "<test_runner>"},

	{"npm", "<pkg_manager>"},
	{"pnpm", "<pkg_manager>"},
	{"yarn", "<pkg_manager>"},
	{"pip", "<pkg_manager>"},
	{"poetry", "<pkg_manager>"},
	{"composer", "<pkg_manager>"},
	{"cargo", "<pkg_manager>"},

	{"webpack", "<build_tool>"},
	{"vite", "<build_tool>"},
	{"esbuild", "<build_tool>"},
	{"rollup", "<build_tool>"},
	{"tsc", "<build_tool>"},
	{"make", "<build_tool>"},

	{"eslint", "<linter>"},
	{"prettier", "<linter>"},
	{"pylint", "<linter>"},
	{"flake8", "<linter>"},
	{"rubocop", "<linter>"},
	{"phpcs", "<linter>"},
}

var punctuation = regexp.MustCompile(`[^\w\s<>]`)

// Engine normalizes candidate text and computes fingerprints.
type Engine struct {
	buckets []bucketRE
	rules   []rule
}

type bucketRE struct {
	re   *regexp.Regexp
	repl string
}

// NewEngine returns an Engine with the built-in bucketing and normalization
// tables.
func NewEngine() *Engine {
	e := &Engine{rules: normalizationRules}
	for _, b := range toolBuckets {
		e.buckets = append(e.buckets, bucketRE{
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(b.tool) + `\b`),
			repl: b.repl,
		})
	}
	return e
}

// Normalize lowercases text, replaces known tools with family buckets,
// generalizes paths, URLs, numbers, UUIDs and hashes, strips punctuation and
// collapses whitespace.
func (e *Engine) Normalize(text string) string {
	if text == "" {
		return ""
	}

	result := strings.ToLower(text)

	for _, b := range e.buckets {
		result = b.re.ReplaceAllString(result, b.repl)
	}
	for _, r := range e.rules {
		result = r.re.ReplaceAllString(result, r.repl)
	}

	result = punctuation.ReplaceAllString(result, "")
	return strings.Join(strings.Fields(result), " ")
}

// Fingerprint returns the SHA-256 hex digest over the candidate type and the
// normalized trigger and action.
func (e *Engine) Fingerprint(candidateType, trigger, action string) string {
	combined := fmt.Sprintf("%s|%s|%s", candidateType, e.Normalize(trigger), e.Normalize(action))
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// Keywords extracts significant words for similarity matching, dropping short
// words and placeholder tokens.
func (e *Engine) Keywords(text string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, w := range strings.Fields(e.Normalize(text)) {
		if len(w) > 2 && !strings.HasPrefix(w, "<") {
			keywords[w] = struct{}{}
		}
	}
	return keywords
}

// Similarity returns the Jaccard similarity of the keyword sets of two texts.
func (e *Engine) Similarity(a, b string) float64 {
	ka := e.Keywords(a)
	kb := e.Keywords(b)
	if len(ka) == 0 || len(kb) == 0 {
		return 0
	}

	intersection := 0
	for w := range ka {
		if _, ok := kb[w]; ok {
			intersection++
		}
	}
	union := len(ka) + len(kb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
