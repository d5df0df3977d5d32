// Package generate synthesizes candidate text (title, trigger, action) from
// grouped friction evidence. The deterministic template generator is always
// available; an Anthropic-backed generator can be layered on top and falls
// back to templates when unavailable.
package generate

import (
	"context"

	"github.com/coachhq/coach/pkg/signal"
)

// Input carries the evidence a generator works from.
type Input struct {
	SignalType      signal.SignalType
	Command         string
	Stderr          string
	ExitCode        int
	UserMessage     string
	SimilarMessages []string
	FailureCount    int
	SkillName       string
}

// Output is the synthesized candidate text. Viable is false when the evidence
// was too vague to produce a specific candidate.
type Output struct {
	Title         string
	Trigger       string
	Action        string
	CandidateType string
	Viable        bool
}

// Generator synthesizes candidate text from evidence.
type Generator interface {
	Generate(ctx context.Context, in Input) (Output, error)
}
