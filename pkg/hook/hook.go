// Package hook adapts agent-session lifecycle callbacks into the signal
// pipeline. Hooks run inside someone else's session: they log failures and
// recover panics instead of propagating anything that could break the host.
package hook

import (
	"context"

	"github.com/coachhq/coach/pkg/aggregator"
	"github.com/coachhq/coach/pkg/events"
	"github.com/coachhq/coach/pkg/logger"
	"github.com/coachhq/coach/pkg/signal"
)

// PrePromptPayload is the hook input before a user prompt is handled.
type PrePromptPayload struct {
	Message       string   `json:"message"`
	PriorMessages []string `json:"prior_messages,omitempty"`
}

// PostToolPayload is the hook input after a tool invocation.
type PostToolPayload struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stderr   string `json:"stderr,omitempty"`
	Output   string `json:"output,omitempty"`
}

// SessionEndPayload is the hook input when a session closes.
type SessionEndPayload struct {
	SessionID string `json:"session_id,omitempty"`
}

// Pipeline wires signal detection, the event store and the aggregator behind
// the three lifecycle hooks.
type Pipeline struct {
	matcher   *signal.Matcher
	events    *events.Store
	agg       *aggregator.Aggregator
	repoID    string
	sessionID string
}

// NewPipeline builds a hook pipeline for one session in one repo.
func NewPipeline(matcher *signal.Matcher, ev *events.Store, agg *aggregator.Aggregator, repoID, sessionID string) *Pipeline {
	return &Pipeline{
		matcher:   matcher,
		events:    ev,
		agg:       agg,
		repoID:    repoID,
		sessionID: sessionID,
	}
}

// HandlePrePrompt records friction signals found in an incoming user message.
func (p *Pipeline) HandlePrePrompt(ctx context.Context, payload PrePromptPayload) {
	defer p.recover(ctx, "pre-prompt")

	signals := p.matcher.ClassifyMessage(payload.Message, payload.PriorMessages)
	p.append(ctx, signal.PhasePrePrompt, signals)
}

// HandlePostTool records signals from a tool result. Like the pre-prompt
// hook it only classifies and appends; aggregation waits for session end or
// an explicit batch so the session is never blocked.
func (p *Pipeline) HandlePostTool(ctx context.Context, payload PostToolPayload) {
	defer p.recover(ctx, "post-tool")

	stderr := payload.Stderr
	if stderr == "" && payload.ExitCode != 0 {
		// Plenty of tools write their errors to stdout.
		stderr = payload.Output
	}

	signals := p.matcher.ClassifyToolResult(payload.Command, payload.ExitCode, stderr)
	p.append(ctx, signal.PhasePostTool, signals)
}

// HandleSessionEnd forces a final aggregation batch so the session's evidence
// is not stranded behind the batch interval.
func (p *Pipeline) HandleSessionEnd(ctx context.Context, payload SessionEndPayload) {
	defer p.recover(ctx, "session-end")

	if _, err := p.agg.Aggregate(ctx, p.repoID, aggregator.Options{Force: true}); err != nil {
		logger.G(ctx).WithError(err).Warn("session-end aggregation failed")
	}
}

func (p *Pipeline) append(ctx context.Context, phase signal.Phase, signals []signal.Signal) {
	for _, sig := range signals {
		if _, err := p.events.AppendSignal(ctx, phase, p.repoID, p.sessionID, sig); err != nil {
			logger.G(ctx).WithError(err).WithField("signal_type", sig.Type).Warn("failed to record signal")
		}
	}
}

func (p *Pipeline) recover(ctx context.Context, phase string) {
	if r := recover(); r != nil {
		logger.G(ctx).WithField("phase", phase).WithField("panic", r).Error("hook panicked")
	}
}
