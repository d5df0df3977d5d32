package generate

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/pkg/errors"

	"github.com/coachhq/coach/pkg/logger"
	"github.com/coachhq/coach/pkg/signal"
)

const generatorSystemPrompt = `You turn agent-session friction evidence into one concise learning rule.
Respond with ONLY a JSON object with keys: title (5-10 words), trigger (when the situation occurs, specific),
action (what to do instead, specific and actionable), candidate_type ("rule", "snippet", "checklist", or "skill").
Focus on the root cause. No explanation outside the JSON.`

// AnthropicGenerator asks a Claude model to synthesize candidate text,
// falling back to the deterministic templates when the API is not configured
// or the call fails. Pipeline correctness never depends on the API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	fallback  *TemplateGenerator
}

// NewAnthropicGenerator builds the LLM-backed generator. It returns the
// template generator instead when no API key is present.
func NewAnthropicGenerator(model string, maxTokens int) Generator {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return NewTemplateGenerator()
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	return &AnthropicGenerator{
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: int64(maxTokens),
		fallback:  NewTemplateGenerator(),
	}
}

// Generate calls the model and falls back to templates on any failure.
func (g *AnthropicGenerator) Generate(ctx context.Context, in Input) (Output, error) {
	out, err := g.generateLLM(ctx, in)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("signal_type", in.SignalType).
			Warn("LLM candidate generation failed, falling back to templates")
		return g.fallback.Generate(ctx, in)
	}
	return out, nil
}

func (g *AnthropicGenerator) generateLLM(ctx context.Context, in Input) (Output, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return Output{}, err
	}

	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: generatorSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Model: anthropic.Model(g.model),
	})
	if err != nil {
		return Output{}, errors.Wrap(err, "anthropic message call failed")
	}

	var text string
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		}
	}

	return parseGenerated(text)
}

func buildPrompt(in Input) (string, error) {
	payload := map[string]interface{}{
		"signal_type": string(in.SignalType),
	}
	switch in.SignalType {
	case signal.CommandFailure, signal.VersionIssue:
		payload["command"] = in.Command
		payload["exit_code"] = in.ExitCode
		payload["stderr"] = truncate(in.Stderr, 500)
		payload["failure_count"] = in.FailureCount
	case signal.UserCorrection, signal.SkillSupplement:
		payload["user_message"] = truncate(in.UserMessage, 500)
		payload["skill_name"] = in.SkillName
	case signal.Repetition:
		payload["repeated_messages"] = in.SimilarMessages
	default:
		return "", errors.Errorf("no prompt for signal type %s", in.SignalType)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to encode evidence")
	}
	return "Evidence:\n" + string(data), nil
}

func parseGenerated(text string) (Output, error) {
	// Models occasionally wrap the JSON in a code fence.
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var parsed struct {
		Title         string `json:"title"`
		Trigger       string `json:"trigger"`
		Action        string `json:"action"`
		CandidateType string `json:"candidate_type"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return Output{}, errors.Wrap(err, "failed to parse generated candidate")
	}
	if parsed.Trigger == "" || parsed.Action == "" {
		return Output{}, errors.New("generated candidate missing trigger or action")
	}

	ctype := parsed.CandidateType
	if ctype == "" {
		ctype = "rule"
	}
	return Output{
		Title:         parsed.Title,
		Trigger:       parsed.Trigger,
		Action:        parsed.Action,
		CandidateType: ctype,
		Viable:        true,
	}, nil
}
