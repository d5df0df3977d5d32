package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/coachhq/coach/pkg/signal"
)

// TemplateGenerator produces candidate text from a fixed trigger/action table
// keyed on well-known failure and correction shapes. It is deterministic and
// never errors.
type TemplateGenerator struct{}

// NewTemplateGenerator returns the deterministic generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// Generate dispatches on the signal type.
func (g *TemplateGenerator) Generate(_ context.Context, in Input) (Output, error) {
	switch in.SignalType {
	case signal.CommandFailure:
		return g.fromFailure(in), nil
	case signal.UserCorrection:
		return g.fromCorrection(in), nil
	case signal.Repetition:
		return g.fromRepetition(in), nil
	case signal.SkillSupplement:
		return g.fromSkillSupplement(in), nil
	case signal.VersionIssue:
		return g.fromVersionIssue(in), nil
	default:
		return Output{}, nil
	}
}

func baseCommand(command string) string {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "command"
	}
	if len(parts) == 1 {
		return strings.ToLower(parts[0])
	}
	return strings.ToLower(parts[0] + " " + parts[1])
}

func (g *TemplateGenerator) fromFailure(in Input) Output {
	stderr := strings.ToLower(in.Stderr)
	base := baseCommand(in.Command)

	finish := func(trigger, action, ctype string) Output {
		return Output{
			Title:         titleFrom(action),
			Trigger:       trigger,
			Action:        action,
			CandidateType: ctype,
			Viable:        true,
		}
	}

	if strings.Contains(in.Command, "gh pr merge") {
		if strings.Contains(stderr, "merge queue") {
			return finish(
				"when using gh pr merge on a repo with merge queue enabled",
				"use 'gh pr merge --auto' instead of --squash/--delete-branch flags, or enqueue via the merge queue API",
				"rule")
		}
		if strings.Contains(stderr, "not allowed") || strings.Contains(stderr, "merge strategy") {
			return finish(
				"when gh pr merge fails with merge strategy error",
				"check repo settings for allowed merge methods, use --auto flag for auto-merge",
				"rule")
		}
	}

	if strings.Contains(in.Command, "git push") {
		if strings.Contains(stderr, "protected branch") || strings.Contains(stderr, "not fast-forward") {
			return finish(
				"when git push fails on protected branch",
				"create a PR instead of direct push, or use --force-with-lease if intentional",
				"rule")
		}
	}

	if strings.Contains(in.Command, "git rebase") && strings.Contains(stderr, "conflict") {
		return finish(
			"when git rebase encounters conflicts",
			"resolve conflicts file by file, use git rebase --continue, or abort with --abort",
			"rule")
	}

	if strings.Contains(stderr, "command not found") {
		tool := "tool"
		if parts := strings.Fields(in.Command); len(parts) > 0 {
			tool = parts[0]
		}
		return finish(
			fmt.Sprintf("when %s is not installed or not in PATH", tool),
			fmt.Sprintf("verify with 'command -v %s' before use, install if missing", tool),
			"rule")
	}

	if strings.Contains(stderr, "permission denied") {
		return finish(
			fmt.Sprintf("when %s fails with permission denied", base),
			"check file and directory permissions, consider using sudo if appropriate",
			"rule")
	}

	if containsAny(stderr, "401", "403", "unauthorized", "forbidden") {
		return finish(
			fmt.Sprintf("when %s fails with authentication error", base),
			"verify credentials and tokens are valid and have required permissions",
			"rule")
	}

	if containsAny(stderr, "rate limit", "429") {
		return finish(
			fmt.Sprintf("when %s fails with rate limit error", base),
			"implement backoff/retry logic, or wait before retrying",
			"rule")
	}

	if in.FailureCount >= 2 {
		return finish(
			fmt.Sprintf("when %s fails repeatedly (%dx)", base, in.FailureCount),
			"investigate root cause before retrying; check prerequisites and error messages",
			"rule")
	}

	return finish(
		fmt.Sprintf("when %s fails with this error", base),
		fmt.Sprintf("check the error message from %s and address the reported cause", base),
		"snippet")
}

func (g *TemplateGenerator) fromCorrection(in Input) Output {
	trigger := inferTrigger(in.UserMessage)
	action := inferAction(in.UserMessage)

	out := Output{
		Title:         titleFrom(action),
		Trigger:       trigger,
		Action:        action,
		CandidateType: "rule",
		Viable:        trigger != "" && action != "",
	}
	return out
}

// inferTrigger extracts what was being done wrong from correction language.
// An empty result marks the evidence as too vague.
func inferTrigger(message string) string {
	lower := strings.ToLower(message)

	if strings.Contains(lower, "resolve") && strings.Contains(lower, "review") {
		return "when PR review comments are addressed"
	}
	if strings.Contains(lower, "merge") {
		return "when attempting to merge PRs"
	}
	if strings.Contains(lower, "push") {
		return "when pushing changes to remote"
	}
	if strings.Contains(lower, "edit") && strings.Contains(lower, "generated") {
		return "when editing generated files"
	}

	for _, marker := range []string{"don't ", "dont ", "stop "} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			rest := strings.TrimSpace(lower[idx+len(marker):])
			if rest != "" {
				return "when attempting to " + truncateWords(rest, 8)
			}
		}
	}

	return ""
}

// inferAction extracts what should be done instead.
func inferAction(message string) string {
	lower := strings.ToLower(message)

	for _, marker := range []string{"instead", "should", "need to"} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			rest := strings.TrimSpace(lower[idx+len(marker):])
			rest = strings.TrimPrefix(rest, "of ")
			rest = strings.TrimSpace(strings.TrimLeft(rest, ",:"))
			if len(rest) >= 10 {
				return truncateWords(rest, 15)
			}
		}
	}

	return ""
}

func (g *TemplateGenerator) fromRepetition(in Input) Output {
	instruction := coreInstruction(append(in.SimilarMessages, in.UserMessage))
	if len(instruction) < 10 {
		return Output{}
	}
	return Output{
		Title:         "Remember: " + truncate(instruction, 50),
		Trigger:       "before completing tasks",
		Action:        instruction,
		CandidateType: "checklist",
		Viable:        true,
	}
}

// coreInstruction picks the longest message: it usually carries the most
// context.
func coreInstruction(messages []string) string {
	longest := ""
	for _, m := range messages {
		if len(m) > len(longest) {
			longest = m
		}
	}
	return truncate(strings.TrimSpace(longest), 150)
}

func (g *TemplateGenerator) fromSkillSupplement(in Input) Output {
	skill := in.SkillName
	if skill == "" {
		skill = "the active"
	}
	supplement := truncate(strings.TrimSpace(in.UserMessage), 200)
	if len(supplement) < 10 {
		return Output{}
	}
	return Output{
		Title:         fmt.Sprintf("Update %s skill", skill),
		Trigger:       fmt.Sprintf("when %s skill is activated", skill),
		Action:        "include guidance: " + supplement,
		CandidateType: "skill",
		Viable:        true,
	}
}

func (g *TemplateGenerator) fromVersionIssue(in Input) Output {
	base := baseCommand(in.Command)
	return Output{
		Title:         fmt.Sprintf("Outdated tooling behind %s", base),
		Trigger:       fmt.Sprintf("when %s reports a deprecated or unsupported version", base),
		Action:        "check the installed tool version against the project's minimum before relying on it, and surface the upgrade need",
		CandidateType: "rule",
		Viable:        true,
	}
}

func titleFrom(action string) string {
	words := []string{}
	for _, w := range strings.Fields(action) {
		if len(w) > 2 {
			words = append(words, w)
		}
		if len(words) == 6 {
			break
		}
	}
	title := strings.Join(words, " ")
	if len(title) <= 5 {
		return "Handle this case correctly"
	}
	return strings.ToUpper(title[:1]) + title[1:]
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
