// Package signal detects friction signals in agent session activity: user
// corrections, tone escalation, repeated instructions, command failures,
// skill supplements, and version issues. Classification is pure and
// deterministic; one observation may fire multiple signals.
package signal

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/coachhq/coach/pkg/config"
)

// SignalType identifies a category of friction signal.
type SignalType string

const (
	CommandFailure  SignalType = "COMMAND_FAILURE"
	UserCorrection  SignalType = "USER_CORRECTION"
	Repetition      SignalType = "REPETITION"
	ToneEscalation  SignalType = "TONE_ESCALATION"
	SkillSupplement SignalType = "SKILL_SUPPLEMENT"
	VersionIssue    SignalType = "VERSION_ISSUE"
)

// Key returns the lowercase config key for the signal type.
func (t SignalType) Key() string {
	return strings.ToLower(string(t))
}

// Phase identifies where in the session lifecycle an observation was made.
type Phase string

const (
	PhasePrePrompt  Phase = "pre-prompt"
	PhasePostTool   Phase = "post-tool"
	PhaseSessionEnd Phase = "session-end"
)

const (
	maxContentLen = 500
	maxStderrLen  = 1000

	// Messages with token overlap above this are considered repeats.
	repetitionThreshold = 0.5
)

// Signal is a single detected friction signal.
type Signal struct {
	Type            SignalType `json:"signal_type"`
	Confidence      float64    `json:"confidence"`
	Matches         []string   `json:"matches,omitempty"`
	Content         string     `json:"content,omitempty"`
	Command         string     `json:"command,omitempty"`
	ExitCode        int        `json:"exit_code,omitempty"`
	Stderr          string     `json:"stderr_preview,omitempty"`
	SimilarCount    int        `json:"similar_count,omitempty"`
	SimilarMessages []string   `json:"similar_messages,omitempty"`
	CapsWords       int        `json:"caps_words,omitempty"`
	Exclamations    int        `json:"exclamation_count,omitempty"`
}

// Matcher classifies observations against a compiled pattern table.
type Matcher struct {
	correction      []*regexp.Regexp
	escalation      []*regexp.Regexp
	failureStderr   []*regexp.Regexp
	failureCommands []*regexp.Regexp
	skillSupplement []*regexp.Regexp
	versionIssue    []*regexp.Regexp
}

var capsWordRE = regexp.MustCompile(`\b[A-Z]{3,}\b`)

// NewMatcher compiles the pattern table from configuration.
func NewMatcher(patterns config.PatternsConfig) (*Matcher, error) {
	m := &Matcher{}

	for _, set := range []struct {
		raw  []string
		dest *[]*regexp.Regexp
	}{
		{patterns.Correction, &m.correction},
		{patterns.Escalation, &m.escalation},
		{patterns.FailureStderr, &m.failureStderr},
		{patterns.FailureCommands, &m.failureCommands},
		{patterns.SkillSupplement, &m.skillSupplement},
		{patterns.VersionIssue, &m.versionIssue},
	} {
		for _, p := range set.raw {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return nil, err
			}
			*set.dest = append(*set.dest, re)
		}
	}

	return m, nil
}

// Classify inspects one observation and returns every signal it fires.
// Message-bearing phases examine text against prior messages; the post-tool
// phase examines command, exit code and stderr. Empty observations yield nil.
func (m *Matcher) Classify(phase Phase, text string, exitCode int, command string, prior []string) []Signal {
	switch phase {
	case PhasePostTool:
		return m.ClassifyToolResult(command, exitCode, text)
	default:
		return m.ClassifyMessage(text, prior)
	}
}

// ClassifyMessage detects correction, escalation, repetition and skill
// supplement signals in a user message.
func (m *Matcher) ClassifyMessage(text string, prior []string) []Signal {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var signals []Signal
	content := truncate(text, maxContentLen)

	if s := m.detectCorrection(text); s != nil {
		s.Content = content
		signals = append(signals, *s)
	}
	if s := m.detectEscalation(text); s != nil {
		s.Content = content
		signals = append(signals, *s)
	}
	if s := detectRepetition(text, prior); s != nil {
		s.Content = content
		signals = append(signals, *s)
	}
	if s := m.detectSkillSupplement(text); s != nil {
		s.Content = content
		signals = append(signals, *s)
	}

	return signals
}

// ClassifyToolResult detects command failure and version issue signals in a
// tool invocation result.
func (m *Matcher) ClassifyToolResult(command string, exitCode int, stderr string) []Signal {
	var signals []Signal

	if s := m.detectCommandFailure(command, exitCode, stderr); s != nil {
		signals = append(signals, *s)
	}
	if s := m.detectVersionIssue(command, stderr); s != nil {
		signals = append(signals, *s)
	}

	return signals
}

func (m *Matcher) detectCorrection(text string) *Signal {
	matches := matchAll(m.correction, text)
	if len(matches) == 0 {
		return nil
	}
	return &Signal{
		Type:       UserCorrection,
		Matches:    matches,
		Confidence: clamp(0.3+float64(len(matches))*0.2, 1.0),
	}
}

func (m *Matcher) detectEscalation(text string) *Signal {
	matches := matchAll(m.escalation, text)
	capsWords := len(capsWordRE.FindAllString(text, -1))
	exclamations := strings.Count(text, "!")

	if len(matches) == 0 && capsWords < 2 && exclamations < 3 {
		return nil
	}
	return &Signal{
		Type:         ToneEscalation,
		Matches:      matches,
		CapsWords:    capsWords,
		Exclamations: exclamations,
		Confidence:   clamp(0.2+float64(capsWords)*0.1+float64(exclamations)*0.05, 0.8),
	}
}

func detectRepetition(text string, prior []string) *Signal {
	if len(prior) == 0 {
		return nil
	}

	words := tokenSet(text)
	if len(words) == 0 {
		return nil
	}

	start := 0
	if len(prior) > 10 {
		start = len(prior) - 10
	}

	var similar []string
	for _, prev := range prior[start:] {
		prevWords := tokenSet(prev)
		if len(prevWords) == 0 {
			continue
		}
		if jaccard(words, prevWords) > repetitionThreshold {
			similar = append(similar, truncate(prev, 100))
		}
	}

	if len(similar) < 2 {
		return nil
	}
	return &Signal{
		Type:            Repetition,
		SimilarCount:    len(similar),
		SimilarMessages: similar[:min(len(similar), 3)],
		Confidence:      clamp(0.4+float64(len(similar))*0.15, 0.95),
	}
}

func (m *Matcher) detectSkillSupplement(text string) *Signal {
	matches := matchAll(m.skillSupplement, text)
	if len(matches) == 0 {
		return nil
	}
	return &Signal{
		Type:       SkillSupplement,
		Matches:    matches,
		Confidence: clamp(0.4+float64(len(matches))*0.15, 0.9),
	}
}

func (m *Matcher) detectCommandFailure(command string, exitCode int, stderr string) *Signal {
	if exitCode == 0 && stderr == "" {
		return nil
	}

	matches := matchAll(m.failureStderr, stderr)
	commandMatches := matchAll(m.failureCommands, command)

	if exitCode == 0 && len(matches) == 0 {
		return nil
	}
	return &Signal{
		Type:       CommandFailure,
		ExitCode:   exitCode,
		Command:    truncate(command, maxContentLen),
		Stderr:     truncate(stderr, maxStderrLen),
		Matches:    append(matches, commandMatches...),
		Confidence: 0.7,
	}
}

func (m *Matcher) detectVersionIssue(command, stderr string) *Signal {
	if stderr == "" {
		return nil
	}
	matches := matchAll(m.versionIssue, stderr)
	if len(matches) == 0 {
		return nil
	}
	return &Signal{
		Type:       VersionIssue,
		Command:    truncate(command, maxContentLen),
		Stderr:     truncate(stderr, maxStderrLen),
		Matches:    matches,
		Confidence: 0.6,
	}
}

func matchAll(patterns []*regexp.Regexp, text string) []string {
	if text == "" {
		return nil
	}
	var matches []string
	for _, re := range patterns {
		if re.MatchString(text) {
			matches = append(matches, re.String())
		}
	}
	return matches
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so the cut never leaves invalid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func clamp(v, limit float64) float64 {
	return min(v, limit)
}
