// Package scanner checks installed tool versions against project minimums and
// detects version complaints in command output.
package scanner

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/coachhq/coach/pkg/logger"
)

const commandTimeout = 5 * time.Second

// ToolCheck describes how to probe one tool.
type ToolCheck struct {
	Tool       string
	Args       []string
	VersionRE  *regexp.Regexp
	MinVersion string
}

// Default probes for the tools agent sessions most often trip over.
var defaultChecks = []ToolCheck{
	{"node", []string{"--version"}, regexp.MustCompile(`v?(\d+)\.(\d+)`), "18.0"},
	{"npm", []string{"--version"}, regexp.MustCompile(`(\d+)\.(\d+)`), "9.0"},
	{"python3", []string{"--version"}, regexp.MustCompile(`Python (\d+)\.(\d+)`), "3.10"},
	{"go", []string{"version"}, regexp.MustCompile(`go(\d+)\.(\d+)`), "1.21"},
	{"docker", []string{"--version"}, regexp.MustCompile(`version (\d+)\.(\d+)`), "24.0"},
	{"gh", []string{"--version"}, regexp.MustCompile(`(\d+)\.(\d+)`), "2.40"},
}

// Finding is the result of probing one tool.
type Finding struct {
	Tool       string
	Installed  bool
	Version    string
	MinVersion string
	Outdated   bool
}

// CommandRunner executes a probe command and returns its combined output.
// Injectable for tests.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

func defaultRunner(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return string(out), errors.Wrapf(err, "failed to run %s", name)
	}
	return string(out), nil
}

// Scanner probes tool versions.
type Scanner struct {
	checks []ToolCheck
	run    CommandRunner
}

// New returns a scanner with the default tool table.
func New() *Scanner {
	return &Scanner{checks: defaultChecks, run: defaultRunner}
}

// NewWithRunner returns a scanner using a custom runner, for tests.
func NewWithRunner(checks []ToolCheck, run CommandRunner) *Scanner {
	return &Scanner{checks: checks, run: run}
}

// Scan probes every configured tool. Missing tools are reported, not errors.
func (s *Scanner) Scan(ctx context.Context) []Finding {
	findings := make([]Finding, 0, len(s.checks))
	for _, check := range s.checks {
		findings = append(findings, s.probe(ctx, check))
	}
	return findings
}

func (s *Scanner) probe(ctx context.Context, check ToolCheck) Finding {
	finding := Finding{Tool: check.Tool, MinVersion: check.MinVersion}

	out, err := s.run(ctx, check.Tool, check.Args...)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("tool", check.Tool).Debug("tool probe failed")
		return finding
	}

	m := check.VersionRE.FindStringSubmatch(out)
	if len(m) < 3 {
		logger.G(ctx).WithField("tool", check.Tool).WithField("output", strings.TrimSpace(out)).
			Debug("could not parse tool version")
		finding.Installed = true
		return finding
	}

	finding.Installed = true
	finding.Version = m[1] + "." + m[2]
	finding.Outdated = versionLess(finding.Version, check.MinVersion)
	return finding
}

// versionLess compares dotted major.minor versions numerically.
func versionLess(have, want string) bool {
	hMaj, hMin := splitVersion(have)
	wMaj, wMin := splitVersion(want)
	if hMaj != wMaj {
		return hMaj < wMaj
	}
	return hMin < wMin
}

func splitVersion(v string) (int, int) {
	parts := strings.SplitN(v, ".", 2)
	major, _ := strconv.Atoi(parts[0])
	minor := 0
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

var versionComplaint = regexp.MustCompile(`(?i)(requires|needs|minimum)\s+(version\s+)?\d+\.[\d.]+|deprecated|unsupported\s+version`)

// DetectVersionIssue reports whether command output complains about a tool
// version. Pure and usable outside a scan.
func DetectVersionIssue(output string) bool {
	return versionComplaint.MatchString(output)
}
