// Package scope classifies learning candidates as project-local or global
// using weighted indicator vocabularies. Ambiguity resolves to Project: a bad
// project rule pollutes one repo, a bad global rule pollutes every session.
package scope

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"

	"github.com/coachhq/coach/pkg/config"
)

// Scope is the placement of a rule.
type Scope string

const (
	Project Scope = "project"
	Global  Scope = "global"
)

// Result is a scope decision with its supporting scores and reasons.
type Result struct {
	Scope        Scope
	Reasons      []string
	ProjectScore float64
	GlobalScore  float64
	Forced       bool
}

type weighted struct {
	re     *regexp.Regexp
	weight float64
}

// Classifier scores candidate text against indicator vocabularies.
type Classifier struct {
	project []weighted
	global  []weighted
	force   []glob.Glob
}

// NewClassifier compiles the indicator vocabularies and the force-project
// glob patterns.
func NewClassifier(indicators config.ScopeConfig, forcePatterns []string) (*Classifier, error) {
	c := &Classifier{}

	for _, set := range []struct {
		src  []config.Indicator
		dest *[]weighted
	}{
		{indicators.Project, &c.project},
		{indicators.Global, &c.global},
	} {
		for _, ind := range set.src {
			re, err := regexp.Compile(ind.Pattern)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid scope indicator %q", ind.Pattern)
			}
			*set.dest = append(*set.dest, weighted{re: re, weight: ind.Weight})
		}
	}

	for _, p := range forcePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid force-project pattern %q", p)
		}
		c.force = append(c.force, g)
	}

	return c, nil
}

// Classify decides the scope for a candidate from its trigger, action and
// title. Global wins only when global indicators outscore project by more
// than 1.5x; ties and ambiguity fall to Project. Machine-local path content
// forces Project regardless of scores.
func (c *Classifier) Classify(trigger, action, title string) Result {
	text := strings.ToLower(trigger + " " + action + " " + title)

	if tok := c.forcedToken(text); tok != "" {
		return Result{
			Scope:   Project,
			Forced:  true,
			Reasons: []string{fmt.Sprintf("machine-local path %q forces project scope", tok)},
		}
	}

	var projectScore, globalScore float64
	for _, w := range c.project {
		if w.re.MatchString(text) {
			projectScore += w.weight
		}
	}
	for _, w := range c.global {
		if w.re.MatchString(text) {
			globalScore += w.weight
		}
	}

	result := Result{ProjectScore: projectScore, GlobalScore: globalScore}
	switch {
	case globalScore > projectScore*1.5:
		result.Scope = Global
		result.Reasons = []string{fmt.Sprintf("global indicators strong (%.1f vs %.1f)", globalScore, projectScore)}
	case projectScore > globalScore*1.5:
		result.Scope = Project
		result.Reasons = []string{fmt.Sprintf("project indicators strong (%.1f vs %.1f)", projectScore, globalScore)}
	default:
		result.Scope = Project
		result.Reasons = []string{"scores ambiguous, defaulting to project scope"}
	}
	return result
}

// forcedToken returns the first whitespace token matching a force-project
// pattern, or "".
func (c *Classifier) forcedToken(text string) string {
	if len(c.force) == 0 {
		return ""
	}
	for _, tok := range strings.Fields(text) {
		for _, g := range c.force {
			if g.Match(tok) {
				return tok
			}
		}
	}
	return ""
}
