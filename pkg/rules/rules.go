// Package rules renders approved candidates into markdown and appends them to
// the scope-selected rules document. Nothing outside the approval gateway
// should call Append; review surfaces use Preview.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"

	"github.com/coachhq/coach/pkg/db"
	"github.com/coachhq/coach/pkg/proposals"
	"github.com/coachhq/coach/pkg/scope"
)

const (
	// FileName is the rules document name in both scopes.
	FileName = "RULES.md"

	documentHeader = "# Coach Rules\n"
)

// PathFor returns the rules document path for a scope. Project-scoped rules
// live under the repo; global rules under the coach state directory.
func PathFor(sc scope.Scope, repoRoot string) (string, error) {
	if sc == scope.Global {
		base, err := db.BaseDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, FileName), nil
	}
	return filepath.Join(repoRoot, ".coach", FileName), nil
}

// Render produces the markdown section for a candidate, shaped by its type.
func Render(c proposals.Candidate) string {
	switch c.CandidateType {
	case "checklist":
		return fmt.Sprintf("## Checklist: %s\n\n**When**: %s\n\n- [ ] %s\n", c.Title, c.Trigger, c.Action)
	case "snippet":
		return fmt.Sprintf("## Snippet: %s\n\n**When**: %s\n\n```bash\n# %s\n```\n", c.Title, c.Trigger, c.Action)
	case "antipattern":
		return fmt.Sprintf("## Anti-pattern: %s\n\n**Never**: %s\n\n**Instead**: %s\n", c.Title, c.Trigger, c.Action)
	case "skill":
		return fmt.Sprintf("## Skill update: %s\n\n**When**: %s\n\n**Guidance**: %s\n", c.Title, c.Trigger, c.Action)
	default: // rule
		return fmt.Sprintf("## %s\n\n**Trigger**: %s\n\n**Action**: %s\n", c.Title, c.Trigger, c.Action)
	}
}

// Document is a rules file at a fixed path.
type Document struct {
	path string
}

// Open returns a Document for the given path. The file need not exist yet.
func Open(path string) *Document {
	return &Document{path: path}
}

// Path returns the document's path.
func (d *Document) Path() string {
	return d.path
}

func (d *Document) read() (string, error) {
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read rules document %s", d.path)
	}
	return string(data), nil
}

// combined returns the document content with the candidate's section
// appended.
func (d *Document) combined(c proposals.Candidate) (old, updated string, err error) {
	old, err = d.read()
	if err != nil {
		return "", "", err
	}

	section := strings.TrimSpace(Render(c))
	if old == "" {
		return old, documentHeader + "\n" + section + "\n", nil
	}
	return old, strings.TrimRight(old, "\n") + "\n\n" + section + "\n", nil
}

// Contains reports whether the candidate's section is already present, which
// makes appends idempotent across repeated approvals.
func (d *Document) Contains(c proposals.Candidate) (bool, error) {
	content, err := d.read()
	if err != nil {
		return false, err
	}
	return strings.Contains(content, strings.TrimSpace(Render(c))), nil
}

// Preview returns the unified diff the append would produce.
func (d *Document) Preview(c proposals.Candidate) (string, error) {
	already, err := d.Contains(c)
	if err != nil {
		return "", err
	}
	if already {
		return "", nil
	}

	old, updated, err := d.combined(c)
	if err != nil {
		return "", err
	}
	name := filepath.Base(d.path)
	return udiff.Unified("a/"+name, "b/"+name, old, updated), nil
}

// Append writes the candidate's section to the document, creating it (and its
// directory) on first write. Appending an already present section is a no-op.
func (d *Document) Append(c proposals.Candidate) error {
	already, err := d.Contains(c)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	_, updated, err := d.combined(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create rules directory for %s", d.path)
	}
	if err := os.WriteFile(d.path, []byte(updated), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write rules document %s", d.path)
	}
	return nil
}
