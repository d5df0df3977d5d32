// Package repoid derives a stable identifier for the current repository,
// used to scope events and track cross-repo candidate spread.
package repoid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Current returns a 16-character hex identifier for the repository containing
// the working directory. It hashes the origin remote URL so that clones of the
// same repository on different machines agree; without a remote it falls back
// to hashing the working directory path.
func Current(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "remote", "get-url", "origin").Output()
	if err == nil {
		if url := strings.TrimSpace(string(out)); url != "" {
			return hash(url)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "unknown"
	}
	return hash(cwd)
}

// Root returns the repository root directory, falling back to the working
// directory when not inside a git work tree.
func Root(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel").Output()
	if err == nil {
		if root := strings.TrimSpace(string(out)); root != "" {
			return root
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
