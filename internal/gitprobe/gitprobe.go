// Copyright Contributors to the launch project

// Package gitprobe reports the commit hash, working-tree cleanliness, and
// push status of the current git repository.
package gitprobe

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/Astera-org/launch/internal/procrunner"
)

// Info describes the reproducibility-relevant state of a git working tree.
type Info struct {
	Dir           string
	CommitHash    string
	PushRemoteURL string
	IsClean       bool
	IsPushed      bool
}

// Prober runs git via a procrunner.Runner.
type Prober struct {
	Run *procrunner.Runner
	Log logr.Logger
}

// New returns a Prober backed by runner.
func New(runner *procrunner.Runner, log logr.Logger) *Prober {
	return &Prober{Run: runner, Log: log}
}

func (p *Prober) commitHash(ctx context.Context) (string, error) {
	out, err := p.Run.Run(ctx, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("determining commit hash: %w", err)
	}
	return strings.TrimSpace(string(out.Stdout)), nil
}

func (p *Prober) dir(ctx context.Context) (string, error) {
	out, err := p.Run.Run(ctx, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("determining repository root: %w", err)
	}
	return strings.TrimSpace(string(out.Stdout)), nil
}

func (p *Prober) fetch(ctx context.Context) error {
	if _, err := p.Run.Run(ctx, "git", "fetch"); err != nil {
		return fmt.Errorf("fetching remotes: %w", err)
	}
	return nil
}

func (p *Prober) existsOnAnyRemote(ctx context.Context, commitHash string) (bool, error) {
	out, err := p.Run.Run(ctx, "git", "branch", "--remote", "--contains", commitHash)
	if err != nil {
		return false, fmt.Errorf("checking remote branches: %w", err)
	}
	return strings.TrimSpace(string(out.Stdout)) != "", nil
}

func (p *Prober) isClean(ctx context.Context) (bool, error) {
	out, err := p.Run.Run(ctx, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("checking working tree status: %w", err)
	}
	return strings.TrimSpace(string(out.Stdout)) == "", nil
}

// Probe gathers a complete Info by calling the underlying git plumbing
// commands in sequence: commit hash, clean check, fetch + remote-contains
// check, then repository root.
func (p *Prober) Probe(ctx context.Context) (Info, error) {
	commitHash, err := p.commitHash(ctx)
	if err != nil {
		return Info{}, err
	}
	p.Log.V(1).Info("git commit hash", "commitHash", commitHash)

	isClean, err := p.isClean(ctx)
	if err != nil {
		return Info{}, err
	}
	p.Log.V(1).Info("git is clean", "isClean", isClean)

	if err := p.fetch(ctx); err != nil {
		return Info{}, err
	}
	isPushed, err := p.existsOnAnyRemote(ctx, commitHash)
	if err != nil {
		return Info{}, err
	}
	p.Log.V(1).Info("git is pushed", "isPushed", isPushed)

	dir, err := p.dir(ctx)
	if err != nil {
		return Info{}, err
	}

	return Info{
		Dir:        dir,
		CommitHash: commitHash,
		IsClean:    isClean,
		IsPushed:   isPushed,
	}, nil
}

// IsFullCommitHash reports whether s looks like a complete 40-character hex
// git commit hash, the only form the remote builder's registry
// short-circuit will trust as a tag.
func IsFullCommitHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
