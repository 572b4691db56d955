// Copyright Contributors to the launch project

// Package version holds launch's own version and a best-effort background
// check against the latest version published to the internal package feed.
package version

import (
	"bufio"
	"context"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/go-logr/logr"

	"github.com/Astera-org/launch/internal/procrunner"
)

// Version is launch's own version, overridden at build time via
// `-ldflags "-X .../version.Version=..."`.
var Version = "0.0.0-dev"

const updateChannel = "https://repo.prefix.dev/obelisk"

// Checker queries the package feed for the newest published launch version
// on a background goroutine, so a slow or unreachable network never blocks
// the command the user actually asked for. Call Warn once the command has
// finished (or been interrupted) to print a warning if a newer version was
// found in time.
type Checker struct {
	log    logr.Logger
	mu     sync.Mutex
	latest *semver.Version
}

// Start launches the background query and returns immediately.
func Start(ctx context.Context, runner *procrunner.Runner, log logr.Logger) *Checker {
	c := &Checker{log: log}
	go func() {
		latest, err := queryLatestVersion(ctx, runner)
		if err != nil {
			log.V(1).Info("failed to check for a newer launch version", "error", err)
			return
		}
		c.mu.Lock()
		c.latest = latest
		c.mu.Unlock()
	}()
	return c
}

// Warn prints a warning via the logger if a newer version than Version was
// found before this call. Safe to call more than once; only warns once.
func (c *Checker) Warn() {
	c.mu.Lock()
	latest := c.latest
	c.latest = nil
	c.mu.Unlock()

	if latest == nil {
		return
	}
	current, err := semver.NewVersion(Version)
	if err != nil {
		return
	}
	if latest.GreaterThan(current) {
		c.log.Info("a newer version of launch is available", "latest", latest.String(), "install", "pixi global install --channel "+updateChannel+" launch=="+latest.String())
	}
}

func queryLatestVersion(ctx context.Context, runner *procrunner.Runner) (*semver.Version, error) {
	out, err := runner.Run(ctx, "pixi", "search", "--channel="+updateChannel, "--limit=1", "launch")
	if err != nil {
		return nil, err
	}

	var nameMatches bool
	var latest *semver.Version

	scanner := bufio.NewScanner(strings.NewReader(string(out.Stdout)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "Name":
			if fields[1] != "launch" {
				return nil, errUnexpectedOutput("expected `Name launch`")
			}
			nameMatches = true
		case "Version":
			parsed, err := semver.NewVersion(fields[1])
			if err != nil {
				return nil, errUnexpectedOutput("expected a valid `Version`")
			}
			latest = parsed
		}
		if nameMatches && latest != nil {
			break
		}
	}

	if !nameMatches {
		return nil, errUnexpectedOutput("missing `Name launch` line")
	}
	if latest == nil {
		return nil, errUnexpectedOutput("missing `Version` line")
	}
	return latest, nil
}

type errUnexpectedOutput string

func (e errUnexpectedOutput) Error() string {
	return "unexpected `pixi search` output: " + string(e)
}
