// Copyright Contributors to the launch project

// Package identity resolves the submitting principal — a {user, host?}
// pair — from the OS and, optionally, a Tailscale overlay-network daemon.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/Astera-org/launch/internal/procrunner"
)

// UserHost is "{user}" or "{user}@{host}".
type UserHost struct {
	User string
	Host string // empty when absent
}

// Parse splits value on the first '@'.
func Parse(value string) UserHost {
	user, host, ok := strings.Cut(value, "@")
	if !ok {
		return UserHost{User: value}
	}
	return UserHost{User: user, Host: host}
}

// String renders "user" or "user@host".
func (u UserHost) String() string {
	if u.Host == "" {
		return u.User
	}
	return u.User + "@" + u.Host
}

// IsEmpty reports whether u has no user set at all.
func (u UserHost) IsEmpty() bool { return u.User == "" }

// MachinePrincipal resolves the OS user and hostname.
func MachinePrincipal() (UserHost, error) {
	u, err := user.Current()
	if err != nil {
		return UserHost{}, fmt.Errorf("determining current user: %w", err)
	}
	host, err := os.Hostname()
	if err != nil {
		return UserHost{}, fmt.Errorf("determining hostname: %w", err)
	}
	return UserHost{User: u.Username, Host: host}, nil
}

var tailscaleBinary = sync.OnceValue(func() string {
	if runtime.GOOS != "darwin" {
		return "tailscale"
	}
	// Not all macOS installation methods put `tailscale` on PATH; fall back
	// to the app bundle binary. See
	// https://github.com/tailscale/tailscale/issues/2553.
	if canRun("tailscale") {
		return "tailscale"
	}
	return "/Applications/Tailscale.app/Contents/MacOS/Tailscale"
})

func canRun(program string) bool {
	out, err := procrunner.New(logr.Discard()).TryRun(context.Background(), program, "version")
	return err == nil && out != nil
}

type tailscaleStatus struct {
	Self struct {
		UserID int64 `json:"UserID"`
	} `json:"Self"`
	User map[string]struct {
		LoginName string `json:"LoginName"`
	} `json:"User"`
}

// TailscalePrincipal resolves the logged-in Tailscale user via
// `tailscale status --json`. It returns an error if Tailscale is not
// running or not logged in.
func TailscalePrincipal(ctx context.Context, runner *procrunner.Runner) (UserHost, error) {
	out, err := runner.Run(ctx, tailscaleBinary(), "status", "--json")
	if err != nil {
		return UserHost{}, fmt.Errorf("querying tailscale status: %w", err)
	}

	var status tailscaleStatus
	if err := json.Unmarshal(out.Stdout, &status); err != nil {
		return UserHost{}, fmt.Errorf("parsing tailscale status: %w", err)
	}

	if status.User == nil {
		return UserHost{}, fmt.Errorf("unable to determine tailscale user, are you logged in?")
	}

	loginName, ok := status.User[strconv.FormatInt(status.Self.UserID, 10)]
	if !ok {
		return UserHost{}, fmt.Errorf("tailscale status did not include the current user")
	}

	return Parse(loginName.LoginName), nil
}
