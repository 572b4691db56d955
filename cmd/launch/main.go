// Copyright Contributors to the launch project

// launch packages the current working tree as a container image, pushes it
// to a cluster-reachable registry, and runs it on a remote Kubernetes
// cluster as a single-pod Job, a distributed Ray cluster, or a Katib
// hyperparameter-search Experiment.
//
// Available commands:
//   - submit: build, push, and run the current working tree
//   - list:   list launch-submitted workloads
//   - logs:   stream logs for a previously submitted pod
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Astera-org/launch/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "launch",
	Short:         "Package and run a local repository on a remote Kubernetes cluster",
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "\x1b[1;31merror: "+err.Error()+"\x1b[0m")
		os.Exit(1)
	}
}
