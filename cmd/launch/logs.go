// Copyright Contributors to the launch project

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs <pod-name>",
	Short: "Stream logs for a pod launch previously submitted",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	cl, _, err := newClusterClient(log)
	if err != nil {
		return err
	}

	if err := cl.FollowPodLogs(cmd.Context(), namespaceFlag, args[0]); err != nil {
		return fmt.Errorf("following logs for pod %s/%s: %w", namespaceFlag, args[0], err)
	}
	return nil
}
