// Copyright Contributors to the launch project

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workloads launch has submitted to the cluster",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

type listRow struct {
	kind string
	name string
	age  time.Duration
}

func runList(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	cl, _, err := newClusterClient(log)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var rows []listRow

	jobs, err := cl.ListJobs(ctx, namespaceFlag)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}
	for _, job := range jobs {
		rows = append(rows, listRow{kind: "Job", name: job.Name, age: time.Since(job.CreationTimestamp.Time)})
	}

	rayJobs, err := cl.ListRayJobs(ctx, namespaceFlag)
	if err != nil {
		return fmt.Errorf("listing ray jobs: %w", err)
	}
	for _, obj := range rayJobs {
		rows = append(rows, listRow{kind: "RayJob", name: obj.GetName(), age: time.Since(obj.GetCreationTimestamp().Time)})
	}

	experiments, err := cl.ListKatibExperiments(ctx, namespaceFlag)
	if err != nil {
		return fmt.Errorf("listing experiments: %w", err)
	}
	for _, obj := range experiments {
		rows = append(rows, listRow{kind: "Experiment", name: obj.GetName(), age: time.Since(obj.GetCreationTimestamp().Time)})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tAGE")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", row.kind, row.name, row.age.Round(time.Second))
	}
	return w.Flush()
}
