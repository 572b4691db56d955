// Copyright Contributors to the launch project

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Astera-org/launch/internal/byteunit"
	"github.com/Astera-org/launch/internal/pipeline"
	"github.com/Astera-org/launch/internal/procrunner"
	"github.com/Astera-org/launch/internal/rfc1035"
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&builderFlag, "builder", "local", "image builder: local or remote")
	submitCmd.Flags().Uint32Var(&gpusFlag, "gpus", 0, "number of GPUs to request")
	submitCmd.Flags().StringVar(&gpuMemFlag, "gpu-mem", "", "minimum GPU memory per node, e.g. 40GiB")
	submitCmd.Flags().Uint32Var(&workersFlag, "workers", 1, "number of Ray workers; >1 selects the distributed executor")
	submitCmd.Flags().BoolVar(&allowDirtyFlag, "allow-dirty", false, "allow building from a dirty working tree")
	submitCmd.Flags().BoolVar(&allowUnpushedFlag, "allow-unpushed", false, "allow building from a commit not pushed to any remote")
	submitCmd.Flags().StringVar(&namePrefixFlag, "name-prefix", "", "prefix for the submitted resource's generated name (RFC-1035 label, <=20 chars)")
	submitCmd.Flags().StringVar(&katibSpecFlag, "katib", "", "path to a Katib experiment-spec YAML file; selects the experiment executor")
	submitCmd.Flags().StringVar(&databricksCfgModeFlag, "databrickscfg-mode", "auto", "how to stage ~/.databrickscfg as a secret: auto, require, or omit")
}

var (
	builderFlag           string
	gpusFlag              uint32
	gpuMemFlag            string
	workersFlag           uint32
	allowDirtyFlag        bool
	allowUnpushedFlag     bool
	namePrefixFlag        string
	katibSpecFlag         string
	databricksCfgModeFlag string
)

var submitCmd = &cobra.Command{
	Use:   "submit -- <command> [args...]",
	Short: "Build the current working tree into an image and run it on the cluster",
	Args:  cobra.ArbitraryArgs,
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("submit requires a command after `--`, e.g. `launch submit -- python train.py`")
	}
	if namePrefixFlag != "" {
		if len(namePrefixFlag) > 20 || !rfc1035.IsLabel(namePrefixFlag) {
			return fmt.Errorf("--name-prefix must be an RFC-1035 label of at most 20 characters, got %q", namePrefixFlag)
		}
	}

	var builderKind pipeline.BuilderKind
	switch builderFlag {
	case "local":
		builderKind = pipeline.BuilderLocal
	case "remote":
		builderKind = pipeline.BuilderRemote
	default:
		return fmt.Errorf("--builder must be local or remote, got %q", builderFlag)
	}

	var databricksCfgMode pipeline.DatabricksCfgMode
	switch databricksCfgModeFlag {
	case "auto":
		databricksCfgMode = pipeline.DatabricksCfgAuto
	case "require":
		databricksCfgMode = pipeline.DatabricksCfgRequire
	case "omit":
		databricksCfgMode = pipeline.DatabricksCfgOmit
	default:
		return fmt.Errorf("--databrickscfg-mode must be auto, require, or omit, got %q", databricksCfgModeFlag)
	}

	var gpuMem *byteunit.Bytes
	if gpuMemFlag != "" {
		parsed, err := byteunit.Parse(gpuMemFlag)
		if err != nil {
			return fmt.Errorf("parsing --gpu-mem: %w", err)
		}
		gpuMem = &parsed
	}

	log, err := newLogger()
	if err != nil {
		return err
	}

	clusterCtx, err := resolveContext()
	if err != nil {
		return err
	}
	cl, _, err := newClusterClient(log)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		Context:           clusterCtx,
		Command:           args,
		Builder:           builderKind,
		GPUs:              gpusFlag,
		GPUMem:            gpuMem,
		Workers:           workersFlag,
		AllowDirty:        allowDirtyFlag,
		AllowUnpushed:     allowUnpushedFlag,
		NamePrefix:        namePrefixFlag,
		KatibSpecPath:     katibSpecFlag,
		DatabricksCfgMode: databricksCfgMode,
		JobNamespace:      namespaceFlag,
	}

	runner := procrunner.New(log)
	return pipeline.Run(cmd.Context(), cl, runner, opts, log)
}
