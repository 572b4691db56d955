// Copyright Contributors to the launch project

// Package pipeline is the top-level orchestrator: it resolves the
// submitting principal and git state, builds and pushes an image, stages an
// optional credentials secret, selects a workload executor, and runs it to
// completion.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/Astera-org/launch/internal/builder"
	"github.com/Astera-org/launch/internal/byteunit"
	"github.com/Astera-org/launch/internal/cluster"
	"github.com/Astera-org/launch/internal/clustercontext"
	"github.com/Astera-org/launch/internal/executor"
	"github.com/Astera-org/launch/internal/gitprobe"
	"github.com/Astera-org/launch/internal/identity"
	"github.com/Astera-org/launch/internal/imageref"
	"github.com/Astera-org/launch/internal/katib"
	"github.com/Astera-org/launch/internal/procrunner"
	"github.com/Astera-org/launch/internal/rfc1035"
	"github.com/Astera-org/launch/internal/version"
)

// BuilderKind selects which Builder implementation materializes the image.
type BuilderKind string

const (
	BuilderLocal  BuilderKind = "local"
	BuilderRemote BuilderKind = "remote"
)

// DatabricksCfgMode controls whether ~/.databrickscfg is staged as a
// cluster secret before the workload is submitted.
type DatabricksCfgMode string

const (
	DatabricksCfgAuto    DatabricksCfgMode = "auto"
	DatabricksCfgRequire DatabricksCfgMode = "require"
	DatabricksCfgOmit    DatabricksCfgMode = "omit"
)

// databricksCfgRelPath is joined onto the user's home directory.
const databricksCfgRelPath = ".databrickscfg"
const databricksCfgSecretKey = ".databrickscfg"

// Options carries everything a `submit` invocation needs. It corresponds to
// the CLI's submit flags.
type Options struct {
	Context           clustercontext.Context
	Command           []string
	Builder           BuilderKind
	GPUs              uint32
	GPUMem            *byteunit.Bytes
	Workers           uint32
	AllowDirty        bool
	AllowUnpushed     bool
	NamePrefix        string
	KatibSpecPath     string
	DatabricksCfgMode DatabricksCfgMode
	JobNamespace      string

	// WorkingDir overrides the working directory probed for git state and
	// the image's base name. Empty means os.Getwd().
	WorkingDir string
}

// Run executes the full submission pipeline described in the package
// doc: resolve identity and git state, build and push the image, stage
// secrets, select and run an executor.
func Run(ctx context.Context, cl *cluster.Client, runner *procrunner.Runner, opts Options, log logr.Logger) error {
	if len(opts.Command) == 0 {
		return fmt.Errorf("command must not be empty")
	}

	checker := version.Start(ctx, runner, log)
	defer checker.Warn()

	workingDir := opts.WorkingDir
	if workingDir == "" {
		dir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determining working directory: %w", err)
		}
		workingDir = dir
	}
	imageBaseName := filepath.Base(workingDir)

	var experimentSpec *katib.ExperimentSpec
	if opts.KatibSpecPath != "" {
		content, err := os.ReadFile(opts.KatibSpecPath)
		if err != nil {
			return fmt.Errorf("reading experiment spec %s: %w", opts.KatibSpecPath, err)
		}
		spec, err := katib.ParseFile(content)
		if err != nil {
			return fmt.Errorf("parsing experiment spec %s: %w", opts.KatibSpecPath, err)
		}
		experimentSpec = &spec
	}

	machine, tailscale, err := resolveIdentity(ctx, runner, log)
	if err != nil {
		return err
	}
	effective := machine
	if tailscale != nil && tailscale.Host != "" {
		effective = *tailscale
	}
	effectiveUserLabel, _ := rfc1035.ToLabelLossy(effective.User)

	gitInfo, err := gitprobe.New(runner, log).Probe(ctx)
	if err != nil {
		return fmt.Errorf("probing git state: %w", err)
	}
	isRemote := opts.Builder == BuilderRemote
	if !gitInfo.IsClean && !opts.AllowDirty {
		if isRemote {
			return fmt.Errorf("working tree is dirty; commit or pass --allow-dirty (the remote builder must build from a reproducible commit)")
		}
		log.Info("warning: working tree is dirty, the built image may not reflect a reproducible commit")
	}
	if !gitInfo.IsPushed && !opts.AllowUnpushed {
		if isRemote {
			return fmt.Errorf("commit %s has not been pushed to any remote; push it or pass --allow-unpushed (the remote builder clones from the remote)", gitInfo.CommitHash)
		}
		log.Info("warning: commit has not been pushed to any remote", "commitHash", gitInfo.CommitHash)
	}

	image, err := chooseBuilderAndBuild(ctx, cl, runner, opts, gitInfo, workingDir, imageBaseName, effectiveUserLabel, log)
	if err != nil {
		return err
	}

	databricksCfgName, err := stageDatabricksCfg(ctx, cl, opts, effectiveUserLabel, log)
	if err != nil {
		return err
	}

	kind := selectExecutorKind(experimentSpec, opts.Workers, log)
	generateName := computeGenerateName(opts.NamePrefix, effectiveUserLabel, kind)

	args := executor.Args{
		Context:           opts.Context,
		JobNamespace:      opts.JobNamespace,
		GenerateName:      generateName,
		MachineUserHost:   machine,
		TailscaleUserHost: tailscale,
		Image:             image,
		DatabricksCfgName: databricksCfgName,
		ContainerArgs:     opts.Command,
		Workers:           opts.Workers,
		GPUs:              opts.GPUs,
		GPUMem:            opts.GPUMem,
	}

	exec, err := buildExecutor(kind, experimentSpec, cl, log)
	if err != nil {
		return err
	}
	_, err = exec.Execute(ctx, args)
	return err
}

func resolveIdentity(ctx context.Context, runner *procrunner.Runner, log logr.Logger) (machine identity.UserHost, tailscale *identity.UserHost, err error) {
	machine, err = identity.MachinePrincipal()
	if err != nil {
		return identity.UserHost{}, nil, fmt.Errorf("resolving machine identity: %w", err)
	}

	ts, tsErr := identity.TailscalePrincipal(ctx, runner)
	if tsErr != nil {
		log.V(1).Info("tailscale identity unavailable", "error", tsErr)
		return machine, nil, nil
	}
	return machine, &ts, nil
}

func chooseBuilderAndBuild(ctx context.Context, cl *cluster.Client, runner *procrunner.Runner, opts Options, gitInfo gitprobe.Info, workingDir, imageBaseName, userLabel string, log logr.Logger) (imageref.ImageName, error) {
	var registry string
	var b builder.Builder
	switch opts.Builder {
	case BuilderRemote:
		registry = opts.Context.InClusterRegistryHost()
		b = &builder.RemoteBuilder{
			Pods:             cl,
			Context:          opts.Context,
			Namespace:        opts.JobNamespace,
			User:             userLabel,
			WorkingDirectory: workingDir,
			Log:              log,
		}
	default:
		registry = opts.Context.ContainerRegistryHost()
		b = &builder.LocalBuilder{Runner: runner, Log: log}
	}

	var tag string
	if opts.Builder == BuilderRemote {
		// The in-cluster kaniko builder only accepts a full commit hash as
		// its image tag (see builder.RemoteBuilder.Build), since that is
		// what lets it short-circuit the build by checking the registry for
		// an image already pushed at that commit.
		tag = gitInfo.CommitHash
	} else {
		var err error
		tag, err = randomTag(userLabel)
		if err != nil {
			return imageref.ImageName{}, err
		}
	}
	buildTag, err := imageref.NewBuilder(imageBaseName).WithRegistry(registry).WithTag(tag).Build()
	if err != nil {
		return imageref.ImageName{}, fmt.Errorf("constructing build tag: %w", err)
	}

	output, err := b.Build(ctx, builder.Args{GitInfo: gitInfo, Image: buildTag})
	if err != nil {
		return imageref.ImageName{}, fmt.Errorf("building image: %w", err)
	}

	// The cluster always pulls by the external registry + digest, regardless
	// of which builder produced it.
	pulled, err := imageref.NewBuilder(imageBaseName).
		WithRegistry(opts.Context.ContainerRegistryHost()).
		WithDigest(output.Digest).
		Build()
	if err != nil {
		return imageref.ImageName{}, fmt.Errorf("constructing pulled image reference: %w", err)
	}
	return pulled, nil
}

// randomTag renders "<user>-<random-32-bit-hex>", or just the random hex
// when the user is unknown.
func randomTag(userLabel string) (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating random tag suffix: %w", err)
	}
	suffix := hex.EncodeToString(buf[:])
	if userLabel == "" {
		return suffix, nil
	}
	return userLabel + "-" + suffix, nil
}

func stageDatabricksCfg(ctx context.Context, cl *cluster.Client, opts Options, userLabel string, log logr.Logger) (string, error) {
	if opts.DatabricksCfgMode == DatabricksCfgOmit || opts.DatabricksCfgMode == "" {
		return "", nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	path := filepath.Join(home, databricksCfgRelPath)

	if _, statErr := os.Stat(path); statErr != nil {
		if opts.DatabricksCfgMode == DatabricksCfgRequire {
			return "", fmt.Errorf("databricks credentials file %s is required but missing: %w", path, statErr)
		}
		log.Info("warning: no databricks credentials file found, skipping secret staging", "path", path)
		return "", nil
	}

	secretName := "databrickscfg"
	if userLabel != "" {
		secretName = "databrickscfg-" + userLabel
	}
	if err := cl.RecreateSecretFromFile(ctx, opts.JobNamespace, secretName, databricksCfgSecretKey, path); err != nil {
		return "", fmt.Errorf("staging databricks credentials secret: %w", err)
	}
	return secretName, nil
}

type executorKind int

const (
	executorSingleJob executorKind = iota
	executorDistributed
	executorExperiment
)

func selectExecutorKind(experimentSpec *katib.ExperimentSpec, workers uint32, log logr.Logger) executorKind {
	if experimentSpec != nil {
		if workers > 1 {
			log.Info("warning: --workers is ignored when an experiment spec is given; parallelTrialCount controls concurrency instead")
		}
		return executorExperiment
	}
	if workers > 1 {
		return executorDistributed
	}
	return executorSingleJob
}

func computeGenerateName(namePrefix, userLabel string, kind executorKind) string {
	if namePrefix != "" {
		return namePrefix + "-"
	}
	if userLabel != "" {
		return userLabel + "-"
	}
	switch kind {
	case executorDistributed:
		return "ray-job-"
	case executorExperiment:
		return "katib-"
	default:
		return "job-"
	}
}

func buildExecutor(kind executorKind, experimentSpec *katib.ExperimentSpec, cl *cluster.Client, log logr.Logger) (executor.Executor, error) {
	switch kind {
	case executorDistributed:
		return &executor.DistributedExecutor{Cluster: cl, Log: log}, nil
	case executorExperiment:
		if experimentSpec == nil {
			return nil, fmt.Errorf("internal error: experiment executor selected without a spec")
		}
		return &executor.ExperimentExecutor{Cluster: cl, Spec: *experimentSpec, Log: log}, nil
	default:
		return &executor.SingleJobExecutor{Cluster: cl, Log: log}, nil
	}
}
