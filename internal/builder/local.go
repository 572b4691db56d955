// Copyright Contributors to the launch project

package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/Astera-org/launch/internal/procrunner"
)

// DefaultDockerBinary is overridable via the LAUNCH_BUILDER_BIN environment
// variable for testing against a stub.
const DefaultDockerBinary = "docker"

// dockerMetadataFile is the subset of the JSON `docker buildx build
// --metadata-file` writes that LocalBuilder needs. See
// https://docs.docker.com/reference/cli/docker/buildx/build/#metadata-file.
type dockerMetadataFile struct {
	ContainerImageDigest string `json:"containerimage.digest"`
}

// LocalBuilder builds and pushes an image by shelling out to a local Docker
// (or Docker-compatible, e.g. Podman) CLI with buildx support.
type LocalBuilder struct {
	Runner *procrunner.Runner
	Binary string // defaults to DefaultDockerBinary when empty
	Log    logr.Logger
}

func (b *LocalBuilder) binary() string {
	if b.Binary != "" {
		return b.Binary
	}
	if env := os.Getenv("LAUNCH_BUILDER_BIN"); env != "" {
		return env
	}
	return DefaultDockerBinary
}

func (b *LocalBuilder) Build(ctx context.Context, args Args) (Output, error) {
	metadataPath := fmt.Sprintf("/tmp/%s.json", uuid.NewString())
	defer os.Remove(metadataPath)

	imageTag := args.Image.String()
	dockerArgs := []string{
		"buildx", "build", ".",
		"--metadata-file", metadataPath,
		"--tag", imageTag,
		"--platform", "linux/amd64",
		"--build-arg", "COMMIT_HASH=" + args.GitInfo.CommitHash,
		// https://github.com/opencontainers/image-spec/blob/main/annotations.md
		"--annotation", "org.opencontainers.image.revision=" + args.GitInfo.CommitHash,
		"--push",
	}

	b.Log.Info("building image locally", "tag", imageTag)
	if _, err := b.Runner.Run(ctx, b.binary(), dockerArgs...); err != nil {
		return Output{}, fmt.Errorf("running %s build: %w", b.binary(), err)
	}

	content, err := os.ReadFile(metadataPath)
	if err != nil {
		return Output{}, fmt.Errorf("reading build metadata file: %w", err)
	}
	var metadata dockerMetadataFile
	if err := json.Unmarshal(content, &metadata); err != nil {
		return Output{}, fmt.Errorf("parsing build metadata file: %w", err)
	}
	b.Log.V(1).Info("image digest", "digest", metadata.ContainerImageDigest)

	return Output{Digest: metadata.ContainerImageDigest}, nil
}
