// Copyright Contributors to the launch project

// Package builder packages a local repository into a container image
// through one of two backends: LocalBuilder invokes a local `docker build
// --push`; RemoteBuilder runs the build inside the cluster via a kaniko
// Pod, short-circuiting if the target tag is already present in the
// registry.
package builder

import (
	"context"

	"github.com/Astera-org/launch/internal/gitprobe"
	"github.com/Astera-org/launch/internal/imageref"
)

// Args describes the image a Builder should produce.
type Args struct {
	GitInfo gitprobe.Info
	Image   imageref.ImageName
}

// Output reports the digest of the image a Builder produced (or found
// already present in the registry).
type Output struct {
	Digest string
}

// Builder produces and pushes a container image, returning its digest.
type Builder interface {
	Build(ctx context.Context, args Args) (Output, error)
}
