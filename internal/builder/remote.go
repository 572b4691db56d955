// Copyright Contributors to the launch project

package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/Astera-org/launch/internal/cluster"
	"github.com/Astera-org/launch/internal/clustercontext"
	"github.com/Astera-org/launch/internal/gitprobe"
	"github.com/Astera-org/launch/internal/lifecycle"
)

const (
	kanikoGithubTokenSecret = "kaniko-github-token"
	kanikoCachePVCName      = "kaniko-cache"
	kanikoCachePVCMountPath = "/var/run/uv"
	kanikoImage             = "gcr.io/kaniko-project/executor:latest"
)

// Accepted media types for the registry manifest HEAD check: the manifest
// kaniko pushes, and the index docker buildx pushes for multi-platform
// images.
var acceptableManifestTypes = []string{
	"application/vnd.oci.image.manifest.v1+json", // kaniko builder
	"application/vnd.oci.image.index.v1+json",    // docker builder
}

// Pods is the cluster surface RemoteBuilder needs: create the kaniko build
// pod, wait for it to terminate, and fetch its termination message.
type Pods interface {
	lifecycle.PodGetter
	lifecycle.LogFollower
	CreatePod(ctx context.Context, namespace string, pod *corev1.Pod) (cluster.ResourceHandle, error)
}

// RemoteBuilder builds the image inside the cluster with kaniko, after
// first checking whether the requested tag is already present in the
// registry (the tag must be the full 40-character git commit hash, so a
// hit there means this exact commit was already built).
type RemoteBuilder struct {
	Pods             Pods
	Context          clustercontext.Context
	Namespace        string
	User             string // machine user, used only to namespace the generateName; may be empty
	WorkingDirectory string
	Clock            lifecycle.Clock
	Log              logr.Logger
}

func (b *RemoteBuilder) clock() lifecycle.Clock {
	if b.Clock != nil {
		return b.Clock
	}
	return lifecycle.RealClock
}

func (b *RemoteBuilder) Build(ctx context.Context, args Args) (Output, error) {
	tag, ok := args.Image.Tag()
	if !ok || !gitprobe.IsFullCommitHash(tag) {
		return Output{}, fmt.Errorf("image tag must be a full git commit hash, check debug logs for more details")
	}

	b.Log.V(1).Info("checking if image is already available in registry", "image", args.Image.String())
	digest, err := queryImageDigest(args.Image)
	if err != nil {
		b.Log.Info("failed to check if image is already available in registry, proceeding to build", "error", err)
	} else if digest != "" {
		b.Log.V(1).Info("image already available in registry", "digest", digest)
		return Output{Digest: digest}, nil
	} else {
		b.Log.V(1).Info("image not found in registry", "image", args.Image.String())
	}

	// Kaniko pushes directly to the cluster-local registry rather than the
	// Tailscale registry proxy, for performance.
	localImage, err := args.Image.Builder().WithRegistry(b.Context.InClusterRegistryHost()).Build()
	if err != nil {
		return Output{}, fmt.Errorf("rewriting image for cluster-local registry: %w", err)
	}
	buildArgs := Args{GitInfo: args.GitInfo, Image: localImage}

	pod, err := b.podSpec(buildArgs)
	if err != nil {
		return Output{}, err
	}
	handle, err := b.Pods.CreatePod(ctx, b.Namespace, pod)
	if err != nil {
		return Output{}, fmt.Errorf("creating build pod: %w", err)
	}

	waiter := lifecycle.New(b.Pods, b.Pods, b.Log)
	if err := waiter.WaitAndStream(ctx, handle.Namespace, handle.Name); err != nil {
		return Output{}, fmt.Errorf("streaming build pod logs: %w", err)
	}

	return b.awaitDigest(ctx, handle.Namespace, handle.Name)
}

// awaitDigest polls the terminated build pod for its termination message,
// which kaniko is configured (via --digest-file=/dev/termination-log) to
// fill with the pushed image's digest. Pod status updates lag slightly
// behind log completion, hence the bounded poll.
func (b *RemoteBuilder) awaitDigest(ctx context.Context, namespace, name string) (Output, error) {
	deadline := lifecycle.After(b.clock(), lifecycle.KanikoPostBuildTimeout)
	for {
		pod, err := b.Pods.GetPod(ctx, namespace, name)
		if err != nil {
			return Output{}, fmt.Errorf("getting build pod %s/%s: %w", namespace, name, err)
		}

		switch pod.Status.Phase {
		case corev1.PodRunning:
			if !deadline.Sleep(lifecycle.PollingInterval) {
				return Output{}, fmt.Errorf("deadline exceeded while waiting for kaniko build pod to finish")
			}
			continue
		case corev1.PodSucceeded:
			return digestFromContainerStatuses(pod.Status.ContainerStatuses)
		case corev1.PodFailed:
			return Output{}, fmt.Errorf("kaniko build failed, inspect the build output to learn why")
		default:
			return Output{}, fmt.Errorf("unexpected pod status %s", pod.Status.Phase)
		}
	}
}

func digestFromContainerStatuses(statuses []corev1.ContainerStatus) (Output, error) {
	if len(statuses) == 0 {
		return Output{}, fmt.Errorf("build pod does not have container statuses")
	}
	if len(statuses) > 1 {
		return Output{}, fmt.Errorf("build pod has more than one container status")
	}
	terminated := statuses[0].State.Terminated
	if terminated == nil {
		return Output{}, fmt.Errorf("unexpected build container state: not terminated")
	}
	if terminated.Message == "" {
		return Output{}, fmt.Errorf("build container should have a termination message")
	}
	return Output{Digest: trimSpace(terminated.Message)}, nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func queryImageDigest(image interface{ String() string }) (string, error) {
	ref, err := name.ParseReference(image.String())
	if err != nil {
		return "", fmt.Errorf("parsing image reference: %w", err)
	}
	tag, ok := ref.(name.Tag)
	if !ok {
		return "", fmt.Errorf("image reference %q is not a tag reference", image.String())
	}

	accept := make([]types.MediaType, len(acceptableManifestTypes))
	for i, mediaType := range acceptableManifestTypes {
		accept[i] = types.MediaType(mediaType)
	}
	desc, err := remote.Head(tag, remote.WithContext(context.Background()), remote.WithAccept(accept...))
	if err != nil {
		return "", fmt.Errorf("querying registry manifest: %w", err)
	}
	return desc.Digest.String(), nil
}

func (b *RemoteBuilder) podSpec(args Args) (*corev1.Pod, error) {
	generateName := "kaniko-"
	if b.User != "" {
		generateName += b.User + "-"
	}

	pushRemote := b.Context.PushRemoteURL()

	subPath, err := filepath.Rel(args.GitInfo.Dir, b.WorkingDirectory)
	if err != nil {
		return nil, fmt.Errorf("computing build context sub-path: %w", err)
	}

	dockerfile := "Dockerfile"
	if _, err := os.Stat(filepath.Join(b.WorkingDirectory, "Dockerfile.kaniko")); err == nil {
		dockerfile = "Dockerfile.kaniko"
	}

	return &corev1.Pod{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
		ObjectMeta: metav1.ObjectMeta{
			Namespace:    b.Namespace,
			GenerateName: generateName,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:  "main",
				Image: kanikoImage,
				Args: []string{
					fmt.Sprintf("--context=git://%s#%s", pushRemote, args.GitInfo.CommitHash),
					"--context-sub-path=" + subPath,
					"--dockerfile=" + dockerfile,
					"--destination=" + args.Image.String(),
					"--build-arg=COMMIT_HASH=" + args.GitInfo.CommitHash,
					"--insecure",                  // allows pushing to the cluster-local registry
					"--skip-push-permission-check", // allows pushing without auth
					"--git=single-branch=true",     // only clone the current branch
					// Kaniko writes the pushed digest to the termination
					// log when this flag is set.
					"--digest-file=/dev/termination-log",
				},
				EnvFrom: []corev1.EnvFromSource{{
					SecretRef: &corev1.SecretEnvSource{
						LocalObjectReference: corev1.LocalObjectReference{Name: kanikoGithubTokenSecret},
					},
				}},
				VolumeMounts: []corev1.VolumeMount{{
					Name:      kanikoCachePVCName,
					MountPath: kanikoCachePVCMountPath,
				}},
			}},
			Volumes: []corev1.Volume{{
				Name: kanikoCachePVCName,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: kanikoCachePVCName},
				},
			}},
		},
	}, nil
}
