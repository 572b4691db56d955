// Copyright Contributors to the launch project

package builder

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/go-logr/logr"

	"github.com/Astera-org/launch/internal/cluster"
	"github.com/Astera-org/launch/internal/clustercontext"
	"github.com/Astera-org/launch/internal/gitprobe"
	"github.com/Astera-org/launch/internal/imageref"
	"github.com/Astera-org/launch/internal/lifecycle"
)

func TestDigestFromContainerStatuses(t *testing.T) {
	_, err := digestFromContainerStatuses(nil)
	if err == nil {
		t.Error("expected error for no container statuses")
	}

	two := []corev1.ContainerStatus{{}, {}}
	if _, err := digestFromContainerStatuses(two); err == nil {
		t.Error("expected error for more than one container status")
	}

	notTerminated := []corev1.ContainerStatus{{State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}}}}
	if _, err := digestFromContainerStatuses(notTerminated); err == nil {
		t.Error("expected error when container is not terminated")
	}

	empty := []corev1.ContainerStatus{{State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{Message: ""}}}}
	if _, err := digestFromContainerStatuses(empty); err == nil {
		t.Error("expected error for empty termination message")
	}

	ok := []corev1.ContainerStatus{{State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{Message: "  sha256:abc  \n"}}}}
	out, err := digestFromContainerStatuses(ok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Digest != "sha256:abc" {
		t.Errorf("Digest = %q, want %q", out.Digest, "sha256:abc")
	}
}

func TestPodSpecDockerfilePreference(t *testing.T) {
	dir := t.TempDir()
	image, err := imageref.Parse("docker-registry.docker-registry.svc.cluster.local/app:abc123")
	if err != nil {
		t.Fatalf("parsing image: %v", err)
	}
	b := &RemoteBuilder{Context: clustercontext.Berkeley, Namespace: "default", User: "alice", WorkingDirectory: dir}
	pod, err := b.podSpec(Args{GitInfo: gitprobe.Info{Dir: dir, CommitHash: "abc123"}, Image: image})
	if err != nil {
		t.Fatalf("podSpec: %v", err)
	}
	args := pod.Spec.Containers[0].Args
	for _, a := range args {
		if a == "--dockerfile=Dockerfile.kaniko" {
			t.Errorf("expected plain Dockerfile when Dockerfile.kaniko is absent, got args = %v", args)
		}
	}
	if pod.ObjectMeta.GenerateName != "kaniko-alice-" {
		t.Errorf("GenerateName = %q, want %q", pod.ObjectMeta.GenerateName, "kaniko-alice-")
	}
}

// fakePods is a minimal in-memory Pods implementation for exercising
// awaitDigest's polling loop without a real cluster.
type fakePods struct {
	pods []*corev1.Pod
	idx  int
}

func (f *fakePods) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	i := f.idx
	if i >= len(f.pods) {
		i = len(f.pods) - 1
	}
	f.idx++
	return f.pods[i], nil
}

func (f *fakePods) FollowPodLogs(ctx context.Context, namespace, name string) error { return nil }

func (f *fakePods) CreatePod(ctx context.Context, namespace string, pod *corev1.Pod) (cluster.ResourceHandle, error) {
	return cluster.ResourceHandle{Namespace: namespace, Name: "generated"}, nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func TestAwaitDigestSucceeds(t *testing.T) {
	terminated := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "build", Namespace: "default"},
		Status: corev1.PodStatus{
			Phase: corev1.PodSucceeded,
			ContainerStatuses: []corev1.ContainerStatus{{
				State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{Message: "sha256:ok"}},
			}},
		},
	}
	pods := &fakePods{pods: []*corev1.Pod{
		{ObjectMeta: metav1.ObjectMeta{Name: "build", Namespace: "default"}, Status: corev1.PodStatus{Phase: corev1.PodRunning}},
		terminated,
	}}
	b := &RemoteBuilder{Pods: pods, Clock: &fakeClock{now: time.Unix(0, 0)}, Log: logr.Discard()}
	out, err := b.awaitDigest(context.Background(), "default", "build")
	if err != nil {
		t.Fatalf("awaitDigest: %v", err)
	}
	if out.Digest != "sha256:ok" {
		t.Errorf("Digest = %q, want %q", out.Digest, "sha256:ok")
	}
}

func TestAwaitDigestFailsOnPodFailed(t *testing.T) {
	pods := &fakePods{pods: []*corev1.Pod{
		{ObjectMeta: metav1.ObjectMeta{Name: "build", Namespace: "default"}, Status: corev1.PodStatus{Phase: corev1.PodFailed}},
	}}
	b := &RemoteBuilder{Pods: pods, Clock: &fakeClock{now: time.Unix(0, 0)}, Log: logr.Discard()}
	if _, err := b.awaitDigest(context.Background(), "default", "build"); err == nil {
		t.Error("expected error when build pod failed")
	}
}

// TestRemoteBuilderBuild exercises Build end to end: the registry
// short-circuit check (pointed at an address nothing listens on, so it
// fails fast and falls through to building), the build pod's creation and
// log streaming, and reading the pushed digest back off its termination
// message.
func TestRemoteBuilderBuild(t *testing.T) {
	dir := t.TempDir()
	commitHash := "0123456789abcdef0123456789abcdef01234567"
	image, err := imageref.Parse("127.0.0.1:1/app:" + commitHash)
	if err != nil {
		t.Fatalf("parsing image: %v", err)
	}

	running := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "generated", Namespace: "default"},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning, Reason: "Started"},
	}
	succeeded := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "generated", Namespace: "default"},
		Status: corev1.PodStatus{
			Phase: corev1.PodSucceeded,
			ContainerStatuses: []corev1.ContainerStatus{{
				State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{Message: "sha256:builtdigest"}},
			}},
		},
	}
	pods := &fakePods{pods: []*corev1.Pod{running, succeeded}}

	b := &RemoteBuilder{
		Pods:             pods,
		Context:          clustercontext.Berkeley,
		Namespace:        "default",
		User:             "alice",
		WorkingDirectory: dir,
		Clock:            &fakeClock{now: time.Unix(0, 0)},
		Log:              logr.Discard(),
	}

	out, err := b.Build(context.Background(), Args{GitInfo: gitprobe.Info{Dir: dir, CommitHash: commitHash}, Image: image})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.Digest != "sha256:builtdigest" {
		t.Errorf("Digest = %q, want %q", out.Digest, "sha256:builtdigest")
	}
}

func TestRemoteBuilderBuildRejectsNonCommitHashTag(t *testing.T) {
	image, err := imageref.Parse("127.0.0.1:1/app:latest")
	if err != nil {
		t.Fatalf("parsing image: %v", err)
	}
	b := &RemoteBuilder{Context: clustercontext.Berkeley, Log: logr.Discard()}
	if _, err := b.Build(context.Background(), Args{Image: image}); err == nil {
		t.Error("expected an error for a non-commit-hash tag")
	}
}

func TestAwaitDigestTimesOut(t *testing.T) {
	running := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "build", Namespace: "default"}, Status: corev1.PodStatus{Phase: corev1.PodRunning}}
	pods := &fakePods{pods: []*corev1.Pod{running}}
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := &RemoteBuilder{Pods: pods, Clock: clock, Log: logr.Discard()}

	deadline := time.Unix(0, 0).Add(lifecycle.KanikoPostBuildTimeout + time.Second)
	done := make(chan struct{})
	go func() {
		_, err := b.awaitDigest(context.Background(), "default", "build")
		if err == nil {
			t.Error("expected timeout error")
		}
		close(done)
	}()

	// The fake clock only advances inside Sleep, called by the deadline
	// under test; give the goroutine a moment to run to completion since
	// GetPod always returns the same Running pod.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("awaitDigest did not return before the real-time guard elapsed")
	}
	if clock.now.Before(deadline.Add(-lifecycle.KanikoPostBuildTimeout)) {
		t.Fatalf("clock did not advance: %v", clock.now)
	}
}
