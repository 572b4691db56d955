// Copyright Contributors to the launch project

package cluster

import (
	"context"
	"os"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/go-logr/logr"
)

func newTestClient(objects ...runtime.Object) *Client {
	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		rayJobGVR: "RayJobList",
		katibGVR:  "ExperimentList",
	}
	return &Client{
		Typed:   fake.NewSimpleClientset(objects...),
		Dynamic: dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind),
		Log:     logr.Discard(),
	}
}

func TestGetPodNotFound(t *testing.T) {
	c := newTestClient()
	_, err := c.GetPod(context.Background(), "default", "missing")
	if err == nil {
		t.Fatal("expected an error for a missing pod")
	}
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound(err) to be true, got err = %v", err)
	}
}

func TestCreateAndGetPod(t *testing.T) {
	c := newTestClient()
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "job-abc", Namespace: "default"}}
	handle, err := c.CreatePod(context.Background(), "default", pod)
	if err != nil {
		t.Fatalf("CreatePod: %v", err)
	}
	if handle.Name != "job-abc" || handle.Namespace != "default" {
		t.Errorf("unexpected handle: %+v", handle)
	}

	got, err := c.GetPod(context.Background(), "default", "job-abc")
	if err != nil {
		t.Fatalf("GetPod: %v", err)
	}
	if got.Name != "job-abc" {
		t.Errorf("GetPod returned %q, want %q", got.Name, "job-abc")
	}
}

func TestPodsForJobFiltersByLabel(t *testing.T) {
	c := newTestClient(
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "ns", Labels: map[string]string{"job-name": "target"}}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "b", Namespace: "ns", Labels: map[string]string{"job-name": "other"}}},
	)
	names, err := c.PodsForJob(context.Background(), "ns", "target")
	if err != nil {
		t.Fatalf("PodsForJob: %v", err)
	}
	if len(names) != 1 || names[0] != "a" {
		t.Errorf("PodsForJob = %v, want [a]", names)
	}
}

func TestRecreateSecretFromFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/token"
	if err := os.WriteFile(path, []byte("sekret"), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	c := newTestClient(&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "creds", Namespace: "ns"}})
	if err := c.RecreateSecretFromFile(context.Background(), "ns", "creds", "token", path); err != nil {
		t.Fatalf("RecreateSecretFromFile: %v", err)
	}

	secret, err := c.Typed.CoreV1().Secrets("ns").Get(context.Background(), "creds", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get secret: %v", err)
	}
	if string(secret.Data["token"]) != "sekret" {
		t.Errorf("secret data = %q, want %q", secret.Data["token"], "sekret")
	}
}

func TestCreateRayJobUnstructured(t *testing.T) {
	c := newTestClient()
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "ray.io/v1",
		"kind":       "RayJob",
		"metadata":   map[string]interface{}{"name": "rj-1", "namespace": "ns"},
	}}
	handle, err := c.CreateRayJob(context.Background(), "ns", obj)
	if err != nil {
		t.Fatalf("CreateRayJob: %v", err)
	}
	if handle.Name != "rj-1" {
		t.Errorf("handle.Name = %q, want rj-1", handle.Name)
	}
}
