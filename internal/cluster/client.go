// Copyright Contributors to the launch project

// Package cluster is a thin typed facade over the Kubernetes control plane:
// create-from-manifest, get/list, follow-logs, and idempotent secret
// recreation. Authentication is always by explicit server URL and bearer
// token — no ambient kubeconfig or in-cluster config is ever consulted.
package cluster

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// ResourceHandle is the server-assigned identity returned after creating a
// resource whose name is allocated via generateName.
type ResourceHandle struct {
	Namespace string
	Name      string
}

var (
	rayJobGVR = schema.GroupVersionResource{Group: "ray.io", Version: "v1", Resource: "rayjobs"}
	katibGVR  = schema.GroupVersionResource{Group: "kubeflow.org", Version: "v1beta1", Resource: "experiments"}
)

// Client is a typed+dynamic facade over one cluster, configured from an
// explicit server URL and bearer token.
type Client struct {
	Typed   kubernetes.Interface
	Dynamic dynamic.Interface
	Log     logr.Logger
}

// Config identifies how to reach a cluster's API server.
type Config struct {
	ServerURL string
	Token     string
	Insecure  bool
}

// New constructs a Client from explicit coordinates — never from
// ~/.kube/config or in-cluster ambient config.
func New(cfg Config, log logr.Logger) (*Client, error) {
	restConfig := &rest.Config{
		Host:        cfg.ServerURL,
		BearerToken: cfg.Token,
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: cfg.Insecure,
		},
	}

	typed, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building typed clientset: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client: %w", err)
	}

	return &Client{Typed: typed, Dynamic: dyn, Log: log}, nil
}

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

// CreateJob creates job and returns its server-assigned identity.
func (c *Client) CreateJob(ctx context.Context, namespace string, job *batchv1.Job) (ResourceHandle, error) {
	created, err := c.Typed.BatchV1().Jobs(namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return ResourceHandle{}, fmt.Errorf("creating job: %w", err)
	}
	return ResourceHandle{Namespace: created.Namespace, Name: created.Name}, nil
}

// CreatePod creates pod and returns its server-assigned identity.
func (c *Client) CreatePod(ctx context.Context, namespace string, pod *corev1.Pod) (ResourceHandle, error) {
	created, err := c.Typed.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return ResourceHandle{}, fmt.Errorf("creating pod: %w", err)
	}
	return ResourceHandle{Namespace: created.Namespace, Name: created.Name}, nil
}

// CreateUnstructured creates an arbitrary CRD instance (RayJob, Katib
// Experiment) described as an unstructured manifest, returning its
// server-assigned identity.
func (c *Client) CreateUnstructured(ctx context.Context, gvr schema.GroupVersionResource, namespace string, obj *unstructured.Unstructured) (ResourceHandle, error) {
	created, err := c.Dynamic.Resource(gvr).Namespace(namespace).Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return ResourceHandle{}, fmt.Errorf("creating %s: %w", gvr.Resource, err)
	}
	return ResourceHandle{Namespace: created.GetNamespace(), Name: created.GetName()}, nil
}

// CreateRayJob creates a RayJob manifest.
func (c *Client) CreateRayJob(ctx context.Context, namespace string, obj *unstructured.Unstructured) (ResourceHandle, error) {
	return c.CreateUnstructured(ctx, rayJobGVR, namespace, obj)
}

// CreateKatibExperiment creates a Katib Experiment manifest.
func (c *Client) CreateKatibExperiment(ctx context.Context, namespace string, obj *unstructured.Unstructured) (ResourceHandle, error) {
	return c.CreateUnstructured(ctx, katibGVR, namespace, obj)
}

// GetPod fetches one pod, wrapping apierrors.IsNotFound so callers can use
// IsNotFound.
func (c *Client) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	pod, err := c.Typed.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting pod %s/%s: %w", namespace, name, err)
	}
	return pod, nil
}

// GetJob fetches one job.
func (c *Client) GetJob(ctx context.Context, namespace, name string) (*batchv1.Job, error) {
	job, err := c.Typed.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting job %s/%s: %w", namespace, name, err)
	}
	return job, nil
}

// GetKatibExperiment fetches one Katib Experiment as unstructured JSON.
func (c *Client) GetKatibExperiment(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error) {
	obj, err := c.Dynamic.Resource(katibGVR).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting experiment %s/%s: %w", namespace, name, err)
	}
	return obj, nil
}

// ListPods lists all pods in namespace matching labelSelector.
func (c *Client) ListPods(ctx context.Context, namespace, labelSelector string) ([]corev1.Pod, error) {
	list, err := c.Typed.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}
	return list.Items, nil
}

// ListJobs lists all jobs in namespace.
func (c *Client) ListJobs(ctx context.Context, namespace string) ([]batchv1.Job, error) {
	list, err := c.Typed.BatchV1().Jobs(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return list.Items, nil
}

// ListRayJobs lists all RayJob CRD instances in namespace.
func (c *Client) ListRayJobs(ctx context.Context, namespace string) ([]unstructured.Unstructured, error) {
	list, err := c.Dynamic.Resource(rayJobGVR).Namespace(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing ray jobs: %w", err)
	}
	return list.Items, nil
}

// ListKatibExperiments lists all Katib Experiment CRD instances in
// namespace.
func (c *Client) ListKatibExperiments(ctx context.Context, namespace string) ([]unstructured.Unstructured, error) {
	list, err := c.Dynamic.Resource(katibGVR).Namespace(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}
	return list.Items, nil
}

// PodsForJob returns the names of pods owned by the job called jobName,
// using the standard controller-generated "job-name" label.
func (c *Client) PodsForJob(ctx context.Context, namespace, jobName string) ([]string, error) {
	pods, err := c.ListPods(ctx, namespace, "job-name="+jobName)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(pods))
	for i, pod := range pods {
		names[i] = pod.Name
	}
	return names, nil
}

// FollowPodLogs streams namespace/name's logs to stdout until EOF.
func (c *Client) FollowPodLogs(ctx context.Context, namespace, name string) error {
	req := c.Typed.CoreV1().Pods(namespace).GetLogs(name, &corev1.PodLogOptions{Follow: true})
	stream, err := req.Stream(ctx)
	if err != nil {
		return fmt.Errorf("opening log stream for %s/%s: %w", namespace, name, err)
	}
	defer stream.Close()

	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()
	if _, err := io.Copy(writer, stream); err != nil && err != io.EOF {
		return fmt.Errorf("streaming logs for %s/%s: %w", namespace, name, err)
	}
	return nil
}

// RecreateSecretFromFile idempotently recreates a generic secret named
// `name` in namespace from the contents of path: delete-if-exists, then
// create. This is a deliberate delete-then-create race window, acceptable
// since nothing else mutates the same secret concurrently.
func (c *Client) RecreateSecretFromFile(ctx context.Context, namespace, name, key, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading credentials file %s: %w", path, err)
	}

	secrets := c.Typed.CoreV1().Secrets(namespace)
	if err := secrets.Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting existing secret %s/%s: %w", namespace, name, err)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Data:       map[string][]byte{key: content},
	}
	if _, err := secrets.Create(ctx, secret, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("creating secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

// DeleteJob deletes job and its pods via the foreground deletion policy,
// which keeps the Job until its pods are deleted. It returns once the
// deletion request is accepted, without waiting for the pods to be gone.
func (c *Client) DeleteJob(ctx context.Context, namespace, name string) error {
	propagation := metav1.DeletePropagationForeground
	if err := c.Typed.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting job %s/%s: %w", namespace, name, err)
	}
	return nil
}
