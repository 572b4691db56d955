// Copyright Contributors to the launch project

package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	batchv1 "k8s.io/api/batch/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/Astera-org/launch/internal/cluster"
	"github.com/Astera-org/launch/internal/lifecycle"
	"github.com/Astera-org/launch/internal/shellquote"
)

// DistributedCluster is the cluster surface DistributedExecutor needs: it
// creates a RayJob CRD instance (no generated Go types exist for it, so it
// is built and submitted as unstructured JSON) and polls for the submitter
// Job KubeRay creates once the cluster comes up.
type DistributedCluster interface {
	Cluster
	CreateRayJob(ctx context.Context, namespace string, obj *unstructured.Unstructured) (cluster.ResourceHandle, error)
	GetJob(ctx context.Context, namespace, name string) (*batchv1.Job, error)
}

// DistributedExecutor runs the submitted container across a Ray cluster:
// one head node, a worker group, and a submitter Pod that runs `ray job
// submit` against the cluster.
type DistributedExecutor struct {
	Cluster DistributedCluster
	Clock   lifecycle.Clock
	Log     logr.Logger
}

// toUnstructured converts a typed API value (env vars, volumes, resource
// requirements, affinity, ...) into the map/slice/scalar shape an
// unstructured RayJob manifest embeds, via a JSON round trip. Panics only on
// a programming error (an unconvertible type), never on user input.
func toUnstructured(value interface{}) interface{} {
	encoded, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("executor: marshaling %T: %v", value, err))
	}
	var out interface{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		panic(fmt.Sprintf("executor: unmarshaling %T into unstructured: %v", value, err))
	}
	return out
}

func rayJobManifest(args Args) *unstructured.Unstructured {
	annotations := args.annotations()
	// Ray parses this with shlex; this quoting convention matches what the
	// kuberay entrypoint parser expects.
	entrypoint := shellquote.QuoteJoin(args.ContainerArgs)

	volumeMounts := toUnstructured(args.volumeMounts())
	volumes := toUnstructured(args.volumes())
	env := toUnstructured(args.env())
	resources := toUnstructured(args.resources())
	var affinity interface{}
	if a := args.affinity(); a != nil {
		affinity = toUnstructured(a)
	}

	obj := map[string]interface{}{
		"apiVersion": "ray.io/v1",
		"kind":       "RayJob",
		"metadata": map[string]interface{}{
			"namespace":    args.JobNamespace,
			"generateName": args.GenerateName,
			"annotations":  annotations,
		},
		"spec": map[string]interface{}{
			"entrypoint":               entrypoint,
			"shutdownAfterJobFinishes": true,
			"rayClusterSpec": map[string]interface{}{
				"headGroupSpec": map[string]interface{}{
					"serviceType": "NodePort",
					"rayStartParams": map[string]interface{}{
						"dashboard-host": "0.0.0.0",
						// Prevents workloads with CPU requirements from
						// being scheduled on the head. See
						// https://docs.ray.io/en/latest/cluster/kubernetes/user-guides/config.html#num-cpus
						"num-cpus": "0",
					},
					"template": map[string]interface{}{
						"metadata": map[string]interface{}{"annotations": annotations},
						"spec": map[string]interface{}{
							"containers": []interface{}{
								map[string]interface{}{
									"name":  "ray-head",
									"image": args.Image.String(),
									"ports": []interface{}{
										map[string]interface{}{"containerPort": int64(6379), "name": "gcs-server"},
										map[string]interface{}{"containerPort": int64(8265), "name": "dashboard"},
										map[string]interface{}{"containerPort": int64(10001), "name": "client"},
									},
									"volumeMounts": volumeMounts,
									"env":          env,
								},
							},
							"volumes": volumes,
						},
					},
				},
				"workerGroupSpecs": []interface{}{
					map[string]interface{}{
						"replicas":       int64(args.Workers),
						"groupName":      "small-group",
						"rayStartParams": map[string]interface{}{},
						"template": map[string]interface{}{
							"metadata": map[string]interface{}{"annotations": annotations},
							"spec": map[string]interface{}{
								"affinity": affinity,
								"containers": []interface{}{
									map[string]interface{}{
										"name":  "ray-worker",
										"image": args.Image.String(),
										"lifecycle": map[string]interface{}{
											"preStop": map[string]interface{}{
												"exec": map[string]interface{}{
													// Uses bash with a login
													// shell so `ray` on PATH
													// set in .bash_profile is
													// found.
													"command": []interface{}{"/bin/bash", "-lc", "--", "ray stop"},
												},
											},
										},
										"resources":    resources,
										"volumeMounts": volumeMounts,
										"env":          env,
									},
								},
								"volumes": volumes,
							},
						},
					},
				},
			},
			"submitterPodTemplate": map[string]interface{}{
				"metadata": map[string]interface{}{"annotations": annotations},
				"spec": map[string]interface{}{
					"restartPolicy": "Never",
					"containers": []interface{}{
						map[string]interface{}{
							"name":  "ray-job-submitter",
							"image": args.Image.String(),
							// The command must be specified explicitly,
							// otherwise kuberay overwrites it.
							"command": []interface{}{"/bin/bash", "-lc", "--"},
							// The script must not be quoted again: it
							// already contains the quoted entrypoint.
							"args": []interface{}{
								"ray job submit --address=http://$RAY_DASHBOARD_ADDRESS --submission-id=$RAY_JOB_SUBMISSION_ID -- " + entrypoint,
							},
						},
					},
				},
			},
		},
	}

	return &unstructured.Unstructured{Object: obj}
}

func (e *DistributedExecutor) Execute(ctx context.Context, args Args) (Output, error) {
	manifest := rayJobManifest(args)

	handle, err := e.Cluster.CreateRayJob(ctx, args.JobNamespace, manifest)
	if err != nil {
		return Output{}, fmt.Errorf("creating ray job: %w", err)
	}
	e.Log.V(1).Info("created ray job", "namespace", handle.Namespace, "name", handle.Name)

	if err := e.awaitSubmitterJob(ctx, handle.Namespace, handle.Name); err != nil {
		return Output{}, err
	}
	e.Log.Info("created submitter job", "namespace", handle.Namespace, "name", handle.Name)

	podName, err := soleJobPod(ctx, e.Cluster, handle.Namespace, handle.Name, e.Log)
	if err != nil {
		return Output{}, err
	}

	waiter := &lifecycle.Waiter{Pods: e.Cluster, Logs: e.Cluster, Clock: e.clock(), Log: e.Log}
	if err := waiter.WaitAndStream(ctx, handle.Namespace, podName); err != nil {
		return Output{}, fmt.Errorf("waiting on ray job %s/%s: %w", handle.Namespace, handle.Name, err)
	}
	return Output{}, nil
}

// awaitSubmitterJob polls for the Job KubeRay creates for the RayJob's
// submitter, which does not exist immediately after the RayJob itself is
// created.
func (e *DistributedExecutor) awaitSubmitterJob(ctx context.Context, namespace, name string) error {
	e.Log.Info("waiting for submitter job to become available", "namespace", namespace, "name", name)
	deadline := lifecycle.After(e.clock(), lifecycle.RayJobCreationTimeout)
	for {
		_, err := e.Cluster.GetJob(ctx, namespace, name)
		if err == nil {
			return nil
		}
		if !cluster.IsNotFound(err) {
			return fmt.Errorf("checking for submitter job %s/%s: %w", namespace, name, err)
		}
		if !deadline.Sleep(lifecycle.PollingInterval) {
			return fmt.Errorf("deadline exceeded while waiting for submitter job %s/%s to come into existence", namespace, name)
		}
	}
}

func (e *DistributedExecutor) clock() lifecycle.Clock {
	if e.Clock != nil {
		return e.Clock
	}
	return lifecycle.RealClock
}
