// Copyright Contributors to the launch project

package executor

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"

	"github.com/go-logr/logr"

	"github.com/Astera-org/launch/internal/cluster"
	"github.com/Astera-org/launch/internal/lifecycle"
)

// Cluster is the subset of internal/cluster.Client every executor needs.
type Cluster interface {
	lifecycle.PodGetter
	lifecycle.LogFollower
	PodsForJob(ctx context.Context, namespace, jobName string) ([]string, error)
}

// SingleJobCluster additionally creates the typed batch/v1 Job a
// SingleJobExecutor submits.
type SingleJobCluster interface {
	Cluster
	CreateJob(ctx context.Context, namespace string, job *batchv1.Job) (cluster.ResourceHandle, error)
}

// SingleJobExecutor runs the submitted container as a single batch Job
// with exactly one Pod, then follows that Pod's logs.
type SingleJobExecutor struct {
	Cluster SingleJobCluster
	Log     logr.Logger
}

func (e *SingleJobExecutor) Execute(ctx context.Context, args Args) (Output, error) {
	spec := jobSpec(args, nil, args.ContainerArgs)

	handle, err := e.Cluster.CreateJob(ctx, args.JobNamespace, spec)
	if err != nil {
		return Output{}, fmt.Errorf("creating job: %w", err)
	}
	e.Log.Info("created job", "namespace", handle.Namespace, "name", handle.Name)

	podName, err := soleJobPod(ctx, e.Cluster, handle.Namespace, handle.Name, e.Log)
	if err != nil {
		return Output{}, err
	}

	waiter := lifecycle.New(e.Cluster, e.Cluster, e.Log)
	if err := waiter.WaitAndStream(ctx, handle.Namespace, podName); err != nil {
		return Output{}, fmt.Errorf("waiting on job %s/%s: %w", handle.Namespace, handle.Name, err)
	}
	return Output{}, nil
}

// soleJobPod returns the single Pod created for a Job, erroring out if
// there are zero or more than one — launch only ever submits Jobs with
// exactly one Pod, so more than one indicates a retry the Job's
// backoffLimit=0 should have prevented.
func soleJobPod(ctx context.Context, cluster Cluster, namespace, jobName string, log logr.Logger) (string, error) {
	pods, err := cluster.PodsForJob(ctx, namespace, jobName)
	if err != nil {
		return "", fmt.Errorf("listing pods for job %s/%s: %w", namespace, jobName, err)
	}
	for _, name := range pods {
		log.Info("created pod", "namespace", namespace, "name", name)
	}
	switch len(pods) {
	case 0:
		return "", fmt.Errorf("no pods created for job %s/%s", namespace, jobName)
	case 1:
		return pods[0], nil
	default:
		return "", fmt.Errorf("expected a single pod for job %s/%s but found %d, not sure which one to follow logs for", namespace, jobName, len(pods))
	}
}
