// Copyright Contributors to the launch project

package lifecycle

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
)

// PodGetter fetches the current status of one pod. Implemented by
// internal/cluster.Client.
type PodGetter interface {
	GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error)
}

// LogFollower streams a pod's logs until the stream ends.
type LogFollower interface {
	FollowPodLogs(ctx context.Context, namespace, name string) error
}

// BadStatusError is returned when a pod reaches a terminal-but-unavailable
// status other than Unschedulable (which is treated as a warning, not an
// error).
type BadStatusError struct {
	Status *corev1.PodStatus
}

func (e *BadStatusError) Error() string {
	return fmt.Sprintf("pod logs will not become available because it reached status %s", FormatStatus(e.Status))
}

// ErrTimeout is returned when the deadline elapses before a terminal
// observation is made.
var ErrTimeout = fmt.Errorf("deadline exceeded while waiting for pod logs to become available")

// Waiter polls a pod's status until logs are available or a terminal
// failure is observed, then follows its log stream.
type Waiter struct {
	Pods  PodGetter
	Logs  LogFollower
	Clock Clock
	Log   logr.Logger
}

// New returns a Waiter using the real clock.
func New(pods PodGetter, logs LogFollower, log logr.Logger) *Waiter {
	return &Waiter{Pods: pods, Logs: logs, Clock: RealClock, Log: log}
}

// WaitAndStream polls namespace/name until AreLogsAvailable resolves, then
// follows the pod's logs. If the pod is classified Unschedulable, it logs a
// warning and returns nil (the pod is merely queued — this is treated as
// success), matching the resolved Open Question from the upstream
// implementation.
func (w *Waiter) WaitAndStream(ctx context.Context, namespace, name string) error {
	w.Log.Info("waiting for pod logs to become available", "namespace", namespace, "name", name)

	deadline := After(w.Clock, LogAvailabilityTimeout)

	pod, err := w.Pods.GetPod(ctx, namespace, name)
	if err != nil {
		return err
	}
	status := &pod.Status
	w.Log.V(1).Info("pod status", "status", FormatStatus(status))

	for {
		if available, known := AreLogsAvailable(status); known {
			if available {
				break
			}
			if IsUnschedulable(status) {
				w.Log.Info("pod is unschedulable and queued; it will start once the cluster has capacity; ensure requested resources do not exceed what the cluster can offer")
				return nil
			}
			return &BadStatusError{Status: status}
		}

		if !deadline.Sleep(PollingInterval) {
			return ErrTimeout
		}

		pod, err = w.Pods.GetPod(ctx, namespace, name)
		if err != nil {
			return err
		}
		newStatus := &pod.Status
		if FormatStatus(newStatus) != FormatStatus(status) {
			w.Log.V(1).Info("pod status changed", "status", FormatStatus(newStatus))
		}
		status = newStatus
	}

	return w.Logs.FollowPodLogs(ctx, namespace, name)
}
