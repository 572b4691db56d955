// Copyright Contributors to the launch project

package lifecycle

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

// IsUnschedulable reports whether the pod carries a PodScheduled condition
// with reason=Unschedulable. The condition's status is not checked.
func IsUnschedulable(status *corev1.PodStatus) bool {
	for _, cond := range status.Conditions {
		if cond.Type == corev1.PodScheduled && cond.Reason == "Unschedulable" {
			return true
		}
	}
	return false
}

func cannotPullImage(cs corev1.ContainerStatus) bool {
	if cs.State.Waiting == nil {
		return false
	}
	switch cs.State.Waiting.Reason {
	case "ErrImagePull", "ImagePullBackOff":
		return true
	default:
		return false
	}
}

// AreLogsAvailable returns (available, known): known is false while the
// state is still ambiguous and the caller should keep polling.
//
// Precedence, most specific first:
//  1. Unschedulable                                      -> false, true
//  2. any container Waiting{ErrImagePull|ImagePullBackOff} -> false, true
//  3. reason == "Unschedulable"                           -> false, true
//  4. phase == Unknown                                    -> false, true
//  5. phase == Running with pod reason == "Started",
//     or phase in {Succeeded, Failed}                     -> true, true
//  6. otherwise (Pending, ContainerCreating, early Running) -> _, false
func AreLogsAvailable(status *corev1.PodStatus) (available, known bool) {
	if IsUnschedulable(status) {
		return false, true
	}

	for _, cs := range status.ContainerStatuses {
		if cannotPullImage(cs) {
			return false, true
		}
	}

	if status.Reason == "Unschedulable" {
		return false, true
	}
	if status.Phase == corev1.PodUnknown {
		return false, true
	}

	switch status.Phase {
	case corev1.PodRunning:
		if status.Reason == "Started" {
			return true, true
		}
		return false, false
	case corev1.PodSucceeded, corev1.PodFailed:
		return true, true
	default:
		return false, false
	}
}

// FormatStatus renders a single-line human summary of status, used for
// debug logging and bad-status errors.
func FormatStatus(status *corev1.PodStatus) string {
	var sb strings.Builder
	sb.WriteString(strings.ToLower(string(status.Phase)))
	if status.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(status.Message)
	}
	for _, cond := range status.Conditions {
		fmt.Fprintf(&sb, ", condition %s", cond.Type)
		if cond.Reason != "" {
			fmt.Fprintf(&sb, " %s", cond.Reason)
		}
		if cond.Message != "" {
			fmt.Fprintf(&sb, ": %s", cond.Message)
		}
	}
	for _, cs := range status.ContainerStatuses {
		stateName, reason, message := containerStateSummary(cs.State)
		fmt.Fprintf(&sb, ", container %q using image %q is %s", cs.Name, cs.Image, stateName)
		if reason != "" {
			fmt.Fprintf(&sb, " because %s", reason)
		}
		if message != "" {
			fmt.Fprintf(&sb, ": %s", message)
		}
	}
	return sb.String()
}

func containerStateSummary(state corev1.ContainerState) (name, reason, message string) {
	switch {
	case state.Waiting != nil:
		return "waiting", state.Waiting.Reason, state.Waiting.Message
	case state.Running != nil:
		return "running", "", ""
	case state.Terminated != nil:
		return "terminated", state.Terminated.Reason, state.Terminated.Message
	default:
		return "unknown", "", ""
	}
}
