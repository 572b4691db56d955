// Copyright Contributors to the launch project

package lifecycle

import (
	"strings"
	"testing"

	corev1 "k8s.io/api/core/v1"
)

func TestAreLogsAvailable(t *testing.T) {
	cases := []struct {
		name          string
		status        corev1.PodStatus
		wantAvailable bool
		wantKnown     bool
	}{
		{
			name: "unschedulable",
			status: corev1.PodStatus{
				Phase:      corev1.PodPending,
				Conditions: []corev1.PodCondition{{Type: corev1.PodScheduled, Reason: "Unschedulable"}},
			},
			wantAvailable: false, wantKnown: true,
		},
		{
			name: "image pull backoff",
			status: corev1.PodStatus{
				Phase: corev1.PodPending,
				ContainerStatuses: []corev1.ContainerStatus{{
					State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "ImagePullBackOff"}},
				}},
			},
			wantAvailable: false, wantKnown: true,
		},
		{
			name:          "top-level unschedulable reason",
			status:        corev1.PodStatus{Phase: corev1.PodFailed, Reason: "Unschedulable"},
			wantAvailable: false, wantKnown: true,
		},
		{
			name:          "unknown phase",
			status:        corev1.PodStatus{Phase: corev1.PodUnknown},
			wantAvailable: false, wantKnown: true,
		},
		{
			name:          "running but not yet started",
			status:        corev1.PodStatus{Phase: corev1.PodRunning},
			wantAvailable: false, wantKnown: false,
		},
		{
			name:          "running and started",
			status:        corev1.PodStatus{Phase: corev1.PodRunning, Reason: "Started"},
			wantAvailable: true, wantKnown: true,
		},
		{
			name:          "succeeded",
			status:        corev1.PodStatus{Phase: corev1.PodSucceeded},
			wantAvailable: true, wantKnown: true,
		},
		{
			name:          "failed",
			status:        corev1.PodStatus{Phase: corev1.PodFailed},
			wantAvailable: true, wantKnown: true,
		},
		{
			name:          "pending",
			status:        corev1.PodStatus{Phase: corev1.PodPending},
			wantAvailable: false, wantKnown: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			available, known := AreLogsAvailable(&tc.status)
			if available != tc.wantAvailable || known != tc.wantKnown {
				t.Errorf("AreLogsAvailable() = (%v, %v), want (%v, %v)", available, known, tc.wantAvailable, tc.wantKnown)
			}
		})
	}
}

func TestIsUnschedulable(t *testing.T) {
	unschedulable := &corev1.PodStatus{
		Conditions: []corev1.PodCondition{{Type: corev1.PodScheduled, Reason: "Unschedulable"}},
	}
	if !IsUnschedulable(unschedulable) {
		t.Error("expected IsUnschedulable = true")
	}

	scheduled := &corev1.PodStatus{
		Conditions: []corev1.PodCondition{{Type: corev1.PodScheduled, Status: corev1.ConditionTrue}},
	}
	if IsUnschedulable(scheduled) {
		t.Error("expected IsUnschedulable = false")
	}
}

func TestFormatStatus(t *testing.T) {
	status := &corev1.PodStatus{
		Phase:   corev1.PodPending,
		Message: "stuck",
		ContainerStatuses: []corev1.ContainerStatus{{
			Name:  "main",
			Image: "registry.example.com/app:v1",
			State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "ImagePullBackOff", Message: "rate limited"}},
		}},
	}
	got := FormatStatus(status)
	for _, want := range []string{"pending", "stuck", "main", "registry.example.com/app:v1", "waiting", "ImagePullBackOff", "rate limited"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatStatus() = %q, missing %q", got, want)
		}
	}
}
