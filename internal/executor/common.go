// Copyright Contributors to the launch project

// Package executor builds and submits the three workload shapes a job can
// run as — a single batch Job, a Ray worker cluster plus submitter, or a
// Katib hyperparameter-search Experiment — and waits for them to complete.
package executor

import (
	"context"
	"strconv"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/Astera-org/launch/internal/byteunit"
	"github.com/Astera-org/launch/internal/clustercontext"
	"github.com/Astera-org/launch/internal/identity"
	"github.com/Astera-org/launch/internal/imageref"
	"github.com/Astera-org/launch/internal/version"
)

// Annotation keys launch stamps onto every resource it submits.
const (
	AnnotationVersion             = "launch.astera.org/version"
	AnnotationLaunchedByMachine   = "launch.astera.org/launched-by-machine-user"
	AnnotationLaunchedByTailscale = "launch.astera.org/launched-by-tailscale-user"
)

// DatabricksCfgMount is where a mounted .databrickscfg secret is made
// available inside the container.
const DatabricksCfgMount = "/root/.databrickscfg"

const primaryContainerName = "main"

// Args carries everything an Executor needs to build its workload's
// manifests, independent of which shape is chosen.
type Args struct {
	Context           clustercontext.Context
	JobNamespace      string
	GenerateName      string
	MachineUserHost   identity.UserHost
	TailscaleUserHost *identity.UserHost
	Image             imageref.ImageName
	DatabricksCfgName string // empty means no mount
	ContainerArgs     []string
	Workers           uint32
	GPUs              uint32
	GPUMem            *byteunit.Bytes
}

// Output is returned by a successful Executor run. It carries no fields
// today but gives executors room to report resource identities later
// without changing every call site.
type Output struct{}

// Executor runs one workload shape to completion, following its logs until
// the underlying job terminates.
type Executor interface {
	Execute(ctx context.Context, args Args) (Output, error)
}

func (a Args) annotations() map[string]string {
	ann := map[string]string{
		AnnotationVersion:           version.Version,
		AnnotationLaunchedByMachine: a.MachineUserHost.String(),
	}
	if a.TailscaleUserHost != nil {
		ann[AnnotationLaunchedByTailscale] = a.TailscaleUserHost.String()
	}
	return ann
}

func (a Args) volumeMounts() []corev1.VolumeMount {
	if a.DatabricksCfgName == "" {
		return nil
	}
	return []corev1.VolumeMount{{
		Name:      "databrickscfg",
		MountPath: DatabricksCfgMount,
		SubPath:   ".databrickscfg",
		ReadOnly:  true,
	}}
}

func (a Args) volumes() []corev1.Volume {
	if a.DatabricksCfgName == "" {
		return nil
	}
	return []corev1.Volume{{
		Name: "databrickscfg",
		VolumeSource: corev1.VolumeSource{
			Secret: &corev1.SecretVolumeSource{SecretName: a.DatabricksCfgName},
		},
	}}
}

func (a Args) resources() corev1.ResourceRequirements {
	if a.GPUs == 0 {
		return corev1.ResourceRequirements{}
	}
	return corev1.ResourceRequirements{
		Limits: corev1.ResourceList{
			"nvidia.com/gpu": *resource.NewQuantity(int64(a.GPUs), resource.DecimalSI),
		},
	}
}

func (a Args) affinity() *corev1.Affinity {
	if a.GPUMem == nil {
		return nil
	}
	gpuMemMiB := a.GPUMem.Get(byteunit.Mebibyte)
	if gpuMemMiB == 0 {
		return nil
	}
	// Sub 1 so that a user's request for >= X becomes > (X - 1).
	threshold := gpuMemMiB - 1
	return &corev1.Affinity{
		NodeAffinity: &corev1.NodeAffinity{
			RequiredDuringSchedulingIgnoredDuringExecution: &corev1.NodeSelector{
				NodeSelectorTerms: []corev1.NodeSelectorTerm{{
					MatchExpressions: []corev1.NodeSelectorRequirement{{
						Key:      "nvidia.com/gpu.memory",
						Operator: "Gt",
						Values:   []string{strconv.FormatUint(threshold, 10)},
					}},
				}},
			},
		},
	}
}

func (a Args) env() []corev1.EnvVar {
	return []corev1.EnvVar{
		// Suppress warnings from GitPython (used by mlflow) about the git
		// executable not being available.
		{Name: "GIT_PYTHON_REFRESH", Value: "quiet"},
	}
}

// jobSpec builds the common skeleton shared by the single-Job executor and
// the Katib trial template: one "main" container, no retries, a week-long
// TTL after completion.
func jobSpec(args Args, command, containerArgs []string) *batchv1.Job {
	annotations := args.annotations()
	backoffLimit := int32(0)
	ttl := int32(7 * 24 * 3600)

	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: args.GenerateName,
			Namespace:    args.JobNamespace,
			Annotations:  annotations,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Annotations: annotations},
				Spec: corev1.PodSpec{
					Affinity:      args.affinity(),
					RestartPolicy: corev1.RestartPolicyNever,
					Volumes:       args.volumes(),
					Containers: []corev1.Container{{
						Name:         primaryContainerName,
						Image:        args.Image.String(),
						Command:      command,
						Args:         containerArgs,
						Env:          args.env(),
						VolumeMounts: args.volumeMounts(),
						Resources:    args.resources(),
					}},
				},
			},
		},
	}
}
