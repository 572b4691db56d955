// Copyright Contributors to the launch project

package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/Astera-org/launch/internal/cluster"
	"github.com/Astera-org/launch/internal/clustercontext"
	"github.com/Astera-org/launch/internal/katib"
	"github.com/Astera-org/launch/internal/lifecycle"
)

// experimentNameMaxLen avoids https://github.com/kubeflow/katib/issues/2454,
// which breaks at longer generated names.
const experimentNameMaxLen = 40

const tensorboardDir = "/var/log/katib/tfevent/"
const tensorboardDirFlag = "--tensorboard_dir"

// Prefixed to minimize clashes with user-defined parameter names.
const (
	launchKatibTrialName = "__launchKatibTrialName"
	launchKatibNamespace = "__launchKatibNamespace"
)

// sanitizeParamName replaces '.', which Katib's template substitution
// treats specially, with a sequence that cannot collide with it.
func sanitizeParamName(name string) string {
	return strings.ReplaceAll(name, ".", "__")
}

// ExperimentCluster is the cluster surface ExperimentExecutor needs.
type ExperimentCluster interface {
	CreateKatibExperiment(ctx context.Context, namespace string, obj *unstructured.Unstructured) (cluster.ResourceHandle, error)
	GetKatibExperiment(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error)
}

// ExperimentExecutor runs the submitted container as a Katib hyperparameter
// search: one trial Job template per parameter combination Katib's
// algorithm selects.
type ExperimentExecutor struct {
	Cluster ExperimentCluster
	Spec    katib.ExperimentSpec
	Clock   lifecycle.Clock
	Log     logr.Logger
}

func trialSpec(spec katib.ExperimentSpec, args Args) *unstructured.Unstructured {
	containerArgs := make([]string, 0, len(args.ContainerArgs)+len(spec.Parameters)+2)
	containerArgs = append(containerArgs, args.ContainerArgs...)
	for _, p := range spec.Parameters {
		// The unsanitized name is used in the flag; the sanitized name is
		// used in the substitution reference so Katib's templating can
		// match it.
		containerArgs = append(containerArgs, fmt.Sprintf("--%s=${trialParameters.%s}", p.Name, sanitizeParamName(p.Name)))
	}
	containerArgs = append(containerArgs, tensorboardDirFlag, tensorboardDir)

	job := jobSpec(args, nil, containerArgs)
	// Katib does not allow metadata in the trial spec.
	job.ObjectMeta = metav1.ObjectMeta{}

	job.Spec.Template.Spec.Containers[0].Env = append(job.Spec.Template.Spec.Containers[0].Env,
		corev1.EnvVar{Name: "KATIB_BASE_URL", Value: args.Context.KatibURL()},
		corev1.EnvVar{Name: "KATIB_TRIAL_NAME", Value: fmt.Sprintf("${trialParameters.%s}", launchKatibTrialName)},
		corev1.EnvVar{Name: "KATIB_NAMESPACE", Value: fmt.Sprintf("${trialParameters.%s}", launchKatibNamespace)},
	)

	return &unstructured.Unstructured{Object: toUnstructured(job).(map[string]interface{})}
}

func feasibleSpaceManifest(fs katib.FeasibleSpace) map[string]interface{} {
	switch fs.Kind {
	case katib.FeasibleSpaceDouble, katib.FeasibleSpaceInt:
		return map[string]interface{}{
			"min": fmt.Sprintf("%v", fs.Min),
			"max": fmt.Sprintf("%v", fs.Max),
		}
	case katib.FeasibleSpaceDiscrete:
		list := make([]interface{}, len(fs.DiscreteList))
		for i, v := range fs.DiscreteList {
			list[i] = fmt.Sprintf("%v", v)
		}
		return map[string]interface{}{"list": list}
	case katib.FeasibleSpaceCategorical:
		list := make([]interface{}, len(fs.CategoricalList))
		for i, v := range fs.CategoricalList {
			list[i] = v
		}
		return map[string]interface{}{"list": list}
	default:
		panic(fmt.Sprintf("executor: unknown feasible space kind %q", fs.Kind))
	}
}

func experimentManifest(spec katib.ExperimentSpec, args Args) *unstructured.Unstructured {
	generateName := args.GenerateName
	if len(generateName) > experimentNameMaxLen {
		generateName = generateName[:experimentNameMaxLen]
	}

	parameters := make([]interface{}, len(spec.Parameters))
	trialParameters := make([]interface{}, 0, len(spec.Parameters)+2)
	for i, p := range spec.Parameters {
		sanitized := sanitizeParamName(p.Name)
		parameters[i] = map[string]interface{}{
			"name":          sanitized,
			"parameterType": p.FeasibleSpace.ParameterTypeString(),
			"feasibleSpace": feasibleSpaceManifest(p.FeasibleSpace),
		}
		trialParameters = append(trialParameters, map[string]interface{}{
			"name":      sanitized,
			"reference": sanitized,
		})
	}
	trialParameters = append(trialParameters,
		map[string]interface{}{"name": launchKatibTrialName, "reference": "${trialSpec.Name}"},
		map[string]interface{}{"name": launchKatibNamespace, "reference": "${trialSpec.Namespace}"},
	)

	objective := map[string]interface{}{
		"type":                string(spec.Objective.Type),
		"objectiveMetricName": spec.Objective.ObjectiveMetricName,
	}
	if spec.Objective.Goal != nil {
		objective["goal"] = *spec.Objective.Goal
	}
	if len(spec.Objective.AdditionalMetricNames) > 0 {
		objective["additionalMetricNames"] = toUnstructured(spec.Objective.AdditionalMetricNames)
	}
	if len(spec.Objective.MetricStrategies) > 0 {
		strategies := make([]interface{}, len(spec.Objective.MetricStrategies))
		for i, s := range spec.Objective.MetricStrategies {
			strategies[i] = map[string]interface{}{"name": s.Name, "value": string(s.Value)}
		}
		objective["metricStrategies"] = strategies
	}

	algorithm := map[string]interface{}{"algorithmName": spec.Algorithm.AlgorithmName}
	if len(spec.Algorithm.AlgorithmSettings) > 0 {
		settings := make([]interface{}, len(spec.Algorithm.AlgorithmSettings))
		for i, s := range spec.Algorithm.AlgorithmSettings {
			settings[i] = map[string]interface{}{"name": s.Name, "value": s.Value}
		}
		algorithm["algorithmSettings"] = settings
	}

	trial := trialSpec(spec, args)

	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "kubeflow.org/v1beta1",
		"kind":       "Experiment",
		"metadata": map[string]interface{}{
			"generateName": generateName,
			"namespace":    args.JobNamespace,
			"annotations":  args.annotations(),
		},
		"spec": map[string]interface{}{
			"objective": objective,
			"algorithm": algorithm,
			"metricsCollectorSpec": map[string]interface{}{
				"collector": map[string]interface{}{"kind": "TensorFlowEvent"},
				"source": map[string]interface{}{
					"fileSystemPath": map[string]interface{}{
						"path": tensorboardDir,
						"kind": "Directory",
					},
				},
			},
			"parallelTrialCount":  int64(spec.ParallelTrialCount),
			"maxTrialCount":       int64(spec.MaxTrialCount),
			"maxFailedTrialCount": int64(spec.MaxFailedTrialCount),
			"parameters":          parameters,
			"trialTemplate": map[string]interface{}{
				"primaryContainerName": primaryContainerName,
				"trialSpec":            trial.Object,
				"trialParameters":      trialParameters,
				"retain":               true,
			},
		},
	}}
}

func (e *ExperimentExecutor) Execute(ctx context.Context, args Args) (Output, error) {
	if len(args.GenerateName) > experimentNameMaxLen {
		e.Log.Info("truncating experiment name", "maxLength", experimentNameMaxLen)
	}
	manifest := experimentManifest(e.Spec, args)

	handle, err := e.Cluster.CreateKatibExperiment(ctx, args.JobNamespace, manifest)
	if err != nil {
		return Output{}, fmt.Errorf("creating katib experiment: %w", err)
	}
	experimentURL := experimentURL(args.Context, handle.Namespace, handle.Name)
	e.Log.Info("created experiment", "url", experimentURL)

	trialStates := map[string]trialState{}
	clock := e.Clock
	if clock == nil {
		clock = lifecycle.RealClock
	}

	for {
		experiment, err := e.Cluster.GetKatibExperiment(ctx, handle.Namespace, handle.Name)
		if err != nil {
			return Output{}, fmt.Errorf("getting katib experiment %s/%s: %w", handle.Namespace, handle.Name, err)
		}

		status, found, err := unstructured.NestedMap(experiment.Object, "status")
		if err != nil {
			return Output{}, fmt.Errorf("reading katib experiment status: %w", err)
		}
		if found {
			e.logTrialStateChanges(args.Context, handle.Namespace, handle.Name, trialStates, status)

			if terminal, message, ok := terminalExperimentStatus(status, e.Log); ok {
				if terminal == "Succeeded" {
					e.Log.Info("successfully completed experiment", "url", experimentURL)
				} else {
					e.Log.Error(fmt.Errorf("%s", message), "failed to complete experiment", "url", experimentURL)
				}
				break
			}
		}

		clock.Sleep(lifecycle.PollingInterval)
	}

	return Output{}, nil
}

type trialState int

const (
	trialSucceeded trialState = iota
	trialFailed
	trialKilled
	trialEarlyStopped
	trialMetricsUnavailable
	trialPending
	trialRunning
)

// trialListOrder determines when events print: completions are printed
// before the starts of new trials, for a more chronological ordering.
var trialListOrder = []struct {
	key   string
	state trialState
}{
	{"succeededTrialList", trialSucceeded},
	{"failedTrialList", trialFailed},
	{"killedTrialList", trialKilled},
	{"earlyStoppedTrialList", trialEarlyStopped},
	{"metricsUnavailableTrialList", trialMetricsUnavailable},
	{"pendingTrialList", trialPending},
	{"runningTrialList", trialRunning},
}

func (e *ExperimentExecutor) logTrialStateChanges(ctxName clustercontext.Context, namespace, experimentName string, trialToState map[string]trialState, status map[string]interface{}) {
	for _, entry := range trialListOrder {
		names, _, _ := unstructured.NestedStringSlice(status, entry.key)
		for _, trialName := range names {
			prevState, hadPrev := trialToState[trialName]
			trialToState[trialName] = entry.state
			if hadPrev && prevState == entry.state {
				continue
			}

			trialURL := trialURL(ctxName, namespace, experimentName, trialName)
			trialJobURL := trialJobURL(ctxName, namespace, trialName)
			switch entry.state {
			case trialPending:
				e.Log.Info("awaiting pending trial", "url", trialURL)
			case trialRunning:
				e.Log.Info("running trial", "url", trialURL)
			case trialFailed:
				e.Log.Error(nil, "failed trial", "url", trialURL, "logs", trialJobURL)
			case trialKilled:
				e.Log.Error(nil, "killed trial", "url", trialURL, "logs", trialJobURL)
			case trialEarlyStopped:
				e.Log.Info("early-stopped trial", "url", trialURL)
			case trialSucceeded:
				e.Log.Info("successfully completed trial", "url", trialURL)
			case trialMetricsUnavailable:
				e.Log.Error(nil, "metrics unavailable for trial", "url", trialURL, "logs", trialJobURL)
			}
		}
	}
}

// terminalExperimentStatus inspects the last condition recorded on the
// experiment's status. ok is false while the experiment is still running.
func terminalExperimentStatus(status map[string]interface{}, log logr.Logger) (kind, message string, ok bool) {
	conditions, _, _ := unstructured.NestedSlice(status, "conditions")
	if len(conditions) == 0 {
		return "", "", false
	}
	last, ok := conditions[len(conditions)-1].(map[string]interface{})
	if !ok {
		return "", "", false
	}
	condType, _, _ := unstructured.NestedString(last, "type")
	switch condType {
	case "Succeeded":
		return "Succeeded", "", true
	case "Failed":
		msg, _, _ := unstructured.NestedString(last, "message")
		return "Failed", msg, true
	case "Created", "Running":
		return "", "", false
	default:
		log.Info("unknown status condition type on katib experiment", "type", condType)
		return "", "", false
	}
}

func experimentURL(ctx clustercontext.Context, namespace, name string) string {
	return fmt.Sprintf("%s/katib/experiment/%s/%s", ctx.KatibURL(), namespace, name)
}

func trialURL(ctx clustercontext.Context, namespace, experimentName, trialName string) string {
	return fmt.Sprintf("%s/katib/experiment/%s/%s/trial/%s", ctx.KatibURL(), namespace, experimentName, trialName)
}

func trialJobURL(ctx clustercontext.Context, namespace, trialName string) string {
	return fmt.Sprintf("%s/c/main/jobs/%s/%s", ctx.HeadlampURL(), namespace, trialName)
}
