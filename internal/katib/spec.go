// Copyright Contributors to the launch project

// Package katib defines the user-facing Katib experiment specification file
// format accepted by `launch submit --katib`. It is a
// deliberately narrower shape than the full Katib CRD spec: it exists so
// that launch can generate clear validation errors before ever touching the
// cluster, and so the rest of the program never has to reason about fields
// it does not set itself (notably trialTemplate, which launch always
// constructs).
package katib

import (
	"encoding/json"
	"fmt"

	"sigs.k8s.io/yaml"
)

// ObjectiveType is Katib's optimization direction.
type ObjectiveType string

const (
	ObjectiveMinimize ObjectiveType = "minimize"
	ObjectiveMaximize ObjectiveType = "maximize"
)

// MetricStrategyType controls how Katib aggregates a metric's reported
// values across a trial's lifetime.
type MetricStrategyType string

const (
	MetricStrategyMin    MetricStrategyType = "min"
	MetricStrategyMax    MetricStrategyType = "max"
	MetricStrategyLatest MetricStrategyType = "latest"
)

type MetricStrategy struct {
	Name  string             `json:"name"`
	Value MetricStrategyType `json:"value"`
}

type Objective struct {
	Type                  ObjectiveType    `json:"type"`
	Goal                  *float64         `json:"goal,omitempty"`
	ObjectiveMetricName   string           `json:"objectiveMetricName"`
	AdditionalMetricNames []string         `json:"additionalMetricNames,omitempty"`
	MetricStrategies      []MetricStrategy `json:"metricStrategies,omitempty"`
}

type AlgorithmSetting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Algorithm struct {
	AlgorithmName     string             `json:"algorithmName"`
	AlgorithmSettings []AlgorithmSetting `json:"algorithmSettings,omitempty"`
}

// FeasibleSpaceKind mirrors Katib's parameterType values.
type FeasibleSpaceKind string

const (
	FeasibleSpaceDouble      FeasibleSpaceKind = "double"
	FeasibleSpaceInt         FeasibleSpaceKind = "int"
	FeasibleSpaceDiscrete    FeasibleSpaceKind = "discrete"
	FeasibleSpaceCategorical FeasibleSpaceKind = "categorical"
)

// FeasibleSpace is a tagged union over Katib's four parameter search-space
// shapes. Exactly one field group is populated, matching Kind.
type FeasibleSpace struct {
	Kind FeasibleSpaceKind

	// Double, Int
	Min float64
	Max float64

	// Discrete
	DiscreteList []float64

	// Categorical
	CategoricalList []string
}

// ParameterTypeString renders the Katib-expected parameterType value.
func (fs FeasibleSpace) ParameterTypeString() string { return string(fs.Kind) }

type rawFeasibleSpace struct {
	Min  *float64        `json:"min,omitempty"`
	Max  *float64        `json:"max,omitempty"`
	List json.RawMessage `json:"list,omitempty"`
}

// unmarshalWithKind enforces the same field combinations the upstream
// implementation enforces via its serde tagging: min/max for double and
// int, list for discrete and categorical, nothing else.
func (fs *FeasibleSpace) unmarshalWithKind(kind FeasibleSpaceKind, data []byte) error {
	var raw rawFeasibleSpace
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing feasibleSpace: %w", err)
	}
	hasList := len(raw.List) > 0

	switch kind {
	case FeasibleSpaceDouble, FeasibleSpaceInt:
		if raw.Min == nil || raw.Max == nil || hasList {
			return fmt.Errorf("feasibleSpace for parameterType %q requires exactly min and max", kind)
		}
		fs.Kind = kind
		fs.Min = *raw.Min
		fs.Max = *raw.Max
	case FeasibleSpaceDiscrete:
		if !hasList || raw.Min != nil || raw.Max != nil {
			return fmt.Errorf("feasibleSpace for parameterType %q requires exactly list", kind)
		}
		var values []float64
		if err := json.Unmarshal(raw.List, &values); err != nil {
			return fmt.Errorf("discrete list must contain only numbers: %w", err)
		}
		fs.Kind = kind
		fs.DiscreteList = values
	case FeasibleSpaceCategorical:
		if !hasList || raw.Min != nil || raw.Max != nil {
			return fmt.Errorf("feasibleSpace for parameterType %q requires exactly list", kind)
		}
		var values []string
		if err := json.Unmarshal(raw.List, &values); err != nil {
			return fmt.Errorf("categorical list must contain only strings: %w", err)
		}
		fs.Kind = kind
		fs.CategoricalList = values
	default:
		return fmt.Errorf("unknown parameterType %q", kind)
	}
	return nil
}

type Parameter struct {
	Name          string
	FeasibleSpace FeasibleSpace
}

type rawParameter struct {
	Name          string          `json:"name"`
	ParameterType FeasibleSpaceKind `json:"parameterType"`
	FeasibleSpace json.RawMessage `json:"feasibleSpace"`
}

func (p *Parameter) UnmarshalJSON(data []byte) error {
	var raw rawParameter
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing parameter: %w", err)
	}
	if raw.Name == "" {
		return fmt.Errorf("parameter is missing a name")
	}
	var fs FeasibleSpace
	if err := fs.unmarshalWithKind(raw.ParameterType, raw.FeasibleSpace); err != nil {
		return fmt.Errorf("parameter %q: %w", raw.Name, err)
	}
	p.Name = raw.Name
	p.FeasibleSpace = fs
	return nil
}

// ExperimentSpec is the contents of a `launch submit --katib`
// file. It deliberately omits trialTemplate: launch always constructs the
// trial spec itself, wiring in the submitted container image and its
// arguments.
type ExperimentSpec struct {
	Objective            Objective   `json:"objective"`
	Algorithm             Algorithm   `json:"algorithm"`
	ParallelTrialCount    int32       `json:"parallelTrialCount"`
	MaxTrialCount         int32       `json:"maxTrialCount"`
	MaxFailedTrialCount   uint16      `json:"maxFailedTrialCount,omitempty"`
	Parameters            []Parameter `json:"parameters"`
}

const defaultMaxFailedTrialCount = 1

// UnmarshalJSON applies the same default and non-empty-parameters
// validation as the upstream spec type, and rejects a trialTemplate key.
func (e *ExperimentSpec) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if _, ok := fields["trialTemplate"]; ok {
		return fmt.Errorf("trialTemplate must not be set: launch constructs the trial template itself")
	}
	type alias ExperimentSpec
	aux := alias{MaxFailedTrialCount: defaultMaxFailedTrialCount}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Parameters) == 0 {
		return fmt.Errorf("parameters must not be empty")
	}
	*e = ExperimentSpec(aux)
	return nil
}

// ParseFile parses a YAML-encoded ExperimentSpec, producing an error
// suitable for direct display to the user, pointing them at --help.
func ParseFile(content []byte) (ExperimentSpec, error) {
	var spec ExperimentSpec
	if err := yaml.Unmarshal(content, &spec); err != nil {
		return ExperimentSpec{}, fmt.Errorf("failed to parse Katib experiment spec file: %w\nsee `launch submit --help` for format", err)
	}
	return spec, nil
}
