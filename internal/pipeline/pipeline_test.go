// Copyright Contributors to the launch project

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	fakeclientset "k8s.io/client-go/kubernetes/fake"

	"github.com/Astera-org/launch/internal/cluster"
	"github.com/Astera-org/launch/internal/katib"
)

func TestRandomTag(t *testing.T) {
	tag, err := randomTag("alice")
	if err != nil {
		t.Fatalf("randomTag: %v", err)
	}
	if got, want := tag[:6], "alice-"; got != want {
		t.Errorf("randomTag prefix = %q, want %q", got, want)
	}
	if len(tag) != len("alice-")+8 {
		t.Errorf("randomTag length = %d, want %d", len(tag), len("alice-")+8)
	}

	anon, err := randomTag("")
	if err != nil {
		t.Fatalf("randomTag: %v", err)
	}
	if len(anon) != 8 {
		t.Errorf("anonymous randomTag length = %d, want 8", len(anon))
	}
}

func TestComputeGenerateName(t *testing.T) {
	cases := []struct {
		name       string
		namePrefix string
		userLabel  string
		kind       executorKind
		want       string
	}{
		{"explicit prefix wins", "myprefix", "alice", executorSingleJob, "myprefix-"},
		{"falls back to user", "", "alice", executorDistributed, "alice-"},
		{"single job fallback", "", "", executorSingleJob, "job-"},
		{"distributed fallback", "", "", executorDistributed, "ray-job-"},
		{"experiment fallback", "", "", executorExperiment, "katib-"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := computeGenerateName(tc.namePrefix, tc.userLabel, tc.kind)
			if got != tc.want {
				t.Errorf("computeGenerateName(%q, %q, %v) = %q, want %q", tc.namePrefix, tc.userLabel, tc.kind, got, tc.want)
			}
		})
	}
}

func TestSelectExecutorKind(t *testing.T) {
	spec := &katib.ExperimentSpec{}
	if got := selectExecutorKind(spec, 4, logr.Discard()); got != executorExperiment {
		t.Errorf("with a spec, got %v, want executorExperiment", got)
	}
	if got := selectExecutorKind(nil, 4, logr.Discard()); got != executorDistributed {
		t.Errorf("with workers>1, got %v, want executorDistributed", got)
	}
	if got := selectExecutorKind(nil, 1, logr.Discard()); got != executorSingleJob {
		t.Errorf("with workers=1, got %v, want executorSingleJob", got)
	}
	if got := selectExecutorKind(nil, 0, logr.Discard()); got != executorSingleJob {
		t.Errorf("with workers=0, got %v, want executorSingleJob", got)
	}
}

func TestStageDatabricksCfgOmit(t *testing.T) {
	cl := &cluster.Client{Typed: fakeclientset.NewSimpleClientset(), Log: logr.Discard()}
	name, err := stageDatabricksCfg(context.Background(), cl, Options{DatabricksCfgMode: DatabricksCfgOmit}, "alice", logr.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "" {
		t.Errorf("secret name = %q, want empty", name)
	}
}

func TestStageDatabricksCfgAutoMissingFileWarnsOnly(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cl := &cluster.Client{Typed: fakeclientset.NewSimpleClientset(), Log: logr.Discard()}
	name, err := stageDatabricksCfg(context.Background(), cl, Options{DatabricksCfgMode: DatabricksCfgAuto, JobNamespace: "default"}, "alice", logr.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "" {
		t.Errorf("secret name = %q, want empty", name)
	}
}

func TestStageDatabricksCfgRequireMissingFileErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cl := &cluster.Client{Typed: fakeclientset.NewSimpleClientset(), Log: logr.Discard()}
	if _, err := stageDatabricksCfg(context.Background(), cl, Options{DatabricksCfgMode: DatabricksCfgRequire, JobNamespace: "default"}, "alice", logr.Discard()); err == nil {
		t.Error("expected error when the credentials file is required but missing")
	}
}

func TestStageDatabricksCfgStagesSecret(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.WriteFile(filepath.Join(home, ".databrickscfg"), []byte("[DEFAULT]\nhost = example\n"), 0o600); err != nil {
		t.Fatalf("writing stub credentials file: %v", err)
	}

	cl := &cluster.Client{Typed: fakeclientset.NewSimpleClientset(), Log: logr.Discard()}
	name, err := stageDatabricksCfg(context.Background(), cl, Options{DatabricksCfgMode: DatabricksCfgAuto, JobNamespace: "default"}, "alice", logr.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "databrickscfg-alice"; name != want {
		t.Errorf("secret name = %q, want %q", name, want)
	}

	secret, err := cl.Typed.CoreV1().Secrets("default").Get(context.Background(), name, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("fetching staged secret: %v", err)
	}
	if string(secret.Data[".databrickscfg"]) != "[DEFAULT]\nhost = example\n" {
		t.Errorf("staged secret contents = %q", secret.Data[".databrickscfg"])
	}
}
