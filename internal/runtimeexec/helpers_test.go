package runtimeexec

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

func TestResourcesFor(t *testing.T) {
	res, err := ResourcesFor("")
	if err != nil {
		t.Fatalf("ResourcesFor(\"\") err=%v", err)
	}
	if res != computeProfiles["cpu"] {
		t.Fatalf("ResourcesFor(\"\")=%+v, want cpu profile", res)
	}
	res, err = ResourcesFor(" GPU-Fast ")
	if err != nil || res.GPUs != 1 {
		t.Fatalf("ResourcesFor(gpu-fast)=%+v, %v", res, err)
	}
	if _, err := ResourcesFor("tpu"); !errors.Is(err, ErrInvalidJobSpec) {
		t.Fatalf("ResourcesFor(tpu) err=%v, want ErrInvalidJobSpec", err)
	}
}

func TestExecutionName(t *testing.T) {
	if got := executionName("Alice_Exp1", 3, 0); got != "hpo-alice-exp1-3-r0" {
		t.Fatalf("executionName()=%q", got)
	}
	long := executionName(strings.Repeat("a", 100), 12, 2)
	if len(long) > 63 {
		t.Fatalf("len(executionName())=%d, want <= 63", len(long))
	}
	if !strings.HasSuffix(long, "-12-r2") {
		t.Fatalf("executionName()=%q, want restart suffix", long)
	}
	if executionName("s", 1, 0) == executionName("s", 1, 1) {
		t.Fatalf("executionName must differ across restarts")
	}
}

func TestParamArgs(t *testing.T) {
	got := paramArgs(domain.Params{"lr": 0.01, "depth": int64(4), "opt": "adam"})
	want := []string{"--depth=4", "--lr=0.01", "--opt=adam"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("paramArgs()=%v, want %v", got, want)
	}
}

func TestJobEnvReservesPrefix(t *testing.T) {
	env, err := jobEnv(JobSpec{
		SweepID:  "s1",
		TrialID:  2,
		Params:   domain.Params{"x": 1.5},
		NumNodes: 0,
		Env:      map[string]string{"HPO_SWEEP_ID": "spoofed", "hpo_token": "x", "EXTRA": "1"},
	})
	if err != nil {
		t.Fatalf("jobEnv() err=%v", err)
	}
	if env["HPO_SWEEP_ID"] != "s1" {
		t.Fatalf("HPO_SWEEP_ID=%q, want s1", env["HPO_SWEEP_ID"])
	}
	if _, ok := env["hpo_token"]; ok {
		t.Fatalf("reserved key leaked into env")
	}
	if env["EXTRA"] != "1" {
		t.Fatalf("EXTRA=%q, want 1", env["EXTRA"])
	}
	if env["HPO_PARAMS"] != `{"x":1.5}` {
		t.Fatalf("HPO_PARAMS=%q", env["HPO_PARAMS"])
	}
	if env["HPO_NUM_NODES"] != "1" {
		t.Fatalf("HPO_NUM_NODES=%q, want 1", env["HPO_NUM_NODES"])
	}
}

func TestCommandLine(t *testing.T) {
	got := commandLine(JobSpec{Command: []string{"python"}, ScriptPath: "train.py", Args: []string{"--lr=0.1"}})
	want := []string{"python", "train.py", "--lr=0.1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("commandLine()=%v, want %v", got, want)
	}
}
