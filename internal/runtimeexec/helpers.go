package runtimeexec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

type Resources struct {
	CPU    string
	Memory string
	GPUs   int
}

var computeProfiles = map[string]Resources{
	"cpu":            {CPU: "1", Memory: "4Gi"},
	"cpu-small":      {CPU: "2", Memory: "8Gi"},
	"cpu-medium":     {CPU: "8", Memory: "32Gi"},
	"gpu":            {CPU: "4", Memory: "16Gi", GPUs: 1},
	"gpu-fast":       {CPU: "8", Memory: "61Gi", GPUs: 1},
	"gpu-fast-multi": {CPU: "32", Memory: "244Gi", GPUs: 4},
}

// ResourcesFor maps a cloud_compute name to resource hints.
func ResourcesFor(cloudCompute string) (Resources, error) {
	name := strings.ToLower(strings.TrimSpace(cloudCompute))
	if name == "" {
		name = "cpu"
	}
	res, ok := computeProfiles[name]
	if !ok {
		return Resources{}, fmt.Errorf("%w: unknown cloud_compute %q", ErrInvalidJobSpec, cloudCompute)
	}
	return res, nil
}

var nameUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// executionName derives a DNS-1123 label for a trial attempt, unique per
// (sweep, trial, restart).
func executionName(sweepID string, trialID, restartCount int) string {
	suffix := fmt.Sprintf("-%d-r%d", trialID, restartCount)
	base := nameUnsafe.ReplaceAllString(strings.ToLower(sweepID), "-")
	base = strings.Trim(base, "-")
	if limit := 63 - len("hpo-") - len(suffix); len(base) > limit {
		base = strings.TrimRight(base[:limit], "-")
	}
	return "hpo-" + base + suffix
}

// paramArgs renders parameters as sorted --name=value flags.
func paramArgs(params domain.Params) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, "--"+name+"="+formatValue(params[name]))
	}
	return out
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

// jobEnv is the environment every remote trial receives; spec.Env entries
// cannot override it.
func jobEnv(spec JobSpec) (map[string]string, error) {
	params := spec.Params
	if params == nil {
		params = domain.Params{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: encode params: %v", ErrInvalidJobSpec, err)
	}

	env := make(map[string]string, len(spec.Env)+12)
	for k, v := range spec.Env {
		if key := strings.TrimSpace(k); key != "" && !isReservedJobEnvKey(key) {
			env[key] = v
		}
	}
	env["HPO_SWEEP_ID"] = spec.SweepID
	env["HPO_TRIAL_ID"] = strconv.Itoa(spec.TrialID)
	env["HPO_RESTART_COUNT"] = strconv.Itoa(spec.RestartCount)
	env["HPO_PARAMS"] = string(paramsJSON)
	env["HPO_SCRIPT_PATH"] = spec.ScriptPath
	env["HPO_FRAMEWORK"] = spec.Framework
	env["HPO_LOGGER"] = spec.Logger
	env["HPO_MONITOR"] = spec.Monitor
	env["HPO_REQUIREMENTS"] = strings.Join(spec.Requirements, ",")
	env["HPO_NUM_NODES"] = strconv.Itoa(max(spec.NumNodes, 1))
	env["HPO_CODE_URL"] = spec.CodeURL
	env["HPO_REPORT_URL"] = spec.ReportURL
	env["HPO_TOKEN"] = spec.Token
	return env, nil
}

func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isReservedJobEnvKey(key string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(key)), "HPO_")
}

func commandLine(spec JobSpec) []string {
	out := make([]string, 0, len(spec.Command)+1+len(spec.Args))
	out = append(out, spec.Command...)
	out = append(out, spec.ScriptPath)
	return append(out, spec.Args...)
}
