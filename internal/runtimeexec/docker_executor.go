package runtimeexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type commandRunner func(ctx context.Context, bin string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, bin string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, bin, args...).CombinedOutput()
}

// DockerExecutor runs each trial as a detached container on the local daemon.
type DockerExecutor struct {
	dockerBin string
	network   string
	run       commandRunner
}

func NewDockerExecutor(dockerBin, network string) (*DockerExecutor, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	network = strings.TrimSpace(network)
	if network == "" {
		network = "host"
	}
	return &DockerExecutor{dockerBin: dockerBin, network: network, run: runCommand}, nil
}

func (e *DockerExecutor) Kind() string {
	return "docker"
}

func (e *DockerExecutor) Ping(ctx context.Context) error {
	out, err := e.run(ctx, e.dockerBin, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return fmt.Errorf("docker version failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *DockerExecutor) runArgs(spec JobSpec) ([]string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("%w: docker container name is required", ErrInvalidJobSpec)
	}
	if strings.TrimSpace(spec.ImageRef) == "" {
		return nil, fmt.Errorf("%w: image ref is required", ErrInvalidJobSpec)
	}
	if spec.NumNodes > 1 {
		return nil, fmt.Errorf("%w: docker executor runs single-node trials only (num_nodes=%d)", ErrInvalidJobSpec, spec.NumNodes)
	}
	env, err := jobEnv(spec)
	if err != nil {
		return nil, err
	}

	args := []string{
		"run",
		"--detach",
		"--name", spec.Name,
		"--network", e.network,
		"--label", "hpo.sweep_id=" + spec.SweepID,
		"--label", "hpo.trial_id=" + strconv.Itoa(spec.TrialID),
	}
	for _, key := range sortedEnvKeys(env) {
		args = append(args, "-e", key+"="+env[key])
	}
	if spec.Resources.GPUs > 0 {
		args = append(args, "--gpus", strconv.Itoa(spec.Resources.GPUs))
	}
	if cpu := strings.TrimSpace(spec.Resources.CPU); cpu != "" {
		if parsed, err := strconv.ParseFloat(cpu, 64); err == nil && parsed > 0 {
			args = append(args, "--cpus", strconv.FormatFloat(parsed, 'g', -1, 64))
		}
	}
	if mem := dockerMemory(spec.Resources.Memory); mem != "" {
		args = append(args, "--memory", mem)
	}

	args = append(args, spec.ImageRef)
	return append(args, commandLine(spec)...), nil
}

func (e *DockerExecutor) Submit(ctx context.Context, spec JobSpec) (Execution, error) {
	args, err := e.runArgs(spec)
	if err != nil {
		return Execution{}, err
	}
	out, err := e.run(ctx, e.dockerBin, args...)
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(strings.ToLower(text), "unable to find image") {
			return Execution{}, fmt.Errorf("%w: %s", ErrInvalidJobSpec, text)
		}
		return Execution{}, fmt.Errorf("docker run failed: %w: %s", err, text)
	}
	return Execution{Name: spec.Name, SweepID: spec.SweepID, TrialID: spec.TrialID, Executor: e.Kind()}, nil
}

type dockerInspectState struct {
	Status     string    `json:"Status"`
	ExitCode   int       `json:"ExitCode"`
	OOMKilled  bool      `json:"OOMKilled"`
	FinishedAt time.Time `json:"FinishedAt"`
}

func (e *DockerExecutor) Inspect(ctx context.Context, execution Execution) (Observation, error) {
	name := strings.TrimSpace(execution.Name)
	if name == "" {
		return Observation{}, errors.New("docker container name is required")
	}

	out, err := e.run(ctx, e.dockerBin, "inspect", "--format", "{{json .State}}", name)
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "No such object") || strings.Contains(text, "not found") {
			return Observation{Status: StatusFailed, Message: "container_not_found"}, nil
		}
		return Observation{}, fmt.Errorf("docker inspect failed: %w: %s", err, text)
	}

	var state dockerInspectState
	if err := json.Unmarshal(out, &state); err != nil {
		return Observation{}, fmt.Errorf("parse docker inspect: %w", err)
	}

	status := StatusPending
	message := strings.TrimSpace(state.Status)
	switch strings.ToLower(message) {
	case "running", "restarting", "paused":
		status = StatusRunning
	case "exited", "dead":
		status = StatusFailed
		if state.ExitCode == 0 && !state.OOMKilled {
			status = StatusSucceeded
		} else if state.OOMKilled {
			message = "oom_killed"
		}
	}

	return Observation{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"docker_container": name,
			"exit_code":        state.ExitCode,
			"finished_at":      state.FinishedAt,
		},
	}, nil
}

func (e *DockerExecutor) Stop(ctx context.Context, execution Execution) error {
	name := strings.TrimSpace(execution.Name)
	if name == "" {
		return errors.New("docker container name is required")
	}
	out, err := e.run(ctx, e.dockerBin, "rm", "--force", name)
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "No such container") {
			return nil
		}
		return fmt.Errorf("docker rm failed: %w: %s", err, text)
	}
	return nil
}

// dockerMemory converts Kubernetes quantities (4Gi) to docker units (4g).
func dockerMemory(q string) string {
	q = strings.TrimSpace(q)
	for suffix, unit := range map[string]string{"Gi": "g", "Mi": "m", "Ki": "k"} {
		if n, ok := strings.CutSuffix(q, suffix); ok {
			return n + unit
		}
	}
	return q
}
