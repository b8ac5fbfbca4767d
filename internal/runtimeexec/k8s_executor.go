package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/animus-labs/animus-hpo/internal/platform/k8s"
)

type jobClient interface {
	Namespace() string
	CreateJob(ctx context.Context, namespace string, job k8s.Job) error
	GetJob(ctx context.Context, namespace string, name string) (k8s.Job, error)
	DeleteJob(ctx context.Context, namespace string, name string) error
	Ping(ctx context.Context) error
}

// KubernetesJobExecutor runs each trial as a batch/v1 Job; num_nodes > 1
// becomes job parallelism.
type KubernetesJobExecutor struct {
	client            jobClient
	namespace         string
	jobTTLSeconds     int32
	jobServiceAccount string
}

func NewKubernetesJobExecutor(client *k8s.Client, namespace string, jobTTLSeconds int32, jobServiceAccount string) (*KubernetesJobExecutor, error) {
	if client == nil {
		return nil, errors.New("k8s client is required")
	}
	return newKubernetesJobExecutor(client, namespace, jobTTLSeconds, jobServiceAccount)
}

func newKubernetesJobExecutor(client jobClient, namespace string, jobTTLSeconds int32, jobServiceAccount string) (*KubernetesJobExecutor, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = strings.TrimSpace(client.Namespace())
	}
	if namespace == "" {
		return nil, errors.New("trial namespace is required")
	}
	if jobTTLSeconds < 0 {
		return nil, errors.New("job ttl must be non-negative")
	}
	return &KubernetesJobExecutor{
		client:            client,
		namespace:         namespace,
		jobTTLSeconds:     jobTTLSeconds,
		jobServiceAccount: strings.TrimSpace(jobServiceAccount),
	}, nil
}

func (e *KubernetesJobExecutor) Kind() string {
	return "kubernetes_job"
}

func (e *KubernetesJobExecutor) Ping(ctx context.Context) error {
	return e.client.Ping(ctx)
}

func (e *KubernetesJobExecutor) job(spec JobSpec) (k8s.Job, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return k8s.Job{}, fmt.Errorf("%w: k8s job name is required", ErrInvalidJobSpec)
	}
	if strings.TrimSpace(spec.ImageRef) == "" {
		return k8s.Job{}, fmt.Errorf("%w: image ref is required", ErrInvalidJobSpec)
	}
	env, err := jobEnv(spec)
	if err != nil {
		return k8s.Job{}, err
	}

	labels := map[string]string{
		"app.kubernetes.io/name":      "animus-hpo",
		"app.kubernetes.io/component": "trial",
		"hpo.sweep_id":                labelValue(spec.SweepID),
		"hpo.trial_id":                strconv.Itoa(spec.TrialID),
	}

	container := k8s.Container{
		Name:  "trial",
		Image: spec.ImageRef,
		Args:  commandLine(spec),
	}
	for _, key := range sortedEnvKeys(env) {
		container.Env = append(container.Env, k8s.EnvVar{Name: key, Value: env[key]})
	}
	applyResourceHints(&container, spec.Resources)

	podSpec := k8s.PodSpec{
		RestartPolicy:      "Never",
		ServiceAccountName: e.jobServiceAccount,
		Containers:         []k8s.Container{container},
	}

	backoff := int32(0)
	nodes := int32(max(spec.NumNodes, 1))
	var ttl *int32
	if e.jobTTLSeconds > 0 {
		ttl = &e.jobTTLSeconds
	}
	return k8s.Job{
		Metadata: k8s.ObjectMeta{
			Name:      spec.Name,
			Namespace: e.namespace,
			Labels:    labels,
		},
		Spec: k8s.JobSpec{
			BackoffLimit:            &backoff,
			Completions:             &nodes,
			Parallelism:             &nodes,
			TTLSecondsAfterFinished: ttl,
			Template: k8s.PodTemplateSpec{
				Metadata: k8s.ObjectMeta{Labels: labels},
				Spec:     podSpec,
			},
		},
	}, nil
}

func (e *KubernetesJobExecutor) Submit(ctx context.Context, spec JobSpec) (Execution, error) {
	job, err := e.job(spec)
	if err != nil {
		return Execution{}, err
	}
	err = e.client.CreateJob(ctx, e.namespace, job)
	if err != nil && !errors.Is(err, k8s.ErrAlreadyExists) {
		return Execution{}, err
	}
	return Execution{
		Name:      spec.Name,
		SweepID:   spec.SweepID,
		TrialID:   spec.TrialID,
		Executor:  e.Kind(),
		Namespace: e.namespace,
	}, nil
}

func (e *KubernetesJobExecutor) Inspect(ctx context.Context, execution Execution) (Observation, error) {
	namespace := strings.TrimSpace(execution.Namespace)
	if namespace == "" {
		namespace = e.namespace
	}
	jobName := strings.TrimSpace(execution.Name)
	if jobName == "" {
		return Observation{}, errors.New("k8s job name is required")
	}

	job, err := e.client.GetJob(ctx, namespace, jobName)
	if err != nil {
		if errors.Is(err, k8s.ErrNotFound) {
			return Observation{Status: StatusFailed, Message: "job_not_found"}, nil
		}
		return Observation{}, err
	}

	phase, message := job.Status.Phase()
	status := map[string]string{
		"pending":  StatusPending,
		"running":  StatusRunning,
		"complete": StatusSucceeded,
		"failed":   StatusFailed,
	}[phase]

	return Observation{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"k8s_namespace": namespace,
			"k8s_job_name":  jobName,
			"active":        job.Status.Active,
			"succeeded":     job.Status.Succeeded,
			"failed":        job.Status.Failed,
		},
	}, nil
}

func (e *KubernetesJobExecutor) Stop(ctx context.Context, execution Execution) error {
	namespace := strings.TrimSpace(execution.Namespace)
	if namespace == "" {
		namespace = e.namespace
	}
	return e.client.DeleteJob(ctx, namespace, execution.Name)
}

func applyResourceHints(container *k8s.Container, res Resources) {
	if res.GPUs > 0 {
		container.Resources.Limits = map[string]string{"nvidia.com/gpu": strconv.Itoa(res.GPUs)}
	}
	if res.CPU == "" && res.Memory == "" {
		return
	}
	container.Resources.Requests = map[string]string{}
	if res.CPU != "" {
		container.Resources.Requests["cpu"] = res.CPU
	}
	if res.Memory != "" {
		container.Resources.Requests["memory"] = res.Memory
	}
}

// labelValue trims a value to the 63-character label limit.
func labelValue(v string) string {
	v = nameUnsafe.ReplaceAllString(strings.ToLower(v), "-")
	if len(v) > 63 {
		v = v[:63]
	}
	return strings.Trim(v, "-")
}
