package runtimeexec

import (
	"context"
	"errors"
	"testing"

	"github.com/animus-labs/animus-hpo/internal/platform/k8s"
)

type fakeJobs struct {
	created   []k8s.Job
	createErr error
	job       k8s.Job
	getErr    error
	deleted   []string
}

func (f *fakeJobs) Namespace() string { return "trials" }

func (f *fakeJobs) CreateJob(ctx context.Context, namespace string, job k8s.Job) error {
	f.created = append(f.created, job)
	return f.createErr
}

func (f *fakeJobs) GetJob(ctx context.Context, namespace string, name string) (k8s.Job, error) {
	return f.job, f.getErr
}

func (f *fakeJobs) DeleteJob(ctx context.Context, namespace string, name string) error {
	f.deleted = append(f.deleted, namespace+"/"+name)
	return nil
}

func (f *fakeJobs) Ping(ctx context.Context) error { return nil }

func TestKubernetesSubmitBuildsJob(t *testing.T) {
	jobs := &fakeJobs{}
	e, err := newKubernetesJobExecutor(jobs, "", 600, "trainer")
	if err != nil {
		t.Fatalf("newKubernetesJobExecutor() err=%v", err)
	}
	exec, err := e.Submit(context.Background(), JobSpec{
		Name:       "hpo-s-1-r0",
		SweepID:    "S",
		TrialID:    1,
		ImageRef:   "trainer:1",
		ScriptPath: "train.py",
		NumNodes:   3,
		Resources:  Resources{CPU: "4", Memory: "16Gi", GPUs: 1},
	})
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if exec.Namespace != "trials" || exec.Executor != "kubernetes_job" {
		t.Fatalf("Submit()=%+v", exec)
	}
	job := jobs.created[0]
	if *job.Spec.Parallelism != 3 || *job.Spec.Completions != 3 {
		t.Fatalf("parallelism=%d completions=%d, want 3", *job.Spec.Parallelism, *job.Spec.Completions)
	}
	if *job.Spec.BackoffLimit != 0 || *job.Spec.TTLSecondsAfterFinished != 600 {
		t.Fatalf("job spec=%+v", job.Spec)
	}
	pod := job.Spec.Template.Spec
	if pod.ServiceAccountName != "trainer" || pod.RestartPolicy != "Never" {
		t.Fatalf("pod spec=%+v", pod)
	}
	c := pod.Containers[0]
	if c.Resources.Limits["nvidia.com/gpu"] != "1" || c.Resources.Requests["memory"] != "16Gi" {
		t.Fatalf("resources=%+v", c.Resources)
	}
	if job.Metadata.Labels["hpo.sweep_id"] != "s" {
		t.Fatalf("labels=%v", job.Metadata.Labels)
	}
}

func TestKubernetesSubmitToleratesExisting(t *testing.T) {
	e, _ := newKubernetesJobExecutor(&fakeJobs{createErr: k8s.ErrAlreadyExists}, "ns", 0, "")
	if _, err := e.Submit(context.Background(), JobSpec{Name: "n", ImageRef: "img"}); err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
}

func TestKubernetesInspect(t *testing.T) {
	cases := []struct {
		status k8s.JobStatus
		want   string
	}{
		{k8s.JobStatus{}, StatusPending},
		{k8s.JobStatus{Active: 1}, StatusRunning},
		{k8s.JobStatus{Conditions: []k8s.JobCondition{{Type: "Complete", Status: "True"}}}, StatusSucceeded},
		{k8s.JobStatus{Conditions: []k8s.JobCondition{{Type: "Failed", Status: "True", Reason: "BackoffLimitExceeded"}}}, StatusFailed},
		{k8s.JobStatus{Active: 1, Conditions: []k8s.JobCondition{{Type: "Complete", Status: "False"}}}, StatusRunning},
	}
	for i, tc := range cases {
		e, _ := newKubernetesJobExecutor(&fakeJobs{job: k8s.Job{Status: tc.status}}, "ns", 0, "")
		obs, err := e.Inspect(context.Background(), Execution{Name: "n"})
		if err != nil {
			t.Fatalf("case %d: Inspect() err=%v", i, err)
		}
		if obs.Status != tc.want {
			t.Fatalf("case %d: Inspect().Status=%q, want %q", i, obs.Status, tc.want)
		}
	}
}

func TestKubernetesInspectMissingJob(t *testing.T) {
	e, _ := newKubernetesJobExecutor(&fakeJobs{getErr: k8s.ErrNotFound}, "ns", 0, "")
	obs, err := e.Inspect(context.Background(), Execution{Name: "n"})
	if err != nil || obs.Status != StatusFailed || obs.Message != "job_not_found" {
		t.Fatalf("Inspect()=%+v, %v", obs, err)
	}

	boom := errors.New("boom")
	e, _ = newKubernetesJobExecutor(&fakeJobs{getErr: boom}, "ns", 0, "")
	if _, err := e.Inspect(context.Background(), Execution{Name: "n"}); !errors.Is(err, boom) {
		t.Fatalf("Inspect() err=%v, want boom", err)
	}
}

func TestKubernetesStop(t *testing.T) {
	jobs := &fakeJobs{}
	e, _ := newKubernetesJobExecutor(jobs, "ns", 0, "")
	if err := e.Stop(context.Background(), Execution{Name: "n"}); err != nil {
		t.Fatalf("Stop() err=%v", err)
	}
	if len(jobs.deleted) != 1 || jobs.deleted[0] != "ns/n" {
		t.Fatalf("deleted=%v", jobs.deleted)
	}
}
