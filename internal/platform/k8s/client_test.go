package k8s

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestClientJobLifecycle(t *testing.T) {
	var created Job
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/apis/batch/v1/namespaces/hpo/jobs":
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Errorf("decode job: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/apis/batch/v1/namespaces/hpo/jobs/trial-0":
			_ = json.NewEncoder(w).Encode(Job{Status: JobStatus{Conditions: []JobCondition{{Type: "Complete", Status: "True"}}}})
		case r.Method == http.MethodGet && r.URL.Path == "/apis/batch/v1/namespaces/hpo/jobs":
			_, _ = w.Write([]byte(`{"items":[]}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok", "hpo", srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	if err := c.CreateJob(ctx, "", Job{Metadata: ObjectMeta{Name: "trial-0"}}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if created.Kind != "Job" || created.APIVersion != "batch/v1" || created.Metadata.Namespace != "hpo" {
		t.Fatalf("created=%+v", created)
	}

	job, err := c.GetJob(ctx, "hpo", "trial-0")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if phase, _ := job.Status.Phase(); phase != "complete" {
		t.Fatalf("Phase()=%q, want complete", phase)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := c.DeleteJob(ctx, "", "trial-0"); err != nil {
		t.Fatalf("DeleteJob of missing job: %v", err)
	}

	_, err = c.GetJob(ctx, "hpo", "other")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTeapot {
		t.Fatalf("GetJob(other) err=%v", err)
	}

	bad, _ := NewClient(srv.URL, "wrong", "hpo", srv.Client())
	if err := bad.Ping(ctx); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Ping with bad token err=%v, want %v", err, ErrUnauthorized)
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient("", "t", "ns", nil); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	if _, err := NewClient("http://x", "t", " ", nil); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
}

func TestListJobsQueryAndStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/apis/batch/v1/namespaces/other/jobs":
			if got := r.URL.Query().Get("labelSelector"); got != "hpo.sweep_id=exp1" {
				t.Errorf("labelSelector=%q", got)
			}
			_, _ = w.Write([]byte(`{"items":[{"metadata":{"name":"a"}},{"metadata":{"name":"b"}}]}`))
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"kind":"Status","reason":"Invalid","message":"spec.template is required"}`))
		}
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "", "hpo", srv.Client())
	jobs, err := c.ListJobs(context.Background(), "other", "hpo.sweep_id=exp1", 0)
	if err != nil || len(jobs) != 2 || jobs[1].Metadata.Name != "b" {
		t.Fatalf("ListJobs()=%v,%v", jobs, err)
	}

	err = c.CreateJob(context.Background(), "", Job{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Reason != "Invalid" || apiErr.Message != "spec.template is required" {
		t.Fatalf("CreateJob() err=%v", err)
	}
}

func TestJobStatusPhase(t *testing.T) {
	cases := []struct {
		status JobStatus
		phase  string
		detail string
	}{
		{JobStatus{}, "pending", ""},
		{JobStatus{Active: 2}, "running", ""},
		{JobStatus{Conditions: []JobCondition{{Type: "Complete", Status: "True"}}}, "complete", ""},
		{JobStatus{Conditions: []JobCondition{{Type: "Failed", Status: "True", Reason: "DeadlineExceeded"}}}, "failed", "DeadlineExceeded"},
		{JobStatus{Active: 1, Conditions: []JobCondition{{Type: "Failed", Status: "False"}}}, "running", ""},
	}
	for _, tc := range cases {
		phase, detail := tc.status.Phase()
		if phase != tc.phase || detail != tc.detail {
			t.Fatalf("Phase(%+v)=%q,%q, want %q,%q", tc.status, phase, detail, tc.phase, tc.detail)
		}
	}
}

func TestServiceAccountClientErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := newServiceAccountClient(dir, "", ""); err == nil {
		t.Fatalf("expected error without a token")
	}
	for name, content := range map[string]string{"token": "tok", "namespace": "hpo", "ca.crt": "not a pem"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if _, err := newServiceAccountClient(dir, "10.0.0.1", ""); err == nil || !strings.Contains(err.Error(), "ca bundle") {
		t.Fatalf("newServiceAccountClient() err=%v, want ca bundle error", err)
	}
}
