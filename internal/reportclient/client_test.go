package reportclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/animus-labs/animus-hpo/internal/domain"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		ReportURL:  url,
		Token:      "hpo_trial_v1.payload.sig",
		Timeout:    time.Second,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return c
}

func TestSendPostsReportsWithBearerToken(t *testing.T) {
	var got reportsRequest
	var auth, reqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		reqID = r.Header.Get("X-Request-Id")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"accepted":2}`))
	}))
	defer srv.Close()

	best := 0.25
	n, err := newTestClient(t, srv.URL).Send(context.Background(), []domain.Report{{Value: 0.5, Step: 0}, {Value: 0.25, Step: 1}}, &best)
	if err != nil {
		t.Fatalf("Send() err=%v", err)
	}
	if n != 2 {
		t.Fatalf("Send()=%d, want 2", n)
	}
	if auth != "Bearer hpo_trial_v1.payload.sig" {
		t.Fatalf("Authorization=%q", auth)
	}
	if len(reqID) != 32 {
		t.Fatalf("X-Request-Id=%q, want 32 hex chars", reqID)
	}
	if len(got.Reports) != 2 || got.BestModelScore == nil || *got.BestModelScore != 0.25 {
		t.Fatalf("body=%+v", got)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"accepted":1}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL).Send(context.Background(), []domain.Report{{Value: 1}}, nil); err != nil {
		t.Fatalf("Send() err=%v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d, want 3", calls.Load())
	}
}

func TestSendMapsClientErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrUnknownTrial},
		{http.StatusConflict, ErrTrialClosed},
	}
	for _, tc := range cases {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(tc.status)
		}))
		_, err := newTestClient(t, srv.URL).Send(context.Background(), []domain.Report{{Value: 1}}, nil)
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err=%v, want %v", tc.status, err, tc.want)
		}
		if calls.Load() != 1 {
			t.Fatalf("status %d: calls=%d, want no retry", tc.status, calls.Load())
		}
	}
}

func TestSendRequiresContent(t *testing.T) {
	c := newTestClient(t, "http://hpo.local/sweeps/s/trials/0/reports")
	if _, err := c.Send(context.Background(), nil, nil); err == nil {
		t.Fatalf("Send() err=nil, want error")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("HPO_REPORT_URL", "http://hpo.local/sweeps/s/trials/0/reports")
	t.Setenv("HPO_TOKEN", "tok")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Token != "tok" || cfg.MaxRetries != 3 {
		t.Fatalf("cfg=%+v", cfg)
	}

	t.Setenv("HPO_REPORT_URL", "not a url")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() err=nil, want invalid url")
	}
}
