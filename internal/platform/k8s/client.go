package k8s

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const serviceAccountDir = "/var/run/secrets/kubernetes.io/serviceaccount"

var (
	ErrNotFound      = errors.New("kubernetes resource not found")
	ErrAlreadyExists = errors.New("kubernetes resource already exists")
	ErrUnauthorized  = errors.New("kubernetes request unauthorized")
	ErrForbidden     = errors.New("kubernetes request forbidden")
)

// APIError is any non-2xx answer without a sentinel of its own. Message is
// taken from the Status object when the server sends one.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("kubernetes api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("kubernetes api error (status=%d reason=%s): %s", e.StatusCode, e.Reason, e.Message)
}

// Client talks to the batch/v1 Jobs API of a single namespace by default.
type Client struct {
	baseURL   string
	token     string
	namespace string
	http      *http.Client
}

func NewClient(baseURL, token, namespace string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("kubernetes base url %q is invalid", baseURL)
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, errors.New("kubernetes namespace is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, token: strings.TrimSpace(token), namespace: namespace, http: httpClient}, nil
}

// NewInClusterClient reads the mounted service account of the pod.
func NewInClusterClient() (*Client, error) {
	return newServiceAccountClient(serviceAccountDir, os.Getenv("KUBERNETES_SERVICE_HOST"), os.Getenv("KUBERNETES_SERVICE_PORT"))
}

func newServiceAccountClient(dir, host, port string) (*Client, error) {
	read := func(name string) (string, error) {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("read serviceaccount %s: %w", name, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	token, err := read("token")
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("serviceaccount token is empty")
	}
	namespace, err := read("namespace")
	if err != nil {
		return nil, err
	}
	ca, err := read("ca.crt")
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(ca)) {
		return nil, errors.New("invalid serviceaccount ca bundle")
	}

	baseURL := "https://kubernetes.default.svc"
	if host = strings.TrimSpace(host); host != "" {
		if port = strings.TrimSpace(port); port == "" {
			port = "443"
		}
		baseURL = "https://" + host + ":" + port
	}
	return NewClient(baseURL, token, namespace, &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}},
		Timeout:   15 * time.Second,
	})
}

func (c *Client) Namespace() string { return c.namespace }

func (c *Client) jobsPath(namespace, name string) string {
	if namespace = strings.TrimSpace(namespace); namespace == "" {
		namespace = c.namespace
	}
	p := "/apis/batch/v1/namespaces/" + url.PathEscape(namespace) + "/jobs"
	if name != "" {
		p += "/" + url.PathEscape(name)
	}
	return p
}

func (c *Client) CreateJob(ctx context.Context, namespace string, job Job) error {
	if strings.TrimSpace(namespace) == "" {
		namespace = c.namespace
	}
	job.APIVersion, job.Kind = "batch/v1", "Job"
	job.Metadata.Namespace = namespace
	return c.call(ctx, http.MethodPost, c.jobsPath(namespace, ""), nil, job, nil)
}

func (c *Client) GetJob(ctx context.Context, namespace, name string) (Job, error) {
	if name = strings.TrimSpace(name); name == "" {
		return Job{}, errors.New("job name is required")
	}
	var out Job
	err := c.call(ctx, http.MethodGet, c.jobsPath(namespace, name), nil, nil, &out)
	return out, err
}

// ListJobs returns jobs matching a label selector such as
// "hpo.sweep_id=exp1". limit <= 0 means no limit.
func (c *Client) ListJobs(ctx context.Context, namespace, selector string, limit int) ([]Job, error) {
	q := url.Values{}
	if selector = strings.TrimSpace(selector); selector != "" {
		q.Set("labelSelector", selector)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out JobList
	if err := c.call(ctx, http.MethodGet, c.jobsPath(namespace, ""), q, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// DeleteJob removes a job and, in the background, its pods. A missing job is
// not an error.
func (c *Client) DeleteJob(ctx context.Context, namespace, name string) error {
	if name = strings.TrimSpace(name); name == "" {
		return errors.New("job name is required")
	}
	opts := map[string]string{"kind": "DeleteOptions", "apiVersion": "v1", "propagationPolicy": "Background"}
	err := c.call(ctx, http.MethodDelete, c.jobsPath(namespace, name), nil, opts, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Ping proves the API server is reachable and accepts the credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListJobs(ctx, "", "", 1)
	return err
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kubernetes %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode kubernetes response: %w", err)
		}
		return nil
	}
	return statusError(resp.StatusCode, raw)
}

func statusError(code int, raw []byte) error {
	switch code {
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	}
	apiErr := &APIError{StatusCode: code}
	var st struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &st) == nil && st.Message != "" {
		apiErr.Reason, apiErr.Message = st.Reason, st.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
