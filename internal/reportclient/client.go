package reportclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/animus-labs/animus-hpo/internal/domain"
	"github.com/animus-labs/animus-hpo/internal/platform/env"
	"github.com/animus-labs/animus-hpo/internal/platform/requestid"
)

var (
	ErrUnknownTrial = errors.New("trial is not known to the sweeps service")
	ErrTrialClosed  = errors.New("trial no longer accepts reports")
)

type Config struct {
	ReportURL  string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// ConfigFromEnv reads the variables every launched trial receives.
func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("HPO_REPORT_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	retries, err := env.Int("HPO_REPORT_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ReportURL:  env.String("HPO_REPORT_URL", ""),
		Token:      env.String("HPO_TOKEN", ""),
		Timeout:    timeout,
		MaxRetries: retries,
		Backoff:    500 * time.Millisecond,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ReportURL) == "" {
		return errors.New("HPO_REPORT_URL is required")
	}
	u, err := url.Parse(c.ReportURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid report url: %q", c.ReportURL)
	}
	if c.Timeout <= 0 {
		return errors.New("HPO_REPORT_TIMEOUT must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("HPO_REPORT_RETRIES must be non-negative")
	}
	return nil
}

// Client posts progress of one trial to its report callback.
type Client struct {
	reportURL  string
	http       *http.Client
	maxRetries int
	backoff    time.Duration
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
		httpClient.Timeout = cfg.Timeout
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Client{
		reportURL:  cfg.ReportURL,
		http:       httpClient,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
	}, nil
}

type reportsRequest struct {
	Reports        []domain.Report `json:"reports"`
	BestModelScore *float64        `json:"best_model_score,omitempty"`
}

// Send posts reports and an optional best model score. Transport errors and
// 5xx answers are retried; 404 and 409 map to ErrUnknownTrial and ErrTrialClosed.
func (c *Client) Send(ctx context.Context, reports []domain.Report, bestModelScore *float64) (int, error) {
	if len(reports) == 0 && bestModelScore == nil {
		return 0, errors.New("nothing to report")
	}
	payload, err := json.Marshal(reportsRequest{Reports: reports, BestModelScore: bestModelScore})
	if err != nil {
		return 0, fmt.Errorf("encode reports: %w", err)
	}
	reqID, err := requestid.New()
	if err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(c.backoff * time.Duration(1<<(attempt-1))):
			}
		}
		accepted, retry, err := c.post(ctx, reqID, payload)
		if err == nil {
			return accepted, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return 0, lastErr
}

func (c *Client) post(ctx context.Context, reqID string, payload []byte) (accepted int, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.reportURL, bytes.NewReader(payload))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestid.Header, reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, true, err
	}

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		var out struct {
			Accepted int `json:"accepted"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return 0, false, fmt.Errorf("decode response: %w", err)
		}
		return out.Accepted, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, ErrUnknownTrial
	case resp.StatusCode == http.StatusConflict:
		return 0, false, ErrTrialClosed
	default:
		err := fmt.Errorf("post reports: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		return 0, resp.StatusCode >= 500, err
	}
}
