package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/animus-hpo/internal/platform/requestid"
)

type AuthorizeFunc func(r *http.Request, identity Identity) error

// DenyEvent describes one rejected request for the audit hook.
type DenyEvent struct {
	Time       time.Time
	Status     int
	Reason     string
	Error      string
	RequestID  string
	Method     string
	Path       string
	Subject    string
	Email      string
	Roles      []string
	RemoteAddr string
	UserAgent  string
}

type AuditFunc func(ctx context.Context, event DenyEvent) error

// Middleware authenticates every request outside SkipPrefixes, applies
// Authorize and stores the identity in the request context.
type Middleware struct {
	Logger        *slog.Logger
	Authenticator Authenticator
	Authorize     AuthorizeFunc
	Audit         AuditFunc
	// AuditTimeout bounds one Audit call; zero means 750ms.
	AuditTimeout time.Duration
	SkipPrefixes []string
}

type denial struct {
	status   int
	reason   string
	err      error
	identity Identity
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.Authenticator.Authenticate(r.Context(), r)
		if err != nil {
			d := denial{status: http.StatusUnauthorized, reason: "invalid_token", err: err}
			if errors.Is(err, ErrUnauthenticated) {
				d.reason = "unauthenticated"
			}
			m.deny(w, r, d)
			return
		}
		if m.Authorize != nil {
			if err := m.Authorize(r, identity); err != nil {
				m.deny(w, r, denial{status: http.StatusForbidden, reason: "forbidden", err: err, identity: identity})
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
	})
}

func (m Middleware) skip(path string) bool {
	for _, prefix := range m.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, d denial) {
	reqID := requestid.FromRequest(r)
	if m.Logger != nil {
		m.Logger.Warn("auth deny",
			"reason", d.reason,
			"status", d.status,
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"subject", d.identity.Subject,
			"trial", HasRole(d.identity.Roles, RoleTrial),
			"error", d.err.Error(),
		)
	}
	m.audit(r, reqID, d)

	code := d.reason
	if d.status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="sweeps"`)
		if d.reason == "unauthenticated" {
			code = "unauthorized"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": code, "request_id": reqID})
}

func (m Middleware) audit(r *http.Request, reqID string, d denial) {
	if m.Audit == nil {
		return
	}
	timeout := m.AuditTimeout
	if timeout <= 0 {
		timeout = 750 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	err := m.Audit(ctx, DenyEvent{
		Time:       time.Now().UTC(),
		Status:     d.status,
		Reason:     d.reason,
		Error:      d.err.Error(),
		RequestID:  reqID,
		Method:     r.Method,
		Path:       r.URL.Path,
		Subject:    d.identity.Subject,
		Email:      d.identity.Email,
		Roles:      d.identity.Roles,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if err != nil && m.Logger != nil {
		m.Logger.Warn("audit deny failed", "request_id", reqID, "error", err)
	}
}
