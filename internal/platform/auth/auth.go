package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/animus-hpo/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

// MinTrialTokenSecretLen is the shortest accepted HMAC secret for trial tokens.
const MinTrialTokenSecretLen = 16

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	RolesClaim string
	EmailClaim string

	OIDCIssuerURL string
	OIDCClientID  string

	DevSubject string
	DevEmail   string
	DevRoles   []string

	// TrialTokenSecret signs the tokens handed to trial processes for report
	// callbacks. Empty disables the report endpoint.
	TrialTokenSecret string
	TrialTokenTTL    time.Duration
}

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeOIDC, ModeDev, ModeDisabled:
		return m, nil
	default:
		return "", fmt.Errorf("AUTH_MODE must be one of: oidc, dev, disabled (got %q)", raw)
	}
}

func ConfigFromEnv() (Config, error) {
	mode, err := ParseMode(env.String("AUTH_MODE", string(ModeOIDC)))
	if err != nil {
		return Config{}, err
	}
	ttl, err := env.Duration("HPO_TRIAL_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:             mode,
		RolesClaim:       env.String("AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:       env.String("AUTH_EMAIL_CLAIM", "email"),
		OIDCIssuerURL:    env.String("OIDC_ISSUER_URL", ""),
		OIDCClientID:     env.String("OIDC_CLIENT_ID", ""),
		DevSubject:       env.String("DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:         env.String("DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:         normalizeRoles(env.CSV("DEV_AUTH_ROLES", []string{RoleAdmin})),
		TrialTokenSecret: strings.TrimSpace(env.String("HPO_TRIAL_TOKEN_SECRET", "")),
		TrialTokenTTL:    ttl,
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	require(strings.TrimSpace(c.RolesClaim) != "", "AUTH_ROLES_CLAIM is required")
	require(strings.TrimSpace(c.EmailClaim) != "", "AUTH_EMAIL_CLAIM is required")
	require(c.TrialTokenTTL > 0, "HPO_TRIAL_TOKEN_TTL must be positive")
	if c.TrialTokenSecret != "" {
		require(len(c.TrialTokenSecret) >= MinTrialTokenSecretLen,
			fmt.Sprintf("HPO_TRIAL_TOKEN_SECRET must be at least %d bytes", MinTrialTokenSecretLen))
	}

	switch c.Mode {
	case ModeOIDC:
		require(strings.TrimSpace(c.OIDCIssuerURL) != "", "OIDC_ISSUER_URL is required when AUTH_MODE=oidc")
		require(strings.TrimSpace(c.OIDCClientID) != "", "OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
	case ModeDev:
		require(strings.TrimSpace(c.DevSubject) != "", "DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
		require(len(c.DevRoles) > 0, "DEV_AUTH_ROLES must be non-empty when AUTH_MODE=dev")
	case ModeDisabled:
	case "":
		problems = append(problems, "AUTH_MODE is required")
	default:
		problems = append(problems, fmt.Sprintf("unsupported auth mode: %q", c.Mode))
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
