package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCAuthenticator verifies bearer ID tokens against the configured issuer.
type OIDCAuthenticator struct {
	rolesClaim string
	emailClaim string
	verifier   *oidc.IDTokenVerifier
}

func NewOIDCAuthenticator(ctx context.Context, cfg Config) (*OIDCAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return &OIDCAuthenticator{
		rolesClaim: cfg.RolesClaim,
		emailClaim: cfg.EmailClaim,
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
	}, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := tokenFromHeader(r)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	idToken, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, err
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, err
	}
	return identityFromClaims(idToken.Subject, claims, a.rolesClaim, a.emailClaim), nil
}

func identityFromClaims(subject string, claims map[string]any, rolesClaim, emailClaim string) Identity {
	email, _ := claimAt(claims, emailClaim).(string)
	return Identity{
		Subject: strings.TrimSpace(subject),
		Email:   strings.TrimSpace(email),
		Roles:   rolesFrom(claimAt(claims, rolesClaim)),
	}
}

func tokenFromHeader(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// claimAt resolves a dotted claim path such as "realm_access.roles". A key
// that itself contains dots is matched first.
func claimAt(claims map[string]any, path string) any {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if v, ok := claims[path]; ok {
		return v
	}
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return nil
	}
	child, ok := claims[head].(map[string]any)
	if !ok {
		return nil
	}
	return claimAt(child, rest)
}

// rolesFrom accepts a JSON array of strings or a comma or space separated
// string.
func rolesFrom(v any) []string {
	var items []string
	switch typed := v.(type) {
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	case string:
		items = strings.FieldsFunc(typed, func(r rune) bool { return r == ',' || r == ' ' })
	default:
		return nil
	}
	return normalizeRoles(items)
}

func normalizeRoles(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		role := strings.ToLower(strings.TrimSpace(item))
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
