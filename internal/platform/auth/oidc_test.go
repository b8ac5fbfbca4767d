package auth

import (
	"net/http"
	"reflect"
	"testing"
)

func TestIdentityFromClaims(t *testing.T) {
	claims := map[string]any{
		"email": " alice@example.test ",
		"realm_access": map[string]any{
			"roles": []any{"Editor", "viewer", "editor", 7},
		},
	}
	id := identityFromClaims("alice", claims, "realm_access.roles", "email")
	if id.Subject != "alice" || id.Email != "alice@example.test" {
		t.Fatalf("identity=%+v", id)
	}
	if want := []string{"editor", "viewer"}; !reflect.DeepEqual(id.Roles, want) {
		t.Fatalf("Roles=%v, want %v", id.Roles, want)
	}
}

func TestClaimAt(t *testing.T) {
	claims := map[string]any{
		"https://animus/roles": "admin viewer",
		"groups":               map[string]any{"hpo": "editor,viewer"},
	}
	if got := rolesFrom(claimAt(claims, "https://animus/roles")); !reflect.DeepEqual(got, []string{"admin", "viewer"}) {
		t.Fatalf("dotted key roles=%v", got)
	}
	if got := rolesFrom(claimAt(claims, "groups.hpo")); !reflect.DeepEqual(got, []string{"editor", "viewer"}) {
		t.Fatalf("nested roles=%v", got)
	}
	if got := claimAt(claims, "groups.missing.deeper"); got != nil {
		t.Fatalf("claimAt(missing)=%v, want nil", got)
	}
	if got := rolesFrom(42); got != nil {
		t.Fatalf("rolesFrom(42)=%v, want nil", got)
	}
}

func TestTokenFromHeader(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for header, want := range cases {
		r, _ := http.NewRequest(http.MethodGet, "http://example.test/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := tokenFromHeader(r); got != want {
			t.Fatalf("tokenFromHeader(%q)=%q, want %q", header, got, want)
		}
	}
}
