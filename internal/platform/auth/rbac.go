package auth

import (
	"errors"
	"net/http"
	"slices"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// API roles are ordered: admin implies editor implies viewer.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"

	// RoleTrial is held by trial processes. It has no API level and only opens
	// the report callback.
	RoleTrial = "trial"
)

var apiRoles = []string{RoleViewer, RoleEditor, RoleAdmin}

// level is 1-based; unknown roles, including RoleTrial, are 0.
func level(role string) int {
	return slices.Index(apiRoles, strings.ToLower(strings.TrimSpace(role))) + 1
}

func HasAtLeast(roles []string, required string) bool {
	want := level(required)
	return want > 0 && slices.ContainsFunc(roles, func(r string) bool { return level(r) >= want })
}

func RequiredRoleForRequest(r *http.Request) string {
	if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
		return RoleViewer
	}
	return RoleEditor
}

func HasRole(roles []string, role string) bool {
	return slices.ContainsFunc(roles, func(r string) bool { return strings.EqualFold(strings.TrimSpace(r), role) })
}

// MethodRoleAuthorizer requires viewer for reads and editor for writes.
func MethodRoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if !HasAtLeast(identity.Roles, RequiredRoleForRequest(r)) {
			return ErrForbidden
		}
		return nil
	}
}
