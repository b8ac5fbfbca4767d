package main

import (
	"net/http"
	"strconv"

	"github.com/animus-labs/animus-hpo/internal/platform/auth"
)

// sweepsAuthorizer confines trial identities to the report callback of their
// own trial. Every other identity is checked by method and role.
func sweepsAuthorizer() auth.AuthorizeFunc {
	byRole := auth.MethodRoleAuthorizer()
	return func(r *http.Request, identity auth.Identity) error {
		if !auth.HasRole(identity.Roles, auth.RoleTrial) {
			return byRole(r, identity)
		}
		if r.Method != http.MethodPost {
			return auth.ErrForbidden
		}
		sweepID, trialID, ok := auth.ParseTrialTokenSubject(identity.Subject)
		if !ok {
			return auth.ErrForbidden
		}
		if r.URL.Path != "/sweeps/"+sweepID+"/trials/"+strconv.Itoa(trialID)+"/reports" {
			return auth.ErrForbidden
		}
		return nil
	}
}
