package requestid

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const Header = "X-Request-Id"

// New returns a random 32-character hex id.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

func FromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}
