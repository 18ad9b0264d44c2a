package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthFunc validates an incoming request, in the style of api/server.go's
// AuthFunc — a single hook invoked before routing, not a full auth
// framework (spec.md names AuthContext as an external collaborator).
type AuthFunc func(*http.Request) error

// BearerAuth builds an AuthFunc that checks Authorization: Bearer <token>
// against token, and rejects requests whose TerminusDB-Version header
// doesn't match an accepted protocol version. An empty accepted list skips
// the version check, matching apiServer/auth.go's pattern of parsing a
// fixed set of request headers before delegating to the handler.
func BearerAuth(token string, acceptedVersions ...string) AuthFunc {
	return func(r *http.Request) error {
		authz := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) || strings.TrimPrefix(authz, prefix) != token {
			return fmt.Errorf("missing or invalid bearer token")
		}
		if len(acceptedVersions) == 0 {
			return nil
		}
		version := r.Header.Get("TerminusDB-Version")
		for _, v := range acceptedVersions {
			if v == version {
				return nil
			}
		}
		return fmt.Errorf("unsupported TerminusDB-Version %q", version)
	}
}

func defaultAuth(*http.Request) error { return nil }
