package auth

import "net/http"

const (
	ScopeOpenID         = "openid"
	ScopeProfile        = "profile"
	ScopeEmail          = "email"
	ScopeDecisionsRead  = "decisions:read"
	ScopeDecisionsWrite = "decisions:write"
)

// requiredScope returns the scope an access token needs for method.
func requiredScope(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ScopeDecisionsRead
	default:
		return ScopeDecisionsWrite
	}
}

// hasScope reports whether granted contains want. Write access implies read.
func hasScope(granted []string, want string) bool {
	for _, s := range granted {
		if s == want || (want == ScopeDecisionsRead && s == ScopeDecisionsWrite) {
			return true
		}
	}
	return false
}
