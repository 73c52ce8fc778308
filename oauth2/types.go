package oauth2

import "strings"

// Token type discriminators carried in the "typ" claim.
const (
	TokenTypeBearer  = "Bearer"
	TokenTypeRefresh = "Refresh"
	TokenTypeOffline = "Offline"
	TokenTypeID      = "ID"
)

// Well-known scope names.
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// GrantTypeRefreshToken is the grant this core implements.
const GrantTypeRefreshToken = "refresh_token"

// IsOIDCRequest reports whether the space-delimited scope parameter asks
// for OpenID claims.
func IsOIDCRequest(scopeParam string) bool {
	return hasScope(scopeParam, ScopeOpenID)
}

// IsOfflineAccessRequest reports whether the scope parameter asks for an
// offline token.
func IsOfflineAccessRequest(scopeParam string) bool {
	return hasScope(scopeParam, ScopeOfflineAccess)
}

// AttachOIDCScope appends "openid" to a scope parameter value if not
// already present.
func AttachOIDCScope(scopeParam string) string {
	if hasScope(scopeParam, ScopeOpenID) {
		return scopeParam
	}
	if scopeParam == "" {
		return ScopeOpenID
	}
	return scopeParam + " " + ScopeOpenID
}

func hasScope(scopeParam, name string) bool {
	for _, part := range strings.Fields(scopeParam) {
		if part == name {
			return true
		}
	}
	return false
}

// IsImplicitFlow reports whether a response_type parameter describes an
// implicit or hybrid flow (any response type carrying "token" or
// "id_token").
func IsImplicitFlow(responseType string) bool {
	for _, part := range strings.Fields(responseType) {
		if part == "token" || part == "id_token" {
			return true
		}
	}
	return false
}
