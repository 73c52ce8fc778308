package oauth2

// AccessTokenResponse is the token endpoint response payload as defined in
// RFC 6749, extended with the refresh expiry, session state and not-before
// metadata this server returns.
type AccessTokenResponse struct {
	// AccessToken is the signed compact token used to access protected
	// resources, sent as "Authorization: Bearer <access_token>".
	AccessToken string `json:"access_token,omitempty"`

	// TokenType is always "bearer" in this implementation.
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds. This is a hint;
	// the authoritative expiry is the token's "exp" claim.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the signed refresh token, rotated on each use.
	RefreshToken string `json:"refresh_token,omitempty"`

	// RefreshExpiresIn is the refresh token lifetime in seconds. Zero for
	// offline tokens, which carry no expiry.
	RefreshExpiresIn int64 `json:"refresh_expires_in,omitempty"`

	// IDToken is present only when the "openid" scope was requested.
	IDToken string `json:"id_token,omitempty"`

	// NotBeforePolicy is the revocation watermark in effect when the
	// response was produced: the maximum of the realm, client and user
	// not-before times, in unix seconds. Always emitted, zero when no
	// watermark is set.
	NotBeforePolicy int64 `json:"not-before-policy"`

	// SessionState is the id of the user session the tokens belong to.
	SessionState string `json:"session_state,omitempty"`

	// Scope is the space-separated names of the granted scopes, with
	// "openid" included when an ID token was produced.
	Scope string `json:"scope,omitempty"`
}
