package realms

import "time"

// Realm is an isolated tenant/namespace containing its own users, clients,
// roles, scopes and keys. Only the token-relevant configuration is modelled
// here; realm CRUD lives outside this module.
type Realm struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Issuer is the value stamped into the "iss" claim of every token
	// minted for this realm.
	Issuer string `json:"issuer"`

	// NotBefore is the realm-wide revocation watermark. Tokens issued
	// before this time are considered revoked.
	NotBefore time.Time `json:"notBefore"`

	// Token lifespans. A zero value falls back to the module-wide
	// defaults from internal/config.
	AccessTokenLifespan             time.Duration `json:"accessTokenLifespan"`
	AccessTokenLifespanImplicitFlow time.Duration `json:"accessTokenLifespanImplicitFlow"`

	// SSO session lifetimes. Online sessions expire once idle longer than
	// SsoSessionIdleTimeout or older than SsoSessionMaxLifespan.
	SsoSessionIdleTimeout time.Duration `json:"ssoSessionIdleTimeout"`
	SsoSessionMaxLifespan time.Duration `json:"ssoSessionMaxLifespan"`

	// OfflineSessionIdleTimeout bounds offline sessions, which are exempt
	// from the SSO idle/max lifetimes above.
	OfflineSessionIdleTimeout time.Duration `json:"offlineSessionIdleTimeout"`

	// RevokeRefreshToken enables refresh-token rotation with reuse
	// detection. RefreshTokenMaxReuse is the number of times a single
	// refresh token may be presented beyond its first use.
	RevokeRefreshToken   bool `json:"revokeRefreshToken"`
	RefreshTokenMaxReuse int  `json:"refreshTokenMaxReuse"`
}

// SessionExpires returns the absolute expiry of an online session started at
// the given time.
func (r *Realm) SessionExpires(started time.Time) time.Time {
	return started.Add(r.SsoSessionMaxLifespan)
}
