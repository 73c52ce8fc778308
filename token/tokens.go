package token

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/realmkit/realmkit/mappers"
)

// Access is a block of role names granted at realm level or under one
// resource (client) entry of a token.
type Access struct {
	Roles        []string `json:"roles,omitempty"`
	VerifyCaller bool     `json:"verify_caller,omitempty"`
}

// HasRole reports whether the block contains the named role.
func (a *Access) HasRole(name string) bool {
	for _, role := range a.Roles {
		if role == name {
			return true
		}
	}
	return false
}

// AddRole appends the named role if not already present.
func (a *Access) AddRole(name string) {
	if !a.HasRole(name) {
		a.Roles = append(a.Roles, name)
	}
}

// AccessToken is the claim set of a signed access token. It is a value
// object: immutable after signing, with no references back into session
// state. Mapper-contributed claims live in OtherClaims and are serialized
// at the top level of the payload.
type AccessToken struct {
	jwt.RegisteredClaims

	Type         string `json:"typ,omitempty"`
	IssuedFor    string `json:"azp,omitempty"` // client the token was issued for
	Nonce        string `json:"nonce,omitempty"`
	AuthTime     int64  `json:"auth_time,omitempty"`
	SessionState string `json:"session_state,omitempty"`
	Acr          string `json:"acr,omitempty"`

	AllowedOrigins []string           `json:"allowed-origins,omitempty"`
	RealmAccess    *Access            `json:"realm_access,omitempty"`
	ResourceAccess map[string]*Access `json:"resource_access,omitempty"`

	// Authorization is carried forward opaquely across refreshes.
	Authorization json.RawMessage `json:"authorization,omitempty"`

	// ScopeIDs is the client-scope snapshot refresh tokens embed so the
	// next refresh can reconstruct the granted scope set.
	ScopeIDs []string `json:"scope_ids,omitempty"`

	OtherClaims map[string]any `json:"-"`
}

// RefreshToken is an AccessToken whose typ discriminator is Refresh or
// Offline and which carries the scope id snapshot.
type RefreshToken = AccessToken

// IDToken is the claim set of a signed OpenID Connect ID token.
type IDToken struct {
	jwt.RegisteredClaims

	Type         string `json:"typ,omitempty"`
	IssuedFor    string `json:"azp,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	AuthTime     int64  `json:"auth_time,omitempty"`
	SessionState string `json:"session_state,omitempty"`
	Acr          string `json:"acr,omitempty"`

	AccessTokenHash string `json:"at_hash,omitempty"`
	CodeHash        string `json:"c_hash,omitempty"`
	StateHash       string `json:"s_hash,omitempty"`

	OtherClaims map[string]any `json:"-"`
}

var (
	_ mappers.ClaimSetter = (*AccessToken)(nil)
	_ mappers.ClaimSetter = (*IDToken)(nil)
)

// SetClaim records a mapper-contributed claim.
func (t *AccessToken) SetClaim(name string, value any) {
	if t.OtherClaims == nil {
		t.OtherClaims = make(map[string]any)
	}
	t.OtherClaims[name] = value
}

// AppendAudience adds an audience entry if not already present.
func (t *AccessToken) AppendAudience(audience string) {
	t.Audience = appendAudience(t.Audience, audience)
}

// SetClaim records a mapper-contributed claim.
func (t *IDToken) SetClaim(name string, value any) {
	if t.OtherClaims == nil {
		t.OtherClaims = make(map[string]any)
	}
	t.OtherClaims[name] = value
}

// AppendAudience adds an audience entry if not already present.
func (t *IDToken) AppendAudience(audience string) {
	t.Audience = appendAudience(t.Audience, audience)
}

func appendAudience(audience jwt.ClaimStrings, entry string) jwt.ClaimStrings {
	for _, existing := range audience {
		if existing == entry {
			return audience
		}
	}
	return append(audience, entry)
}

// ResourceAccessFor returns the access block for a resource, or nil.
func (t *AccessToken) ResourceAccessFor(resource string) *Access {
	return t.ResourceAccess[resource]
}

// AddAccess returns the access block for a resource, creating it if needed.
func (t *AccessToken) AddAccess(resource string) *Access {
	if access := t.ResourceAccess[resource]; access != nil {
		return access
	}
	if t.ResourceAccess == nil {
		t.ResourceAccess = make(map[string]*Access)
	}
	access := &Access{}
	t.ResourceAccess[resource] = access
	return access
}

// IsExpired reports whether the token's expiry has passed. Tokens without
// an expiry (offline refresh tokens) never expire here.
func (t *AccessToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(t.ExpiresAt.Time)
}

// IssuedBefore reports whether the token predates a not-before watermark.
func (t *AccessToken) IssuedBefore(watermark time.Time) bool {
	return t.IssuedAt != nil && t.IssuedAt.Time.Before(watermark)
}

// HasScopeID reports whether the scope snapshot contains the given id.
func (t *AccessToken) HasScopeID(scopeID string) bool {
	for _, id := range t.ScopeIDs {
		if id == scopeID {
			return true
		}
	}
	return false
}
