// Package mappers implements protocol mappers: small, registered transforms
// that enrich token claims from user and session state. A mapper declaration
// names an implementation in the registry; the implementation may support
// any subset of the three token kinds (access, ID, user-info) by
// implementing the matching capability interface.
package mappers

import (
	"github.com/realmkit/realmkit/sessions"
	"github.com/realmkit/realmkit/users"
)

// Declaration attaches a configured mapper to a client scope. Mapper names
// the registry entry that implements the transform.
type Declaration struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Protocol string            `json:"protocol"` // mappers only run for matching client protocols
	Mapper   string            `json:"mapper"`   // registry id of the implementation
	Config   map[string]string `json:"config,omitempty"`
}

// Common configuration keys shared by the built-in mappers.
const (
	ConfigClaimName        = "claim.name"
	ConfigUserAttribute    = "user.attribute"
	ConfigIncludedAudience = "included.audience"
	ConfigAccessTokenClaim = "access.token.claim"
	ConfigIDTokenClaim     = "id.token.claim"
	ConfigUserInfoClaim    = "userinfo.token.claim"
)

// ClaimSetter is the slice of a token a mapper is allowed to touch. Each
// mapper adds or overwrites exactly the claims it owns and must not depend
// on mappers applied after it.
type ClaimSetter interface {
	SetClaim(name string, value any)
	AppendAudience(audience string)
}

// Env carries the read snapshots a transform may consult.
type Env struct {
	User          *users.User
	UserSession   *sessions.UserSession
	ClientSession *sessions.ClientSession
}

// The three disjoint capability roles. A single implementation may satisfy
// any subset; only matching-capability mappers run for a given token kind.
type (
	AccessTokenTransformer interface {
		TransformAccessToken(token ClaimSetter, decl Declaration, env Env)
	}

	IDTokenTransformer interface {
		TransformIDToken(token ClaimSetter, decl Declaration, env Env)
	}

	UserInfoTransformer interface {
		TransformUserInfoToken(token ClaimSetter, decl Declaration, env Env)
	}
)

// Registry maps mapper ids to implementations. It is populated once at
// configuration time and read-only afterwards; lookups are polymorphic
// capability checks, no reflection involved.
type Registry struct {
	implementations map[string]any
}

func NewRegistry() *Registry {
	return &Registry{implementations: make(map[string]any)}
}

// Register binds an implementation to a mapper id, replacing any previous
// binding.
func (r *Registry) Register(id string, implementation any) {
	r.implementations[id] = implementation
}

// Lookup returns the implementation registered under id, or nil.
func (r *Registry) Lookup(id string) any {
	return r.implementations[id]
}

// NewDefaultRegistry returns a registry with the built-in mappers bound
// under their canonical ids.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(UserAttributeMapperID, UserAttributeMapper{})
	r.Register(AudienceMapperID, AudienceMapper{})
	r.Register(FullNameMapperID, FullNameMapper{})
	return r
}
