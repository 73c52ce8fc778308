// Package scope computes the effective client scopes and roles granted for
// a (user, client, requested scope) triple. The resolver operates on read
// snapshots of the role/group graph and never mutates shared state.
package scope

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/realmkit/realmkit/clients"
	"github.com/realmkit/realmkit/roles"
	"github.com/realmkit/realmkit/users"
)

// Resolver resolves scope and role grants against a realm's configuration
// snapshot.
type Resolver struct {
	registry *roles.Registry
	scopes   *clients.ScopeIndex
	log      zerolog.Logger
}

type ResolverOption func(*Resolver)

// WithLogger attaches a logger for trace-level resolution diagnostics.
func WithLogger(log zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.log = log
	}
}

func NewResolver(registry *roles.Registry, scopes *clients.ScopeIndex, options ...ResolverOption) *Resolver {
	r := &Resolver{
		registry: registry,
		scopes:   scopes,
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// ScopeIndex exposes the catalogue the resolver was built with.
func (r *Resolver) ScopeIndex() *clients.ScopeIndex {
	return r.scopes
}

// Registry exposes the role/group graph the resolver was built with.
func (r *Resolver) Registry() *roles.Registry {
	return r.registry
}

// RequestedClientScopes returns the client itself plus all its default
// scopes plus the optional scopes named in the space-delimited scope
// parameter. Requested names absent from the client's optional catalogue
// are silently ignored.
func (r *Resolver) RequestedClientScopes(scopeParam string, client *clients.Client) []*clients.ClientScope {
	clientScopes := make([]*clients.ClientScope, 0, len(client.DefaultScopeIDs)+2)
	seen := make(map[string]bool)

	add := func(scope *clients.ClientScope) {
		if scope == nil || seen[scope.ID] {
			return
		}
		seen[scope.ID] = true
		clientScopes = append(clientScopes, scope)
	}

	for _, id := range client.DefaultScopeIDs {
		add(r.scopes.ByID(id))
	}
	add(client.AsScope())

	if scopeParam == "" {
		return clientScopes
	}

	optional := make(map[string]bool, len(client.OptionalScopeIDs))
	for _, id := range client.OptionalScopeIDs {
		optional[id] = true
	}
	for _, name := range strings.Fields(scopeParam) {
		scope := r.scopes.ByName(name)
		if scope != nil && optional[scope.ID] {
			add(scope)
		}
	}

	return clientScopes
}

// ScopesByID materializes client scopes from a stored id snapshot (e.g. the
// scope_ids claim of a refresh token). The client id resolves to the
// client-as-scope view; dangling ids are dropped.
func (r *Resolver) ScopesByID(scopeIDs []string, client *clients.Client) []*clients.ClientScope {
	clientScopes := make([]*clients.ClientScope, 0, len(scopeIDs))
	for _, id := range scopeIDs {
		if id == client.ID {
			clientScopes = append(clientScopes, client.AsScope())
			continue
		}
		if scope := r.scopes.ByID(id); scope != nil {
			clientScopes = append(clientScopes, scope)
		}
	}
	return clientScopes
}

// GetAccess computes the effective role set for the user and client under
// the given client scopes. With full scope enabled every role the user
// holds (directly or through group inheritance) is granted; otherwise the
// user's roles are narrowed against the scope-mapping set through
// composite-role containment.
func (r *Resolver) GetAccess(user *users.User, client *clients.Client, clientScopes []*clients.ClientScope) map[string]*roles.Role {
	roleMappings := r.userRoleMappings(user)

	if client.FullScopeAllowed {
		r.log.Trace().Str("client", client.ClientID).Msg("using full scope for client")
		return roleMappings
	}

	scopeMappings := make(map[string]*roles.Role)
	for _, id := range client.RoleIDs {
		if role := r.registry.Role(id); role != nil {
			scopeMappings[role.ID] = role
		}
	}
	for _, clientScope := range clientScopes {
		r.log.Trace().
			Str("scope", clientScope.Name).
			Str("client", client.ClientID).
			Msg("adding client scope role mappings")
		for _, id := range clientScope.ScopeMappingIDs {
			if role := r.registry.Role(id); role != nil {
				scopeMappings[role.ID] = role
			}
		}
	}

	requested := make(map[string]*roles.Role)
	for _, role := range roleMappings {
		for _, desired := range scopeMappings {
			visited := make(map[string]bool)
			r.applyScope(role, desired, visited, requested)
		}
	}
	return requested
}

// applyScope adds the scope role (or any composite it contains) to the
// requested set when the user role grants it. The visited set guarantees
// termination on cyclic composite graphs.
func (r *Resolver) applyScope(role, scopeRole *roles.Role, visited map[string]bool, requested map[string]*roles.Role) {
	if visited[scopeRole.ID] {
		return
	}
	visited[scopeRole.ID] = true

	if r.registry.HasRole(role, scopeRole) {
		requested[scopeRole.ID] = scopeRole
		return
	}
	if !scopeRole.IsComposite() {
		return
	}
	for _, contained := range r.registry.Composites(scopeRole) {
		r.applyScope(role, contained, visited, requested)
	}
}

// userRoleMappings unions the user's direct roles with the role mappings of
// every group the user belongs to, walking each group's parent chain to the
// root.
func (r *Resolver) userRoleMappings(user *users.User) map[string]*roles.Role {
	roleMappings := make(map[string]*roles.Role)
	for _, id := range user.RoleIDs {
		if role := r.registry.Role(id); role != nil {
			roleMappings[role.ID] = role
		}
	}
	for _, groupID := range user.GroupIDs {
		if group := r.registry.Group(groupID); group != nil {
			r.registry.GroupRoles(group, roleMappings)
		}
	}
	return roleMappings
}
