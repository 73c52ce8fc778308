package token

import (
	"github.com/realmkit/realmkit/clients"
	"github.com/realmkit/realmkit/mappers"
	"github.com/realmkit/realmkit/roles"
	"github.com/realmkit/realmkit/scope"
	"github.com/realmkit/realmkit/sessions"
	"github.com/realmkit/realmkit/users"
)

// ClientSessionContext is a request-scoped view combining a client session
// with a requested set of client scope ids. Derived fields (resolved
// scopes, roles, protocol mappers) are computed lazily and memoized for the
// lifetime of one request-handling call.
//
// Not thread safe: single-writer, single-request lifetime.
type ClientSessionContext struct {
	resolver *scope.Resolver

	user          *users.User
	client        *clients.Client
	userSession   *sessions.UserSession
	clientSession *sessions.ClientSession
	scopeIDs      []string

	clientScopes    []*clients.ClientScope
	roles           map[string]*roles.Role
	protocolMappers []mappers.Declaration
	mappersLoaded   bool
}

// NewClientSessionContext builds a context from a scope id snapshot, e.g.
// the scope_ids claim of a refresh token.
func NewClientSessionContext(resolver *scope.Resolver, user *users.User, client *clients.Client,
	userSession *sessions.UserSession, clientSession *sessions.ClientSession, scopeIDs []string) *ClientSessionContext {
	return &ClientSessionContext{
		resolver:      resolver,
		user:          user,
		client:        client,
		userSession:   userSession,
		clientSession: clientSession,
		scopeIDs:      scopeIDs,
	}
}

// NewClientSessionContextFromScopes builds a context from already-resolved
// client scopes, deriving the id snapshot from them.
func NewClientSessionContextFromScopes(resolver *scope.Resolver, user *users.User, client *clients.Client,
	userSession *sessions.UserSession, clientSession *sessions.ClientSession, clientScopes []*clients.ClientScope) *ClientSessionContext {
	scopeIDs := make([]string, 0, len(clientScopes))
	for _, clientScope := range clientScopes {
		scopeIDs = append(scopeIDs, clientScope.ID)
	}
	return &ClientSessionContext{
		resolver:      resolver,
		user:          user,
		client:        client,
		userSession:   userSession,
		clientSession: clientSession,
		scopeIDs:      scopeIDs,
		clientScopes:  clientScopes,
	}
}

func (ctx *ClientSessionContext) User() *users.User { return ctx.user }

func (ctx *ClientSessionContext) Client() *clients.Client { return ctx.client }

func (ctx *ClientSessionContext) UserSession() *sessions.UserSession { return ctx.userSession }

func (ctx *ClientSessionContext) ClientSession() *sessions.ClientSession { return ctx.clientSession }

// ScopeIDs returns the client scope id snapshot the context was built from.
func (ctx *ClientSessionContext) ScopeIDs() []string {
	return ctx.scopeIDs
}

// HasScopeID reports whether the snapshot contains the given scope id.
func (ctx *ClientSessionContext) HasScopeID(scopeID string) bool {
	for _, id := range ctx.scopeIDs {
		if id == scopeID {
			return true
		}
	}
	return false
}

// ClientScopes resolves the scope ids against the catalogue, dropping
// dangling ids.
func (ctx *ClientSessionContext) ClientScopes() []*clients.ClientScope {
	if ctx.clientScopes == nil {
		ctx.clientScopes = ctx.resolver.ScopesByID(ctx.scopeIDs, ctx.client)
	}
	return ctx.clientScopes
}

// Roles resolves the effective role set for the context's user, client and
// scopes.
func (ctx *ClientSessionContext) Roles() map[string]*roles.Role {
	if ctx.roles == nil {
		ctx.roles = ctx.resolver.GetAccess(ctx.user, ctx.client, ctx.ClientScopes())
	}
	return ctx.roles
}

// ProtocolMappers collects the mapper declarations of the resolved scopes,
// filtered to the client's protocol. Order is deterministic: scopes in
// resolution order, declarations in declared order.
func (ctx *ClientSessionContext) ProtocolMappers() []mappers.Declaration {
	if !ctx.mappersLoaded {
		protocol := ctx.client.Protocol
		for _, clientScope := range ctx.ClientScopes() {
			for _, decl := range clientScope.ProtocolMappers {
				if decl.Protocol == protocol {
					ctx.protocolMappers = append(ctx.protocolMappers, decl)
				}
			}
		}
		ctx.mappersLoaded = true
	}
	return ctx.protocolMappers
}

// MapperEnv packages the read snapshots mapper transforms may consult.
func (ctx *ClientSessionContext) MapperEnv() mappers.Env {
	return mappers.Env{
		User:          ctx.user,
		UserSession:   ctx.userSession,
		ClientSession: ctx.clientSession,
	}
}
