package token

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/realmkit/realmkit/acr"
	"github.com/realmkit/realmkit/clients"
	"github.com/realmkit/realmkit/mappers"
	"github.com/realmkit/realmkit/oauth2"
	"github.com/realmkit/realmkit/realms"
	"github.com/realmkit/realmkit/roles"
	"github.com/realmkit/realmkit/sessions"
	"github.com/realmkit/realmkit/users"
)

// CreateClientAccessToken builds a fresh access token for the context:
// base claims, flattened role accesses, acr value, then the protocol-mapper
// transforms.
func (m *Manager) CreateClientAccessToken(realm *realms.Realm, client *clients.Client, user *users.User,
	userSession *sessions.UserSession, clientSessionCtx *ClientSessionContext) *AccessToken {
	accessToken := m.initAccessToken(realm, client, user, userSession, clientSessionCtx)

	for _, role := range clientSessionCtx.Roles() {
		m.addComposites(accessToken, role, client)
	}

	accessToken.Acr = m.buildAcrValue(client, user, clientSessionCtx)

	m.transformAccessToken(accessToken, clientSessionCtx)
	return accessToken
}

func (m *Manager) initAccessToken(realm *realms.Realm, client *clients.Client, user *users.User,
	userSession *sessions.UserSession, clientSessionCtx *ClientSessionContext) *AccessToken {
	now := m.nowFunc()
	clientSession := clientSessionCtx.ClientSession()

	issuer := clientSession.Note(sessions.NoteIssuer)
	if issuer == "" {
		issuer = realm.Issuer
	}

	accessToken := &AccessToken{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{client.ClientID},
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(m.tokenExpiration(realm, userSession, clientSession, now)),
		},
		Type:         oauth2.TokenTypeBearer,
		IssuedFor:    client.ClientID,
		Nonce:        clientSession.Note(sessions.NoteNonce),
		SessionState: userSession.ID,
	}

	if authTime := userSession.Note(sessions.NoteAuthTime); authTime != "" {
		if parsed, err := strconv.ParseInt(authTime, 10, 64); err == nil {
			accessToken.AuthTime = parsed
		}
	}

	if len(client.WebOrigins) > 0 {
		accessToken.AllowedOrigins = append([]string(nil), client.WebOrigins...)
	}

	return accessToken
}

// tokenExpiration applies the lifespan policy: the implicit-flow lifespan
// when the session was established via implicit flow, else the standard
// access token lifespan, capped at the session's absolute expiry for online
// sessions. Offline sessions are not capped.
func (m *Manager) tokenExpiration(realm *realms.Realm, userSession *sessions.UserSession,
	clientSession *sessions.ClientSession, now time.Time) time.Time {
	implicitFlow := oauth2.IsImplicitFlow(clientSession.Note(sessions.NoteResponseType))

	lifespan := realm.AccessTokenLifespan
	if implicitFlow {
		lifespan = realm.AccessTokenLifespanImplicitFlow
		if lifespan == 0 {
			lifespan = m.cfg.GetDefaultImplicitFlowLifespan()
		}
	} else if lifespan == 0 {
		lifespan = m.cfg.GetDefaultAccessTokenLifespan()
	}

	expiration := now.Add(lifespan)
	if !userSession.Offline {
		sessionExpires := realm.SessionExpires(userSession.Started)
		if expiration.After(sessionExpires) {
			expiration = sessionExpires
		}
	}
	return expiration
}

// addComposites flattens a role into the token's realm or resource access
// block, then recurses into its composites. A role already present under
// its container is not reprocessed, which also terminates cyclic composite
// graphs.
func (m *Manager) addComposites(accessToken *AccessToken, role *roles.Role, client *clients.Client) {
	var access *Access
	if role.IsRealmRole() {
		if accessToken.RealmAccess == nil {
			accessToken.RealmAccess = &Access{}
		} else if accessToken.RealmAccess.HasRole(role.Name) {
			return
		}
		access = accessToken.RealmAccess
	} else {
		access = accessToken.ResourceAccessFor(role.ContainerClientID)
		if access == nil {
			access = accessToken.AddAccess(role.ContainerClientID)
			if role.ContainerClientID == client.ClientID && client.SurrogateAuthRequired {
				access.VerifyCaller = true
			}
		} else if access.HasRole(role.Name) {
			return
		}
	}
	access.AddRole(role.Name)

	if !role.IsComposite() {
		return
	}
	for _, composite := range m.resolver.Registry().Composites(role) {
		m.addComposites(accessToken, composite, client)
	}
}

func (m *Manager) buildAcrValue(client *clients.Client, user *users.User, clientSessionCtx *ClientSessionContext) string {
	providerID := client.Attribute(acr.AttributeID)
	provider := m.acr.Provider(providerID)
	return provider.BuildAcrValue(user, clientSessionCtx.ClientSession())
}

func (m *Manager) transformAccessToken(accessToken *AccessToken, clientSessionCtx *ClientSessionContext) {
	env := clientSessionCtx.MapperEnv()
	for _, decl := range clientSessionCtx.ProtocolMappers() {
		if transformer, ok := m.mappers.Lookup(decl.Mapper).(mappers.AccessTokenTransformer); ok {
			transformer.TransformAccessToken(accessToken, decl, env)
		}
	}
}

// TransformUserInfoAccessToken applies only the user-info capability of the
// context's mappers, for the userinfo endpoint.
func (m *Manager) TransformUserInfoAccessToken(accessToken *AccessToken, clientSessionCtx *ClientSessionContext) {
	env := clientSessionCtx.MapperEnv()
	for _, decl := range clientSessionCtx.ProtocolMappers() {
		if transformer, ok := m.mappers.Lookup(decl.Mapper).(mappers.UserInfoTransformer); ok {
			transformer.TransformUserInfoToken(accessToken, decl, env)
		}
	}
}

func (m *Manager) transformIDToken(idToken *IDToken, clientSessionCtx *ClientSessionContext) {
	env := clientSessionCtx.MapperEnv()
	for _, decl := range clientSessionCtx.ProtocolMappers() {
		if transformer, ok := m.mappers.Lookup(decl.Mapper).(mappers.IDTokenTransformer); ok {
			transformer.TransformIDToken(idToken, decl, env)
		}
	}
}
