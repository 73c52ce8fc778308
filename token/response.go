package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/realmkit/realmkit/clients"
	"github.com/realmkit/realmkit/oauth2"
	"github.com/realmkit/realmkit/realms"
	"github.com/realmkit/realmkit/sessions"
)

// ResponseBuilder assembles a token endpoint response: an access token plus
// optional refresh and ID tokens, signed together so the ID token can carry
// the access token hash. Generate the access token first; the other
// Generate methods derive from it.
type ResponseBuilder struct {
	m *Manager

	realm            *realms.Realm
	client           *clients.Client
	userSession      *sessions.UserSession
	clientSessionCtx *ClientSessionContext

	accessToken  *AccessToken
	refreshToken *RefreshToken
	idToken      *IDToken

	generateAccessTokenHash bool
	codeHashInput           string
	stateHashInput          string
}

// ResponseBuilder starts a response for the given session context.
func (m *Manager) ResponseBuilder(realm *realms.Realm, client *clients.Client,
	userSession *sessions.UserSession, clientSessionCtx *ClientSessionContext) *ResponseBuilder {
	return &ResponseBuilder{
		m:                m,
		realm:            realm,
		client:           client,
		userSession:      userSession,
		clientSessionCtx: clientSessionCtx,
	}
}

// AccessToken sets a prebuilt access token on the builder.
func (b *ResponseBuilder) AccessToken(accessToken *AccessToken) *ResponseBuilder {
	b.accessToken = accessToken
	return b
}

// GenerateAccessToken builds the access token from the builder's context.
func (b *ResponseBuilder) GenerateAccessToken() *ResponseBuilder {
	ctx := b.clientSessionCtx
	b.accessToken = b.m.CreateClientAccessToken(b.realm, b.client, ctx.User(), b.userSession, ctx)
	return b
}

// GenerateRefreshToken derives the refresh token from the access token and
// the scope snapshot. When the context grants offline access the token is
// an offline token without expiry and the session is persisted as an
// offline session.
func (b *ResponseBuilder) GenerateRefreshToken(ctx context.Context) error {
	if b.accessToken == nil {
		return fmt.Errorf("%w: generate access token before refresh token", ErrIllegalState)
	}

	now := b.m.nowFunc()
	refreshToken := *b.accessToken
	refreshToken.ID = uuid.NewString()
	refreshToken.IssuedAt = jwt.NewNumericDate(now)
	refreshToken.ScopeIDs = b.clientSessionCtx.ScopeIDs()

	if b.offlineTokenGranted() {
		if !b.isOfflineTokenAllowed() {
			return oauth2.NewError(oauth2.ErrorNotAllowed, "Offline tokens not allowed for the user or client")
		}
		refreshToken.Type = oauth2.TokenTypeOffline
		refreshToken.ExpiresAt = nil
		if err := b.persistOfflineSession(ctx, now); err != nil {
			return err
		}
	} else {
		refreshToken.Type = oauth2.TokenTypeRefresh
		refreshToken.ExpiresAt = jwt.NewNumericDate(b.refreshExpiration(now))
	}

	b.refreshToken = &refreshToken
	return nil
}

// GenerateIDToken derives the ID token from the access token claims and
// runs the ID token mapper transforms.
func (b *ResponseBuilder) GenerateIDToken() error {
	if b.accessToken == nil {
		return fmt.Errorf("%w: generate access token before ID token", ErrIllegalState)
	}

	idToken := &IDToken{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   b.accessToken.Subject,
			Audience:  jwt.ClaimStrings{b.client.ClientID},
			Issuer:    b.accessToken.Issuer,
			IssuedAt:  b.accessToken.IssuedAt,
			ExpiresAt: b.accessToken.ExpiresAt,
		},
		Type:         oauth2.TokenTypeID,
		IssuedFor:    b.accessToken.IssuedFor,
		Nonce:        b.accessToken.Nonce,
		AuthTime:     b.accessToken.AuthTime,
		SessionState: b.accessToken.SessionState,
		Acr:          b.accessToken.Acr,
	}
	b.m.transformIDToken(idToken, b.clientSessionCtx)

	b.idToken = idToken
	b.generateAccessTokenHash = true
	return nil
}

// GenerateCodeHash records the authorization code whose half-hash goes into
// the ID token's c_hash claim.
func (b *ResponseBuilder) GenerateCodeHash(code string) *ResponseBuilder {
	b.codeHashInput = code
	return b
}

// GenerateStateHash records the state value whose half-hash goes into the
// ID token's s_hash claim.
func (b *ResponseBuilder) GenerateStateHash(state string) *ResponseBuilder {
	b.stateHashInput = state
	return b
}

// Build signs the accumulated tokens and assembles the response payload.
func (b *ResponseBuilder) Build() (*oauth2.AccessTokenResponse, error) {
	if b.accessToken == nil {
		return nil, fmt.Errorf("%w: no access token to build a response from", ErrIllegalState)
	}

	activeKey, err := b.m.keys.ActiveKey(b.realm.ID)
	if err != nil {
		return nil, fmt.Errorf("realm signing key: %w", err)
	}

	signedAccessToken, err := activeKey.Sign(b.accessToken)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	response := &oauth2.AccessTokenResponse{
		AccessToken:  signedAccessToken,
		TokenType:    oauth2.TokenTypeBearer,
		SessionState: b.accessToken.SessionState,
	}
	now := b.m.nowFunc()
	if b.accessToken.ExpiresAt != nil {
		response.ExpiresIn = secondsUntil(now, b.accessToken.ExpiresAt.Time)
	}

	if b.idToken != nil {
		if b.generateAccessTokenHash {
			b.idToken.AccessTokenHash = oidcHash(signedAccessToken)
		}
		if b.codeHashInput != "" {
			b.idToken.CodeHash = oidcHash(b.codeHashInput)
		}
		if b.stateHashInput != "" {
			b.idToken.StateHash = oidcHash(b.stateHashInput)
		}
		signedIDToken, err := activeKey.Sign(b.idToken)
		if err != nil {
			return nil, fmt.Errorf("sign id token: %w", err)
		}
		response.IDToken = signedIDToken
	}

	if b.refreshToken != nil {
		signedRefreshToken, err := activeKey.Sign(b.refreshToken)
		if err != nil {
			return nil, fmt.Errorf("sign refresh token: %w", err)
		}
		response.RefreshToken = signedRefreshToken
		if b.refreshToken.ExpiresAt != nil {
			response.RefreshExpiresIn = secondsUntil(now, b.refreshToken.ExpiresAt.Time)
		}
	}

	response.NotBeforePolicy = b.notBeforePolicy()
	response.Scope = b.scopeString()
	return response, nil
}

// refreshExpiration is the earlier of the idle deadline from now and the
// session's absolute expiry.
func (b *ResponseBuilder) refreshExpiration(now time.Time) time.Time {
	idleExpiration := now.Add(b.realm.SsoSessionIdleTimeout)
	sessionExpiration := b.realm.SessionExpires(b.userSession.Started)
	if idleExpiration.Before(sessionExpiration) {
		return idleExpiration
	}
	return sessionExpiration
}

// offlineTokenGranted reports whether the response should carry an offline
// token: the session is already offline, or the granted scopes include
// offline access.
func (b *ResponseBuilder) offlineTokenGranted() bool {
	if b.userSession.Offline {
		return true
	}
	for _, clientScope := range b.clientSessionCtx.ClientScopes() {
		if clientScope.Name == oauth2.ScopeOfflineAccess {
			return true
		}
	}
	return false
}

// isOfflineTokenAllowed reports whether the effective role set carries the
// realm-level offline access role.
func (b *ResponseBuilder) isOfflineTokenAllowed() bool {
	for _, role := range b.clientSessionCtx.Roles() {
		if role.IsRealmRole() && role.Name == oauth2.ScopeOfflineAccess {
			return true
		}
	}
	return false
}

// persistOfflineSession writes the offline twin of the user session. An
// already-offline session is written back under its own kind by the
// caller's compare-and-swap, not here. The twin is written before that
// compare-and-swap runs, so a conflicted attempt writes it again; the put
// is an unconditional overwrite keyed by session id, so repeats land on
// the same entry.
func (b *ResponseBuilder) persistOfflineSession(ctx context.Context, now time.Time) error {
	if b.userSession.Offline {
		return nil
	}
	offlineSession := b.userSession.Clone()
	offlineSession.Offline = true
	offlineSession.LastSessionRefresh = now
	if err := b.m.store.Put(ctx, sessions.Offline, offlineSession); err != nil {
		return fmt.Errorf("persist offline session: %w", err)
	}
	return nil
}

// notBeforePolicy is the newest non-zero not-before watermark among realm,
// client and user, in unix seconds.
func (b *ResponseBuilder) notBeforePolicy() int64 {
	var policy int64
	for _, notBefore := range []time.Time{b.realm.NotBefore, b.client.NotBefore, b.clientSessionCtx.User().NotBefore} {
		if !notBefore.IsZero() && notBefore.Unix() > policy {
			policy = notBefore.Unix()
		}
	}
	return policy
}

// scopeString joins the granted scope names, skipping the client-identity
// pseudo scope, and includes "openid" when an ID token was produced.
func (b *ResponseBuilder) scopeString() string {
	names := make([]string, 0, len(b.clientSessionCtx.ClientScopes()))
	for _, clientScope := range b.clientSessionCtx.ClientScopes() {
		if clientScope.ClientIdentity {
			continue
		}
		names = append(names, clientScope.Name)
	}
	scopeParam := strings.Join(names, " ")
	if b.idToken != nil {
		scopeParam = oauth2.AttachOIDCScope(scopeParam)
	}
	return scopeParam
}

func secondsUntil(now, deadline time.Time) int64 {
	seconds := int64(deadline.Sub(now) / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}
