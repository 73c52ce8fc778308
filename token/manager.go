package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/realmkit/realmkit/acr"
	"github.com/realmkit/realmkit/clients"
	"github.com/realmkit/realmkit/consent"
	"github.com/realmkit/realmkit/internal/config"
	"github.com/realmkit/realmkit/mappers"
	"github.com/realmkit/realmkit/oauth2"
	"github.com/realmkit/realmkit/realms"
	"github.com/realmkit/realmkit/scope"
	"github.com/realmkit/realmkit/sessions"
	"github.com/realmkit/realmkit/token/keys"
	"github.com/realmkit/realmkit/users"
)

// ErrIllegalState marks internal invariant violations (e.g. building a
// refresh token before an access token exists). These are programming
// errors, not user-facing conditions.
var ErrIllegalState = errors.New("illegal state")

// BackchannelLogoutFunc notifies a client that its session became invalid
// during refresh. Failures are logged, never propagated: the refresh is
// already rejected at that point.
type BackchannelLogoutFunc func(ctx context.Context, realm *realms.Realm, userSession *sessions.UserSession)

// Manager creates tokens and drives the refresh protocol. It is stateless
// apart from configuration snapshots and collaborator handles; all session
// mutation goes through the store's compare-and-swap.
type Manager struct {
	keys     *keys.Manager
	store    sessions.Store
	users    users.Repo
	consents consent.Store
	resolver *scope.Resolver
	mappers  *mappers.Registry
	acr      *acr.Registry

	cfg     config.ProtocolConfig
	log     zerolog.Logger
	nowFunc func() time.Time

	// startedAt anchors the reuse-detection grace window after a node
	// restart.
	startedAt time.Time

	backchannelLogout BackchannelLogoutFunc
}

type ManagerOption func(*Manager)

// WithNowFunc sets the time source (primarily for testing).
func WithNowFunc(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = nowFunc
		m.startedAt = nowFunc()
	}
}

// WithLogger attaches a logger for protocol diagnostics.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithConfig overrides the default protocol configuration.
func WithConfig(cfg config.ProtocolConfig) ManagerOption {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithBackchannelLogout installs the notification hook invoked when an
// online session fails validation during refresh.
func WithBackchannelLogout(fn BackchannelLogoutFunc) ManagerOption {
	return func(m *Manager) {
		m.backchannelLogout = fn
	}
}

func New(keyManager *keys.Manager, store sessions.Store, userRepo users.Repo, consentStore consent.Store,
	resolver *scope.Resolver, mapperRegistry *mappers.Registry, acrRegistry *acr.Registry, options ...ManagerOption) (*Manager, error) {
	if keyManager == nil {
		return nil, errors.New("[token.New] key manager is required")
	}
	if store == nil {
		return nil, errors.New("[token.New] session store is required")
	}
	if userRepo == nil {
		return nil, errors.New("[token.New] user repo is required")
	}
	if consentStore == nil {
		return nil, errors.New("[token.New] consent store is required")
	}
	if resolver == nil {
		return nil, errors.New("[token.New] scope resolver is required")
	}

	m := &Manager{
		keys:     keyManager,
		store:    store,
		users:    userRepo,
		consents: consentStore,
		resolver: resolver,
		mappers:  mapperRegistry,
		acr:      acrRegistry,
		cfg:      config.Protocol{},
		log:      zerolog.Nop(),
		nowFunc:  time.Now,
	}
	if m.mappers == nil {
		m.mappers = mappers.NewDefaultRegistry()
	}
	if m.acr == nil {
		m.acr = acr.NewRegistry()
	}

	for _, opt := range options {
		opt(m)
	}
	if m.startedAt.IsZero() {
		m.startedAt = m.nowFunc()
	}
	return m, nil
}

// tokenValidation carries the outcome of the validation states of the
// refresh protocol, including the session snapshot and its store version
// for the final compare-and-swap.
type tokenValidation struct {
	user             *users.User
	userSession      *sessions.UserSession
	kind             sessions.Kind
	version          uint64
	clientSessionCtx *ClientSessionContext
	newToken         *AccessToken
}

// VerifyRefreshToken decodes an encoded refresh token, verifies its
// signature against the realm keys and, when requested, its time bounds.
// This is the Received -> SignatureVerified transition.
func (m *Manager) VerifyRefreshToken(realm *realms.Realm, encodedRefreshToken string, checkExpiration bool) (*RefreshToken, error) {
	refreshToken, err := m.parseRefreshToken(realm, encodedRefreshToken)
	if err != nil {
		return nil, err
	}

	if refreshToken.Type != oauth2.TokenTypeRefresh && refreshToken.Type != oauth2.TokenTypeOffline {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Invalid refresh token")
	}

	if checkExpiration {
		now := m.nowFunc()
		if refreshToken.IsExpired(now) {
			return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Refresh token expired")
		}
		if refreshToken.NotBefore != nil && now.Before(refreshToken.NotBefore.Time) {
			return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Refresh token not yet valid")
		}
		if refreshToken.IssuedBefore(realm.NotBefore) {
			return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Stale refresh token")
		}
	}

	return refreshToken, nil
}

// parseRefreshToken verifies the compact token signature and decodes the
// claim set. Legacy offline tokens predate kid headers and verify against
// the realm's active key.
func (m *Manager) parseRefreshToken(realm *realms.Realm, encodedRefreshToken string) (*RefreshToken, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{keys.RS256}), jwt.WithoutClaimsValidation())

	unverified := &RefreshToken{}
	if _, _, err := parser.ParseUnverified(encodedRefreshToken, unverified); err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Invalid refresh token")
	}

	keyFunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			if unverified.Type != oauth2.TokenTypeOffline {
				return nil, fmt.Errorf("token has no key id")
			}
			m.log.Debug().Str("realm", realm.ID).Msg("kid missing in offline token, using realm active key")
			activeKey, err := m.keys.ActiveKey(realm.ID)
			if err != nil {
				return nil, err
			}
			return activeKey.PublicKey, nil
		}
		return m.keys.PublicKeyByID(realm.ID, kid)
	}

	refreshToken := &RefreshToken{}
	if _, err := parser.ParseWithClaims(encodedRefreshToken, refreshToken, keyFunc); err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Invalid refresh token")
	}
	return refreshToken, nil
}

// validateToken runs the SessionResolved and ConsentChecked states against
// the current session state and rebuilds the replacement access token.
func (m *Manager) validateToken(ctx context.Context, realm *realms.Realm, client *clients.Client, oldToken *RefreshToken) (*tokenValidation, error) {
	now := m.nowFunc()
	offline := oldToken.Type == oauth2.TokenTypeOffline

	kind := sessions.Online
	if offline {
		kind = sessions.Offline
	}

	userSession, version, err := m.store.Get(ctx, kind, oldToken.SessionState)
	if offline {
		switch {
		case errors.Is(err, sessions.ErrNotFound):
			return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Offline user session not found")
		case err != nil:
			return nil, fmt.Errorf("load offline session: %w", err)
		case !userSession.IsOfflineValid(realm, now):
			// Revoke the timed-out offline session.
			if removeErr := m.store.Remove(ctx, sessions.Offline, userSession.ID); removeErr != nil {
				m.log.Warn().Err(removeErr).Str("session", userSession.ID).Msg("failed to revoke expired offline session")
			}
			return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Offline session not active")
		}
	} else {
		if err != nil && !errors.Is(err, sessions.ErrNotFound) {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if err != nil || !userSession.IsValid(realm, now) {
			if userSession != nil && m.backchannelLogout != nil {
				m.backchannelLogout(ctx, realm, userSession)
			}
			return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Session not active")
		}
	}

	user, err := m.users.GetByID(userSession.UserID)
	if err != nil || user == nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Unknown user")
	}
	if !user.Enabled {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "User disabled")
	}

	clientSession := userSession.ClientSessionByClient(client.ID)
	if clientSession == nil {
		// The client can lose its session entry in a cross-node race;
		// recreate it lazily so rotation state starts fresh.
		clientSession = &sessions.ClientSession{
			ClientID:  client.ID,
			Protocol:  client.Protocol,
			Timestamp: now.Truncate(time.Second),
		}
		userSession.AttachClientSession(clientSession)
	}

	if client.ClientID != oldToken.IssuedFor {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Unmatching clients")
	}

	if oldToken.IssuedBefore(client.NotBefore) || oldToken.IssuedBefore(realm.NotBefore) || oldToken.IssuedBefore(user.NotBefore) {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Stale token")
	}

	scopeIDs := oldToken.ScopeIDs
	if scopeIDs == nil && userSession.Offline {
		// Offline tokens minted before scope snapshots lack the claim;
		// reconstruct the set from defaults and granted consent.
		m.log.Debug().
			Str("user", user.Username).
			Str("client", client.ClientID).
			Str("realm", realm.Name).
			Msg("migrating legacy offline token")
		scopeIDs, err = m.migrateLegacyOfflineScopes(ctx, realm, client, user)
		if err != nil {
			return nil, err
		}
	}

	clientSessionCtx := NewClientSessionContext(m.resolver, user, client, userSession, clientSession, scopeIDs)

	stillConsented, err := m.verifyConsentStillAvailable(ctx, realm, user, client, clientSessionCtx.ClientScopes())
	if err != nil {
		return nil, err
	}
	if !stillConsented {
		return nil, oauth2.NewError(oauth2.ErrorInvalidScope, "Client no longer has requested consent from user")
	}

	newToken := m.CreateClientAccessToken(realm, client, user, userSession, clientSessionCtx)
	if err := verifyAccess(oldToken, newToken); err != nil {
		return nil, err
	}

	return &tokenValidation{
		user:             user,
		userSession:      userSession,
		kind:             kind,
		version:          version,
		clientSessionCtx: clientSessionCtx,
		newToken:         newToken,
	}, nil
}

// RefreshAccessToken drives the full refresh protocol for an encoded
// refresh token: verification, session validation, reuse detection,
// reissuance and the compare-and-swap write-back of rotation state. A CAS
// conflict re-enters validation on a fresh session snapshot. The returned
// bool reports whether the presented token was an offline token.
func (m *Manager) RefreshAccessToken(ctx context.Context, realm *realms.Realm, client *clients.Client, encodedRefreshToken string) (*oauth2.AccessTokenResponse, bool, error) {
	refreshToken, err := m.VerifyRefreshToken(realm, encodedRefreshToken, true)
	if err != nil {
		return nil, false, err
	}
	offline := refreshToken.Type == oauth2.TokenTypeOffline

	for attempt := 0; ; attempt++ {
		response, swapped, err := m.refreshOnce(ctx, realm, client, refreshToken)
		if err != nil {
			return nil, false, err
		}
		if swapped {
			return response, offline, nil
		}
		if attempt >= m.cfg.GetCASRetryLimit() {
			return nil, false, oauth2.NewError(oauth2.ErrorInvalidGrant, "Concurrent session update, please retry")
		}
		m.log.Debug().
			Str("session", refreshToken.SessionState).
			Int("attempt", attempt+1).
			Msg("session CAS conflict, re-validating")
	}
}

// refreshOnce runs one pass of the protocol from the SessionResolved state
// onwards. It reports swapped=false when the final compare-and-swap lost
// against a concurrent writer.
func (m *Manager) refreshOnce(ctx context.Context, realm *realms.Realm, client *clients.Client, refreshToken *RefreshToken) (*oauth2.AccessTokenResponse, bool, error) {
	validation, err := m.validateToken(ctx, realm, client, refreshToken)
	if err != nil {
		return nil, false, err
	}
	clientSession := validation.clientSessionCtx.ClientSession()

	if err := m.validateTokenReuse(realm, refreshToken, clientSession); err != nil {
		return nil, false, err
	}

	now := m.nowFunc()
	// iat claims serialize at second precision; the rotation timestamp is
	// stored at the same granularity so the replay comparison holds for a
	// token minted in the same instant.
	clientSession.Timestamp = now.Truncate(time.Second)
	validation.userSession.LastSessionRefresh = now

	if refreshToken.Authorization != nil {
		validation.newToken.Authorization = refreshToken.Authorization
	}

	responseBuilder := m.ResponseBuilder(realm, client, validation.userSession, validation.clientSessionCtx).
		AccessToken(validation.newToken)
	if err := responseBuilder.GenerateRefreshToken(ctx); err != nil {
		return nil, false, err
	}
	if oauth2.IsOIDCRequest(clientSession.Note(sessions.NoteScope)) {
		if err := responseBuilder.GenerateIDToken(); err != nil {
			return nil, false, err
		}
	}

	response, err := responseBuilder.Build()
	if err != nil {
		return nil, false, err
	}

	swapped, err := m.store.CompareAndSwap(ctx, validation.kind, validation.version, validation.userSession)
	if err != nil {
		return nil, false, fmt.Errorf("session update: %w", err)
	}
	return response, swapped, nil
}

// validateTokenReuse implements the ReuseChecked state: replay detection
// plus rotation bookkeeping on the (not yet persisted) session snapshot.
func (m *Manager) validateTokenReuse(realm *realms.Realm, refreshToken *RefreshToken, clientSession *sessions.ClientSession) error {
	if !realm.RevokeRefreshToken {
		return nil
	}

	if clientSession.CurrentRefreshToken != "" &&
		refreshToken.ID != clientSession.CurrentRefreshToken &&
		refreshToken.IssuedAt != nil && refreshToken.IssuedAt.Time.Before(clientSession.Timestamp) &&
		!m.withinStartupGrace(clientSession.Timestamp) {
		m.log.Debug().
			Str("presented", refreshToken.ID).
			Str("current", clientSession.CurrentRefreshToken).
			Msg("refresh token replay detected")
		return oauth2.NewError(oauth2.ErrorInvalidGrant, "Stale token")
	}

	if refreshToken.ID != clientSession.CurrentRefreshToken {
		clientSession.CurrentRefreshToken = refreshToken.ID
		clientSession.CurrentRefreshTokenUseCount = 0
	}

	if clientSession.CurrentRefreshTokenUseCount > realm.RefreshTokenMaxReuse {
		return oauth2.NewError(oauth2.ErrorInvalidGrant, "Maximum allowed refresh token reuse exceeded")
	}
	clientSession.CurrentRefreshTokenUseCount++
	return nil
}

// withinStartupGrace reports whether a client-session timestamp falls into
// the grace window around process startup. Session timestamps can be reset
// when a node restarts; treating them as replay evidence would reject
// legitimate refreshes.
func (m *Manager) withinStartupGrace(timestamp time.Time) bool {
	grace := m.cfg.GetReuseGracePeriod()
	delta := timestamp.Sub(m.startedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= grace
}

// migrateLegacyOfflineScopes reconstructs the scope snapshot of an offline
// token minted before snapshots existed: the client defaults plus the
// client itself plus any scopes the user consented to.
func (m *Manager) migrateLegacyOfflineScopes(ctx context.Context, realm *realms.Realm, client *clients.Client, user *users.User) ([]string, error) {
	scopeIDs := []string{}
	for _, clientScope := range m.resolver.RequestedClientScopes("", client) {
		scopeIDs = append(scopeIDs, clientScope.ID)
	}

	record, err := m.consents.GetConsent(ctx, realm.ID, user.ID, client.ID)
	if err != nil {
		return nil, fmt.Errorf("load consent: %w", err)
	}
	if record != nil {
		for _, id := range record.GrantedScopeIDs {
			if m.resolver.ScopeIndex().ByID(id) != nil && !containsString(scopeIDs, id) {
				scopeIDs = append(scopeIDs, id)
			}
		}
	}
	return scopeIDs, nil
}

// verifyConsentStillAvailable checks that the user still consents to every
// requested scope that is displayed on the consent screen. Idempotent for
// unchanged consent state.
func (m *Manager) verifyConsentStillAvailable(ctx context.Context, realm *realms.Realm, user *users.User, client *clients.Client, requestedScopes []*clients.ClientScope) (bool, error) {
	if !client.ConsentRequired {
		return true, nil
	}

	record, err := m.consents.GetConsent(ctx, realm.ID, user.ID, client.ID)
	if err != nil {
		return false, fmt.Errorf("load consent: %w", err)
	}

	for _, requestedScope := range requestedScopes {
		if !requestedScope.DisplayOnConsentScreen {
			continue
		}
		if record == nil || !record.HasScope(requestedScope.ID) {
			m.log.Debug().
				Str("client", client.ClientID).
				Str("user", user.Username).
				Str("scope", requestedScope.Name).
				Msg("consent no longer granted for scope")
			return false, nil
		}
	}
	return true, nil
}

// verifyAccess rejects any privilege loss between the old token and its
// replacement: the new token's realm and resource role claims must be a
// superset of the old one's.
func verifyAccess(oldToken *RefreshToken, newToken *AccessToken) error {
	if oldToken.RealmAccess != nil {
		if newToken.RealmAccess == nil {
			return oauth2.NewError(oauth2.ErrorInvalidScope, "User no longer has permission for realm roles")
		}
		for _, roleName := range oldToken.RealmAccess.Roles {
			if !newToken.RealmAccess.HasRole(roleName) {
				return oauth2.NewError(oauth2.ErrorInvalidScope, "User no longer has permission for realm role: "+roleName)
			}
		}
	}

	for resource, oldAccess := range oldToken.ResourceAccess {
		newAccess := newToken.ResourceAccessFor(resource)
		if newAccess == nil {
			if len(oldAccess.Roles) > 0 {
				return oauth2.NewError(oauth2.ErrorInvalidScope, "No role permissions left for resource: "+resource)
			}
			continue
		}
		for _, roleName := range oldAccess.Roles {
			if !newAccess.HasRole(roleName) {
				return oauth2.NewError(oauth2.ErrorInvalidScope, "User no longer has permission for resource role: "+roleName)
			}
		}
	}
	return nil
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
