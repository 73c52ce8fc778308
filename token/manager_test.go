package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/realmkit/realmkit/clients"
	"github.com/realmkit/realmkit/consent"
	fakeconsentstore "github.com/realmkit/realmkit/consent/storefake"
	"github.com/realmkit/realmkit/oauth2"
	"github.com/realmkit/realmkit/realms"
	"github.com/realmkit/realmkit/roles"
	"github.com/realmkit/realmkit/scope"
	"github.com/realmkit/realmkit/sessions"
	"github.com/realmkit/realmkit/token"
	"github.com/realmkit/realmkit/token/keys"
	"github.com/realmkit/realmkit/users"
	fakeuserrepo "github.com/realmkit/realmkit/users/repofake"
)

const (
	testRealmID    = "realm-1"
	testIssuer     = "https://auth.example.com/realms/acme"
	testClientUUID = "client-uuid-1"
	testClientID   = "web-app"
	testUserID     = "user-1"
	testSessionID  = "session-1"

	profileScopeID = "scope-profile"
	offlineScopeID = "scope-offline"

	userRoleID    = "role-user"
	adminRoleID   = "role-admin"
	offlineRoleID = "role-offline"
)

// testFixture holds all test dependencies
type testFixture struct {
	now time.Time

	keyPair    *keys.KeyPair
	keyManager *keys.Manager
	store      *sessions.MemoryStore
	userRepo   *fakeuserrepo.FakeUserRepo
	consents   *fakeconsentstore.FakeConsentStore
	resolver   *scope.Resolver

	realm   *realms.Realm
	client  *clients.Client
	user    *users.User
	manager *token.Manager
}

func setupTestFixture(t *testing.T, options ...token.ManagerOption) *testFixture {
	t.Helper()

	f := &testFixture{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	keyPair, err := keys.GenerateRSAKeyPair("test-key-1", 2048)
	require.NoError(t, err)
	f.keyPair = keyPair
	f.keyManager = keys.NewManager()
	f.keyManager.RegisterActiveKey(testRealmID, keyPair)

	registry := roles.NewRegistry()
	registry.AddRole(&roles.Role{ID: userRoleID, Name: "user"})
	registry.AddRole(&roles.Role{ID: adminRoleID, Name: "admin"})
	registry.AddRole(&roles.Role{ID: offlineRoleID, Name: oauth2.ScopeOfflineAccess})

	index := clients.NewScopeIndex(
		&clients.ClientScope{ID: profileScopeID, Name: "profile", Protocol: "openid-connect", DisplayOnConsentScreen: true},
		&clients.ClientScope{ID: offlineScopeID, Name: oauth2.ScopeOfflineAccess, Protocol: "openid-connect"},
	)
	f.resolver = scope.NewResolver(registry, index)

	f.user = &users.User{
		ID:       testUserID,
		Username: "jdoe",
		Enabled:  true,
		RoleIDs:  []string{userRoleID},
	}
	f.userRepo = fakeuserrepo.NewFakeUserRepo()
	f.userRepo.Upsert(f.user)

	f.consents = fakeconsentstore.NewFakeConsentStore()
	f.store = sessions.NewMemoryStore()

	f.realm = &realms.Realm{
		ID:                        testRealmID,
		Name:                      "acme",
		Issuer:                    testIssuer,
		AccessTokenLifespan:       5 * time.Minute,
		SsoSessionIdleTimeout:     30 * time.Minute,
		SsoSessionMaxLifespan:     10 * time.Hour,
		OfflineSessionIdleTimeout: 30 * 24 * time.Hour,
		RevokeRefreshToken:        true,
		RefreshTokenMaxReuse:      0,
	}
	f.client = &clients.Client{
		ID:               testClientUUID,
		ClientID:         testClientID,
		Protocol:         "openid-connect",
		FullScopeAllowed: true,
		DefaultScopeIDs:  []string{profileScopeID},
		OptionalScopeIDs: []string{offlineScopeID},
	}

	f.manager = f.newManager(t, f.store, options...)
	return f
}

func (f *testFixture) newManager(t *testing.T, store sessions.Store, options ...token.ManagerOption) *token.Manager {
	t.Helper()

	allOptions := append([]token.ManagerOption{
		token.WithNowFunc(func() time.Time { return f.now }),
	}, options...)
	manager, err := token.New(f.keyManager, store, f.userRepo, f.consents, f.resolver, nil, nil, allOptions...)
	require.NoError(t, err)
	return manager
}

func (f *testFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *testFixture) storeSession(t *testing.T, kind sessions.Kind, scopeParam string) *sessions.UserSession {
	t.Helper()

	userSession := &sessions.UserSession{
		ID:                 testSessionID,
		RealmID:            testRealmID,
		UserID:             testUserID,
		Started:            f.now.Add(-time.Hour),
		LastSessionRefresh: f.now.Add(-time.Minute),
		Offline:            kind == sessions.Offline,
	}
	clientSession := &sessions.ClientSession{
		ClientID:  testClientUUID,
		Protocol:  "openid-connect",
		Timestamp: f.now.Add(-time.Minute),
	}
	clientSession.SetNote(sessions.NoteScope, scopeParam)
	userSession.AttachClientSession(clientSession)

	require.NoError(t, f.store.Put(context.Background(), kind, userSession))
	return userSession
}

func (f *testFixture) signRefreshToken(t *testing.T, mutate func(*token.RefreshToken)) (string, *token.RefreshToken) {
	t.Helper()

	refreshToken := &token.RefreshToken{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   testUserID,
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(f.now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(f.now.Add(30 * time.Minute)),
		},
		Type:         oauth2.TokenTypeRefresh,
		IssuedFor:    testClientID,
		SessionState: testSessionID,
		ScopeIDs:     []string{profileScopeID, testClientUUID},
	}
	if mutate != nil {
		mutate(refreshToken)
	}

	signed, err := f.keyPair.Sign(refreshToken)
	require.NoError(t, err)
	return signed, refreshToken
}

func requireOAuth2Error(t *testing.T, err error, code string) *oauth2.Error {
	t.Helper()

	var oauthErr *oauth2.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, code, oauthErr.Code)
	return oauthErr
}

func TestRefreshAccessTokenRotatesToken(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, oldToken := f.signRefreshToken(t, nil)

	response, offline, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)
	require.False(t, offline)

	require.NotEmpty(t, response.AccessToken)
	require.NotEmpty(t, response.RefreshToken)
	require.NotEmpty(t, response.IDToken)
	require.Equal(t, oauth2.TokenTypeBearer, response.TokenType)
	require.Equal(t, int64(300), response.ExpiresIn)
	require.Equal(t, testSessionID, response.SessionState)
	require.Contains(t, response.Scope, "profile")
	require.Contains(t, response.Scope, oauth2.ScopeOpenID)

	newToken, err := f.manager.VerifyRefreshToken(f.realm, response.RefreshToken, true)
	require.NoError(t, err)
	require.Equal(t, oauth2.TokenTypeRefresh, newToken.Type)
	require.NotEqual(t, oldToken.ID, newToken.ID)
	require.Contains(t, newToken.ScopeIDs, profileScopeID)

	stored, _, err := f.store.Get(context.Background(), sessions.Online, testSessionID)
	require.NoError(t, err)
	require.Equal(t, f.now, stored.LastSessionRefresh)
	clientSession := stored.ClientSessionByClient(testClientUUID)
	require.Equal(t, oldToken.ID, clientSession.CurrentRefreshToken)
	require.Equal(t, 1, clientSession.CurrentRefreshTokenUseCount)
}

func TestRefreshAccessTokenRejectsReuse(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)

	_, _, err = f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	oauthErr := requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
	require.Contains(t, oauthErr.Description, "reuse")
}

func TestRefreshAccessTokenAllowsConfiguredReuse(t *testing.T) {
	f := setupTestFixture(t)
	f.realm.RefreshTokenMaxReuse = 1
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)

	_, _, err = f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)

	_, _, err = f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
}

func TestRefreshAccessTokenRejectsStaleReplay(t *testing.T) {
	f := setupTestFixture(t)

	// Move past the startup grace window before establishing rotation state.
	f.advance(5 * time.Minute)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)

	f.advance(time.Minute)
	forged, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.IssuedAt = jwt.NewNumericDate(f.now.Add(-2 * time.Minute))
	})
	_, _, err = f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, forged)
	oauthErr := requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
	require.Equal(t, "Stale token", oauthErr.Description)
}

func TestRefreshAccessTokenAcceptsRotatedTokenOffSecondBoundary(t *testing.T) {
	f := setupTestFixture(t)

	// Fractional-second clock: the serialized iat truncates to whole
	// seconds, the rotation timestamp must compare at the same precision.
	f.advance(5*time.Minute + 500*time.Millisecond)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	first, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)

	f.advance(750 * time.Millisecond)
	second, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, first.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, second.RefreshToken)
}

func TestRefreshAccessTokenCapsExpiryAtSessionEnd(t *testing.T) {
	f := setupTestFixture(t)
	// The session started one hour ago, so only two minutes of absolute
	// lifetime remain.
	f.realm.SsoSessionMaxLifespan = 62 * time.Minute
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	response, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)
	require.Equal(t, int64(120), response.ExpiresIn)
	require.Equal(t, int64(120), response.RefreshExpiresIn)
}

func TestRefreshAccessTokenOfflineExpiryNotCapped(t *testing.T) {
	f := setupTestFixture(t)
	f.user.RoleIDs = append(f.user.RoleIDs, offlineRoleID)
	f.realm.SsoSessionMaxLifespan = 61 * time.Minute
	f.storeSession(t, sessions.Offline, "openid profile offline_access")
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.Type = oauth2.TokenTypeOffline
		rt.ExpiresAt = nil
		rt.ScopeIDs = append(rt.ScopeIDs, offlineScopeID)
	})

	response, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)
	require.Equal(t, int64(300), response.ExpiresIn)
}

func TestRefreshAccessTokenRejectsRoleRevocation(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")

	// The old token carries a role the user no longer holds.
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.RealmAccess = &token.Access{Roles: []string{"user", "admin"}}
	})

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	oauthErr := requireOAuth2Error(t, err, oauth2.ErrorInvalidScope)
	require.Contains(t, oauthErr.Description, "admin")
}

func TestRefreshAccessTokenRejectsRevokedConsent(t *testing.T) {
	f := setupTestFixture(t)
	f.client.ConsentRequired = true
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	oauthErr := requireOAuth2Error(t, err, oauth2.ErrorInvalidScope)
	require.Contains(t, oauthErr.Description, "consent")

	f.consents.Grant(testRealmID, &consent.Record{
		UserID:          testUserID,
		ClientID:        testClientUUID,
		GrantedScopeIDs: []string{profileScopeID},
	})
	_, _, err = f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)
}

func TestRefreshAccessTokenRejectsRealmNotBefore(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	f.realm.NotBefore = f.now

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	oauthErr := requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
	require.Equal(t, "Stale refresh token", oauthErr.Description)
}

func TestRefreshAccessTokenRejectsExpiredSession(t *testing.T) {
	var loggedOut *sessions.UserSession
	f := setupTestFixture(t)
	f.manager = f.newManager(t, f.store, token.WithBackchannelLogout(
		func(_ context.Context, _ *realms.Realm, userSession *sessions.UserSession) {
			loggedOut = userSession
		}))

	userSession := f.storeSession(t, sessions.Online, "openid profile")
	userSession.LastSessionRefresh = f.now.Add(-2 * time.Hour)
	require.NoError(t, f.store.Put(context.Background(), sessions.Online, userSession))
	encoded, _ := f.signRefreshToken(t, nil)

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	oauthErr := requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
	require.Equal(t, "Session not active", oauthErr.Description)
	require.NotNil(t, loggedOut)
	require.Equal(t, testSessionID, loggedOut.ID)
}

func TestRefreshAccessTokenRejectsDisabledUser(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	f.user.Enabled = false

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
}

func TestRefreshAccessTokenRejectsWrongClient(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.IssuedFor = "another-client"
	})

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	oauthErr := requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
	require.Equal(t, "Unmatching clients", oauthErr.Description)
}

func TestRefreshAccessTokenUpgradesToOffline(t *testing.T) {
	f := setupTestFixture(t)
	f.user.RoleIDs = append(f.user.RoleIDs, offlineRoleID)
	f.storeSession(t, sessions.Online, "openid profile offline_access")
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.ScopeIDs = append(rt.ScopeIDs, offlineScopeID)
	})

	response, offline, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)
	require.False(t, offline) // the presented token was still an online one
	require.Zero(t, response.RefreshExpiresIn)

	newToken, err := f.manager.VerifyRefreshToken(f.realm, response.RefreshToken, true)
	require.NoError(t, err)
	require.Equal(t, oauth2.TokenTypeOffline, newToken.Type)
	require.Nil(t, newToken.ExpiresAt)

	offlineSession, _, err := f.store.Get(context.Background(), sessions.Offline, testSessionID)
	require.NoError(t, err)
	require.True(t, offlineSession.Offline)
}

func TestRefreshAccessTokenRejectsOfflineWithoutRole(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile offline_access")
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.ScopeIDs = append(rt.ScopeIDs, offlineScopeID)
	})

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	requireOAuth2Error(t, err, oauth2.ErrorNotAllowed)
}

func TestRefreshAccessTokenOfflineSession(t *testing.T) {
	f := setupTestFixture(t)
	f.user.RoleIDs = append(f.user.RoleIDs, offlineRoleID)
	f.storeSession(t, sessions.Offline, "openid profile offline_access")
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.Type = oauth2.TokenTypeOffline
		rt.ExpiresAt = nil
		rt.ScopeIDs = append(rt.ScopeIDs, offlineScopeID)
	})

	response, offline, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)
	require.True(t, offline)

	newToken, err := f.manager.VerifyRefreshToken(f.realm, response.RefreshToken, true)
	require.NoError(t, err)
	require.Equal(t, oauth2.TokenTypeOffline, newToken.Type)
	require.Nil(t, newToken.ExpiresAt)
}

func TestRefreshAccessTokenMigratesLegacyOfflineToken(t *testing.T) {
	f := setupTestFixture(t)
	f.user.RoleIDs = append(f.user.RoleIDs, offlineRoleID)
	f.storeSession(t, sessions.Offline, "openid profile offline_access")
	f.consents.Grant(testRealmID, &consent.Record{
		UserID:          testUserID,
		ClientID:        testClientUUID,
		GrantedScopeIDs: []string{offlineScopeID},
	})

	// Legacy offline tokens predate both the scope snapshot and the kid
	// header.
	_, legacy := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.Type = oauth2.TokenTypeOffline
		rt.ExpiresAt = nil
		rt.ScopeIDs = nil
	})
	unsigned := jwt.NewWithClaims(jwt.SigningMethodRS256, legacy)
	encoded, err := unsigned.SignedString(f.keyPair.PrivateKey)
	require.NoError(t, err)

	response, offline, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)
	require.True(t, offline)

	newToken, err := f.manager.VerifyRefreshToken(f.realm, response.RefreshToken, true)
	require.NoError(t, err)
	require.Contains(t, newToken.ScopeIDs, profileScopeID)
	require.Contains(t, newToken.ScopeIDs, testClientUUID)
	require.Contains(t, newToken.ScopeIDs, offlineScopeID)
}

// flakyStore forces a configurable number of compare-and-swap conflicts
// before delegating.
type flakyStore struct {
	sessions.Store
	conflicts int
}

func (fs *flakyStore) CompareAndSwap(ctx context.Context, kind sessions.Kind, expectedVersion uint64, session *sessions.UserSession) (bool, error) {
	if fs.conflicts > 0 {
		fs.conflicts--
		return false, nil
	}
	return fs.Store.CompareAndSwap(ctx, kind, expectedVersion, session)
}

func TestRefreshAccessTokenRetriesOnCASConflict(t *testing.T) {
	f := setupTestFixture(t)
	f.manager = f.newManager(t, &flakyStore{Store: f.store, conflicts: 1})
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	response, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)
	require.NotEmpty(t, response.RefreshToken)
}

func TestRefreshAccessTokenGivesUpAfterRetryLimit(t *testing.T) {
	f := setupTestFixture(t)
	f.manager = f.newManager(t, &flakyStore{Store: f.store, conflicts: 10})
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
}

func TestVerifyRefreshTokenRejectsAccessTokenType(t *testing.T) {
	f := setupTestFixture(t)
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.Type = oauth2.TokenTypeBearer
	})

	_, err := f.manager.VerifyRefreshToken(f.realm, encoded, true)
	requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
}

func TestVerifyRefreshTokenRejectsExpired(t *testing.T) {
	f := setupTestFixture(t)
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.ExpiresAt = jwt.NewNumericDate(f.now.Add(-time.Second))
	})

	_, err := f.manager.VerifyRefreshToken(f.realm, encoded, true)
	oauthErr := requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
	require.Equal(t, "Refresh token expired", oauthErr.Description)
}

func TestVerifyRefreshTokenRejectsUnknownKey(t *testing.T) {
	f := setupTestFixture(t)

	otherKey, err := keys.GenerateRSAKeyPair("rogue-key", 2048)
	require.NoError(t, err)
	rt := &token.RefreshToken{
		RegisteredClaims: jwt.RegisteredClaims{ID: uuid.NewString()},
		Type:             oauth2.TokenTypeRefresh,
	}
	encoded, err := otherKey.Sign(rt)
	require.NoError(t, err)

	_, err = f.manager.VerifyRefreshToken(f.realm, encoded, true)
	requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
}

func TestIsTokenValid(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	response, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)

	valid, err := f.manager.IsTokenValid(context.Background(), f.realm, f.client, response.AccessToken)
	require.NoError(t, err)
	require.True(t, valid)

	f.realm.NotBefore = f.now.Add(time.Second)
	valid, err = f.manager.IsTokenValid(context.Background(), f.realm, f.client, response.AccessToken)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestVerifyIDToken(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, nil)

	response, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)

	idToken, err := f.manager.VerifyIDToken(f.realm, response.IDToken)
	require.NoError(t, err)
	require.Equal(t, testUserID, idToken.Subject)
	require.Equal(t, testSessionID, idToken.SessionState)
	require.NotEmpty(t, idToken.AccessTokenHash)

	_, err = f.manager.VerifyIDToken(f.realm, response.AccessToken)
	requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
}

func TestDetachClientSessionRemovesEmptySession(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")

	secondClient := &sessions.ClientSession{ClientID: "client-uuid-2", Protocol: "openid-connect", Timestamp: f.now}
	require.NoError(t, f.manager.AttachClientSession(context.Background(), sessions.Online, testSessionID, secondClient))

	require.NoError(t, f.manager.DetachClientSession(context.Background(), sessions.Online, testSessionID, "client-uuid-2"))
	stored, _, err := f.store.Get(context.Background(), sessions.Online, testSessionID)
	require.NoError(t, err)
	require.Nil(t, stored.ClientSessionByClient("client-uuid-2"))

	require.NoError(t, f.manager.DetachClientSession(context.Background(), sessions.Online, testSessionID, testClientUUID))
	_, _, err = f.store.Get(context.Background(), sessions.Online, testSessionID)
	require.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestRefreshAccessTokenCarriesAuthorizationClaim(t *testing.T) {
	f := setupTestFixture(t)
	f.storeSession(t, sessions.Online, "openid profile")
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.Authorization = []byte(`{"permissions":[{"rsid":"resource-1"}]}`)
	})

	response, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)

	accessToken, err := f.manager.ParseAccessToken(f.realm, response.AccessToken)
	require.NoError(t, err)
	require.JSONEq(t, `{"permissions":[{"rsid":"resource-1"}]}`, string(accessToken.Authorization))
}

func TestRefreshAccessTokenRecreatesMissingClientSession(t *testing.T) {
	f := setupTestFixture(t)
	userSession := f.storeSession(t, sessions.Online, "openid profile")
	userSession.DetachClientSession(testClientUUID)
	userSession.AttachClientSession(&sessions.ClientSession{
		ClientID:  "client-uuid-2",
		Protocol:  "openid-connect",
		Timestamp: f.now,
	})
	require.NoError(t, f.store.Put(context.Background(), sessions.Online, userSession))
	encoded, _ := f.signRefreshToken(t, nil)

	response, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	require.NoError(t, err)
	require.NotEmpty(t, response.RefreshToken)

	stored, _, err := f.store.Get(context.Background(), sessions.Online, testSessionID)
	require.NoError(t, err)
	require.NotNil(t, stored.ClientSessionByClient(testClientUUID))
}

func TestRefreshAccessTokenOfflineSessionNotFound(t *testing.T) {
	f := setupTestFixture(t)
	encoded, _ := f.signRefreshToken(t, func(rt *token.RefreshToken) {
		rt.Type = oauth2.TokenTypeOffline
		rt.ExpiresAt = nil
	})

	_, _, err := f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, encoded)
	oauthErr := requireOAuth2Error(t, err, oauth2.ErrorInvalidGrant)
	require.Equal(t, "Offline user session not found", oauthErr.Description)
}

func TestAttachSessionIssuesInitialTokens(t *testing.T) {
	f := setupTestFixture(t)

	userSession := &sessions.UserSession{
		ID:                 testSessionID,
		RealmID:            testRealmID,
		UserID:             testUserID,
		Started:            f.now,
		LastSessionRefresh: f.now,
	}
	sessionCtx := f.manager.AttachSession(f.user, f.client, userSession, token.SessionParams{
		RedirectURI: "https://app.example.com/callback",
		ScopeParam:  "openid profile",
		Notes:       map[string]string{sessions.NoteNonce: "nonce-1"},
	})
	require.NoError(t, f.store.Put(context.Background(), sessions.Online, userSession))

	clientSession := userSession.ClientSessionByClient(testClientUUID)
	require.NotNil(t, clientSession)
	require.Equal(t, "https://app.example.com/callback", clientSession.RedirectURI)
	require.Equal(t, "openid profile", clientSession.Note(sessions.NoteScope))

	builder := f.manager.ResponseBuilder(f.realm, f.client, userSession, sessionCtx).
		GenerateAccessToken()
	require.NoError(t, builder.GenerateRefreshToken(context.Background()))
	require.NoError(t, builder.GenerateIDToken())

	response, err := builder.Build()
	require.NoError(t, err)
	require.NotEmpty(t, response.AccessToken)
	require.NotEmpty(t, response.IDToken)

	accessToken, err := f.manager.ParseAccessToken(f.realm, response.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "nonce-1", accessToken.Nonce)
	require.Equal(t, "1", accessToken.Acr)

	// The freshly issued refresh token is immediately usable.
	_, _, err = f.manager.RefreshAccessToken(context.Background(), f.realm, f.client, response.RefreshToken)
	require.NoError(t, err)
}
