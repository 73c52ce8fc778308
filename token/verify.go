package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/realmkit/realmkit/clients"
	"github.com/realmkit/realmkit/oauth2"
	"github.com/realmkit/realmkit/realms"
	"github.com/realmkit/realmkit/sessions"
	"github.com/realmkit/realmkit/token/keys"
	"github.com/realmkit/realmkit/users"
)

// ParseAccessToken verifies the signature of an encoded access token
// against the realm keys and decodes its claims. Time bounds are not
// checked here.
func (m *Manager) ParseAccessToken(realm *realms.Realm, encodedToken string) (*AccessToken, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{keys.RS256}), jwt.WithoutClaimsValidation())
	accessToken := &AccessToken{}
	keyFunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return m.keys.PublicKeyByID(realm.ID, kid)
	}
	if _, err := parser.ParseWithClaims(encodedToken, accessToken, keyFunc); err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Invalid token")
	}
	return accessToken, nil
}

// IsTokenValid reports whether an access token is still good: signature,
// time bounds, not-before watermarks, a live backing session and an
// enabled user. Used by introspection and bearer validation.
func (m *Manager) IsTokenValid(ctx context.Context, realm *realms.Realm, client *clients.Client, encodedToken string) (bool, error) {
	accessToken, err := m.ParseAccessToken(realm, encodedToken)
	if err != nil {
		return false, nil
	}

	now := m.nowFunc()
	if accessToken.IsExpired(now) {
		return false, nil
	}
	if accessToken.IssuedBefore(realm.NotBefore) || accessToken.IssuedBefore(client.NotBefore) {
		return false, nil
	}

	if accessToken.SessionState == "" {
		return true, nil
	}
	userSession, _, err := m.store.Get(ctx, sessions.Online, accessToken.SessionState)
	if errors.Is(err, sessions.ErrNotFound) {
		userSession, _, err = m.store.Get(ctx, sessions.Offline, accessToken.SessionState)
		if errors.Is(err, sessions.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("load offline session: %w", err)
		}
		if !userSession.IsOfflineValid(realm, now) {
			return false, nil
		}
	} else {
		if err != nil {
			return false, fmt.Errorf("load session: %w", err)
		}
		if !userSession.IsValid(realm, now) {
			return false, nil
		}
	}

	user, err := m.users.GetByID(userSession.UserID)
	if err != nil || user == nil || !user.Enabled {
		return false, nil
	}
	if accessToken.IssuedBefore(user.NotBefore) {
		return false, nil
	}
	return true, nil
}

// VerifyIDToken verifies the signature and claims of an encoded ID token
// and decodes it.
func (m *Manager) VerifyIDToken(realm *realms.Realm, encodedToken string) (*IDToken, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{keys.RS256}), jwt.WithoutClaimsValidation())
	idToken := &IDToken{}
	keyFunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return m.keys.PublicKeyByID(realm.ID, kid)
	}
	if _, err := parser.ParseWithClaims(encodedToken, idToken, keyFunc); err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Invalid ID token")
	}
	if idToken.Type != oauth2.TokenTypeID {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "Invalid ID token")
	}
	if idToken.ExpiresAt != nil && m.nowFunc().After(idToken.ExpiresAt.Time) {
		return nil, oauth2.NewError(oauth2.ErrorInvalidGrant, "ID token expired")
	}
	return idToken, nil
}

// SessionParams carries what the authentication flow hands over when a
// client joins a user session.
type SessionParams struct {
	RedirectURI string
	ScopeParam  string
	Notes       map[string]string
}

// AttachSession creates or refreshes the client session for the client
// inside the user session, transfers the flow notes and returns the request
// context token issuance works from. The caller persists the user session
// afterwards.
func (m *Manager) AttachSession(user *users.User, client *clients.Client,
	userSession *sessions.UserSession, params SessionParams) *ClientSessionContext {
	clientSession := userSession.ClientSessionByClient(client.ID)
	if clientSession == nil {
		clientSession = &sessions.ClientSession{
			ClientID: client.ID,
			Protocol: client.Protocol,
		}
		userSession.AttachClientSession(clientSession)
	}
	clientSession.RedirectURI = params.RedirectURI
	clientSession.Timestamp = m.nowFunc().Truncate(time.Second)
	for key, value := range params.Notes {
		clientSession.SetNote(key, value)
	}
	clientSession.SetNote(sessions.NoteScope, params.ScopeParam)

	clientScopes := m.resolver.RequestedClientScopes(params.ScopeParam, client)
	return NewClientSessionContextFromScopes(m.resolver, user, client, userSession, clientSession, clientScopes)
}

// AttachClientSession adds a client session to an existing user session,
// retrying on compare-and-swap conflicts.
func (m *Manager) AttachClientSession(ctx context.Context, kind sessions.Kind, userSessionID string, clientSession *sessions.ClientSession) error {
	for attempt := 0; ; attempt++ {
		userSession, version, err := m.store.Get(ctx, kind, userSessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		userSession.AttachClientSession(clientSession)

		swapped, err := m.store.CompareAndSwap(ctx, kind, version, userSession)
		if err != nil {
			return fmt.Errorf("session update: %w", err)
		}
		if swapped {
			return nil
		}
		if attempt >= m.cfg.GetCASRetryLimit() {
			return fmt.Errorf("attach client session: too many concurrent updates")
		}
	}
}

// DetachClientSession removes a client's session entry from a user
// session, removing the user session itself when the last client session
// detaches. Retries on compare-and-swap conflicts.
func (m *Manager) DetachClientSession(ctx context.Context, kind sessions.Kind, userSessionID, clientID string) error {
	for attempt := 0; ; attempt++ {
		userSession, version, err := m.store.Get(ctx, kind, userSessionID)
		if errors.Is(err, sessions.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		if empty := userSession.DetachClientSession(clientID); empty {
			if err := m.store.Remove(ctx, kind, userSessionID); err != nil && !errors.Is(err, sessions.ErrNotFound) {
				return fmt.Errorf("remove session: %w", err)
			}
			return nil
		}

		swapped, err := m.store.CompareAndSwap(ctx, kind, version, userSession)
		if err != nil {
			return fmt.Errorf("session update: %w", err)
		}
		if swapped {
			return nil
		}
		if attempt >= m.cfg.GetCASRetryLimit() {
			return fmt.Errorf("detach client session: too many concurrent updates")
		}
	}
}
