package sessions

import (
	"time"

	"github.com/realmkit/realmkit/realms"
)

// Well-known session note keys transferred from the authentication flow.
const (
	NoteScope        = "scope"         // requested scope parameter, space delimited
	NoteNonce        = "nonce"         // OIDC nonce from the original request
	NoteResponseType = "response_type" // response type of the original request
	NoteIssuer       = "iss"           // issuer the session was established under
	NoteAuthTime     = "auth_time"     // unix seconds of the primary authentication
	NoteSSOAuth      = "sso_auth"      // "true" when authentication happened via SSO cookie only
)

// UserSession represents one authenticated browser/device session. It
// exclusively owns its client sessions; a user session whose last client
// session detaches is eligible for removal.
type UserSession struct {
	ID                 string    `json:"id"`
	RealmID            string    `json:"realmId"`
	UserID             string    `json:"userId"`
	Started            time.Time `json:"started"`
	LastSessionRefresh time.Time `json:"lastSessionRefresh"`
	Offline            bool      `json:"offline"`

	// ClientSessions is keyed by client id: exactly one client session per
	// (user session, client) pair.
	ClientSessions map[string]*ClientSession `json:"clientSessions,omitempty"`

	Notes map[string]string `json:"notes,omitempty"`
}

// ClientSession represents one client's participation in a user session.
// UserSessionID is a non-owning back-reference used for lookups only, never
// for lifecycle control.
type ClientSession struct {
	ClientID      string `json:"clientId"`
	UserSessionID string `json:"userSessionId"`

	RedirectURI string `json:"redirectUri,omitempty"`
	Protocol    string `json:"protocol,omitempty"`

	// Timestamp is the last-used time; reuse detection compares refresh
	// token issue times against it.
	Timestamp time.Time `json:"timestamp"`

	// Refresh-token rotation state.
	CurrentRefreshToken         string `json:"currentRefreshToken,omitempty"`
	CurrentRefreshTokenUseCount int    `json:"currentRefreshTokenUseCount"`

	Notes map[string]string `json:"notes,omitempty"`
}

// ClientSessionByClient returns the client session for the given client id,
// or nil when the client never participated in this session.
func (s *UserSession) ClientSessionByClient(clientID string) *ClientSession {
	return s.ClientSessions[clientID]
}

// AttachClientSession adds (or replaces) the client session for its client.
func (s *UserSession) AttachClientSession(cs *ClientSession) {
	if s.ClientSessions == nil {
		s.ClientSessions = make(map[string]*ClientSession)
	}
	cs.UserSessionID = s.ID
	s.ClientSessions[cs.ClientID] = cs
}

// DetachClientSession removes the client session for the given client id and
// reports whether the user session is now empty and eligible for removal.
func (s *UserSession) DetachClientSession(clientID string) bool {
	delete(s.ClientSessions, clientID)
	return len(s.ClientSessions) == 0
}

// Note returns the session note with the given key, or "".
func (s *UserSession) Note(key string) string {
	return s.Notes[key]
}

// SetNote records a session note, allocating the map lazily.
func (s *UserSession) SetNote(key, value string) {
	if s.Notes == nil {
		s.Notes = make(map[string]string)
	}
	s.Notes[key] = value
}

// Note returns the client session note with the given key, or "".
func (cs *ClientSession) Note(key string) string {
	return cs.Notes[key]
}

// SetNote records a client session note, allocating the map lazily.
func (cs *ClientSession) SetNote(key, value string) {
	if cs.Notes == nil {
		cs.Notes = make(map[string]string)
	}
	cs.Notes[key] = value
}

// Clone returns a deep copy of the session. Callers mutate copies and write
// them back with a compare-and-swap; the loaded snapshot stays untouched.
func (s *UserSession) Clone() *UserSession {
	clone := *s
	clone.ClientSessions = make(map[string]*ClientSession, len(s.ClientSessions))
	for id, cs := range s.ClientSessions {
		csClone := *cs
		csClone.Notes = cloneNotes(cs.Notes)
		clone.ClientSessions[id] = &csClone
	}
	clone.Notes = cloneNotes(s.Notes)
	return &clone
}

func cloneNotes(notes map[string]string) map[string]string {
	if notes == nil {
		return nil
	}
	clone := make(map[string]string, len(notes))
	for k, v := range notes {
		clone[k] = v
	}
	return clone
}

// IsValid reports whether an online session is still within the realm's SSO
// idle and max lifetimes.
func (s *UserSession) IsValid(realm *realms.Realm, now time.Time) bool {
	if s == nil {
		return false
	}
	if now.After(s.LastSessionRefresh.Add(realm.SsoSessionIdleTimeout)) {
		return false
	}
	return !now.After(s.Started.Add(realm.SsoSessionMaxLifespan))
}

// IsOfflineValid reports whether an offline session is still within the
// realm's offline idle timeout. Offline sessions are exempt from the SSO
// max lifespan.
func (s *UserSession) IsOfflineValid(realm *realms.Realm, now time.Time) bool {
	if s == nil {
		return false
	}
	return !now.After(s.LastSessionRefresh.Add(realm.OfflineSessionIdleTimeout))
}
