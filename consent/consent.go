package consent

import "context"

// Record captures the client scopes a user has granted to a client on the
// consent screen. The token core only reads these; granting and revoking
// happen in the account/admin surfaces outside this module.
type Record struct {
	UserID          string   `json:"userId"`
	ClientID        string   `json:"clientId"`
	GrantedScopeIDs []string `json:"grantedScopeIds"`
}

// HasScope reports whether the given client scope id was granted.
func (r *Record) HasScope(scopeID string) bool {
	for _, id := range r.GrantedScopeIDs {
		if id == scopeID {
			return true
		}
	}
	return false
}

// Store provides read access to consent records. A nil record with a nil
// error means the user never granted consent to the client.
type Store interface {
	GetConsent(ctx context.Context, realmID, userID, clientID string) (*Record, error)
}
