package clients

import (
	"strings"
	"time"

	"github.com/realmkit/realmkit/mappers"
)

// ClientScope is a named bundle of protocol mappers and role grants,
// requestable by name via the scope parameter. A scope is either attached to
// clients as a realm-level default (always applied) or as optional (applied
// only when requested).
type ClientScope struct {
	ID       string `json:"id"`
	Name     string `json:"name"` // unique per realm, no spaces
	Protocol string `json:"protocol"`

	DisplayOnConsentScreen bool   `json:"displayOnConsentScreen"`
	ConsentScreenText      string `json:"consentScreenText,omitempty"`

	Attributes map[string]string `json:"attributes,omitempty"`

	// ScopeMappingIDs are the role ids this scope grants.
	ScopeMappingIDs []string `json:"scopeMappingIds,omitempty"`

	ProtocolMappers []mappers.Declaration `json:"protocolMappers,omitempty"`

	// ClientIdentity marks the degenerate client-as-scope view. It never
	// appears in the response scope parameter.
	ClientIdentity bool `json:"-"`
}

// NormalizeScopeName strips the whitespace older configurations allowed in
// scope names. Applied at load time so the space-delimited scope parameter
// stays parseable.
func NormalizeScopeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
}

// Client is a registered application allowed to request tokens. A client
// doubles as a degenerate client scope carrying its own mappers and role
// grants.
type Client struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"` // public client identifier, used in aud/azp
	Protocol string `json:"protocol"`

	// NotBefore is the per-client revocation watermark.
	NotBefore time.Time `json:"notBefore,omitempty"`

	// FullScopeAllowed disables scope narrowing: the user's entire role set
	// flows into tokens.
	FullScopeAllowed bool `json:"fullScopeAllowed"`

	ConsentRequired       bool `json:"consentRequired"`
	SurrogateAuthRequired bool `json:"surrogateAuthRequired"`

	WebOrigins []string          `json:"webOrigins,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// RoleIDs are the client's own (resource) roles; they always join the
	// scope-mapping set when narrowing.
	RoleIDs []string `json:"roleIds,omitempty"`

	// ScopeMappingIDs are role grants of the client acting as a scope.
	ScopeMappingIDs []string `json:"scopeMappingIds,omitempty"`

	ProtocolMappers []mappers.Declaration `json:"protocolMappers,omitempty"`

	// DefaultScopeIDs are applied on every request; OptionalScopeIDs only
	// when named in the scope parameter.
	DefaultScopeIDs  []string `json:"defaultScopeIds,omitempty"`
	OptionalScopeIDs []string `json:"optionalScopeIds,omitempty"`
}

// AsScope returns the client-as-scope view: the client participating in
// scope resolution with its own mappers and grants.
func (c *Client) AsScope() *ClientScope {
	return &ClientScope{
		ID:              c.ID,
		Name:            c.ClientID,
		Protocol:        c.Protocol,
		ScopeMappingIDs: c.ScopeMappingIDs,
		ProtocolMappers: c.ProtocolMappers,
		ClientIdentity:  true,
	}
}

// Attribute returns a client attribute value, or "".
func (c *Client) Attribute(name string) string {
	return c.Attributes[name]
}

// ScopeIndex is an id- and name-indexed view of a realm's client scope
// catalogue. It is a configuration-time read snapshot.
type ScopeIndex struct {
	byID   map[string]*ClientScope
	byName map[string]*ClientScope
}

func NewScopeIndex(scopes ...*ClientScope) *ScopeIndex {
	idx := &ScopeIndex{
		byID:   make(map[string]*ClientScope, len(scopes)),
		byName: make(map[string]*ClientScope, len(scopes)),
	}
	for _, scope := range scopes {
		idx.Add(scope)
	}
	return idx
}

// Add indexes a scope, normalizing its name first.
func (idx *ScopeIndex) Add(scope *ClientScope) {
	scope.Name = NormalizeScopeName(scope.Name)
	idx.byID[scope.ID] = scope
	idx.byName[scope.Name] = scope
}

// ByID returns the scope with the given id, or nil.
func (idx *ScopeIndex) ByID(id string) *ClientScope {
	return idx.byID[id]
}

// ByName returns the scope with the given name, or nil.
func (idx *ScopeIndex) ByName(name string) *ClientScope {
	return idx.byName[name]
}
