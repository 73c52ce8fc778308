// Package acr produces the Authentication Context Class Reference claim. A
// per-client attribute selects the provider; implementations are registered
// once at configuration time and invoked polymorphically.
package acr

import (
	"github.com/realmkit/realmkit/sessions"
	"github.com/realmkit/realmkit/users"
)

// AttributeID is the client attribute naming the provider to use.
const AttributeID = "acrCompliance"

// DefaultProviderID identifies the built-in provider.
const DefaultProviderID = "default"

// Provider builds the acr value stamped into tokens.
type Provider interface {
	BuildAcrValue(user *users.User, clientSession *sessions.ClientSession) string
}

// Registry maps provider ids to implementations. Unknown ids fall back to
// the default provider.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(DefaultProviderID, DefaultProvider{})
	return r
}

func (r *Registry) Register(id string, provider Provider) {
	r.providers[id] = provider
}

// Provider resolves a provider by id, falling back to the default when the
// id is empty or unknown.
func (r *Registry) Provider(id string) Provider {
	if provider, ok := r.providers[id]; ok {
		return provider
	}
	return r.providers[DefaultProviderID]
}

// DefaultProvider reports "0" when the client session was established
// through an SSO cookie only, "1" for an active authentication.
type DefaultProvider struct{}

var _ Provider = DefaultProvider{}

func (DefaultProvider) BuildAcrValue(_ *users.User, clientSession *sessions.ClientSession) string {
	if clientSession != nil && clientSession.Note(sessions.NoteSSOAuth) == "true" {
		return "0"
	}
	return "1"
}
