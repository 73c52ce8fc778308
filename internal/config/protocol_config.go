package config

import "time"

// ProtocolConfig supplies the module-wide tuning values the token protocol
// needs beyond per-realm configuration.
type ProtocolConfig interface {
	// GetDefaultAccessTokenLifespan is used when a realm leaves its access
	// token lifespan unset.
	GetDefaultAccessTokenLifespan() time.Duration

	// GetDefaultImplicitFlowLifespan is used when a realm leaves its
	// implicit-flow lifespan unset.
	GetDefaultImplicitFlowLifespan() time.Duration

	// GetCASRetryLimit bounds how many times a refresh re-enters
	// validation after a compare-and-swap conflict before giving up.
	GetCASRetryLimit() int

	// GetReuseGracePeriod is the window around process startup within
	// which client-session timestamps are not treated as evidence of
	// refresh-token replay. It papers over timestamps reset by a node
	// restart in clustered deployments.
	GetReuseGracePeriod() time.Duration
}

type Protocol struct{}

var _ ProtocolConfig = Protocol{}

func (Protocol) GetDefaultAccessTokenLifespan() time.Duration {
	return 5 * time.Minute
}

func (Protocol) GetDefaultImplicitFlowLifespan() time.Duration {
	return 15 * time.Minute
}

func (Protocol) GetCASRetryLimit() int {
	return 3
}

func (Protocol) GetReuseGracePeriod() time.Duration {
	return 2 * time.Second
}
