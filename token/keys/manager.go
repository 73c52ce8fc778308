package keys

import (
	"crypto/rsa"
	"fmt"
	"sync"
)

// Manager holds the signing keys of every realm: one active key used for
// new signatures plus the historical keys still needed to verify older
// tokens. Keys are registered at configuration time; rotation registers a
// new active key and keeps the old one for verification.
type Manager struct {
	lock   sync.RWMutex
	active map[string]*KeyPair            // realm id -> active key
	byKid  map[string]map[string]*KeyPair // realm id -> kid -> key
}

func NewManager() *Manager {
	return &Manager{
		active: make(map[string]*KeyPair),
		byKid:  make(map[string]map[string]*KeyPair),
	}
}

// RegisterActiveKey makes the key the realm's active signing key. Any
// previously registered keys remain available for verification by kid.
func (m *Manager) RegisterActiveKey(realmID string, keyPair *KeyPair) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.active[realmID] = keyPair
	if m.byKid[realmID] == nil {
		m.byKid[realmID] = make(map[string]*KeyPair)
	}
	m.byKid[realmID][keyPair.KeyID] = keyPair
}

// ActiveKey returns the realm's current signing key.
func (m *Manager) ActiveKey(realmID string) (*KeyPair, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	keyPair, ok := m.active[realmID]
	if !ok {
		return nil, fmt.Errorf("no active key for realm %s", realmID)
	}
	return keyPair, nil
}

// PublicKeyByID returns the public key registered under the given kid, or
// nil when the realm never used that key.
func (m *Manager) PublicKeyByID(realmID, keyID string) (*rsa.PublicKey, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	keyPair, ok := m.byKid[realmID][keyID]
	if !ok {
		return nil, fmt.Errorf("no key %s for realm %s", keyID, realmID)
	}
	return keyPair.PublicKey, nil
}

// JWKS returns the key set of all verification keys of a realm.
func (m *Manager) JWKS(realmID string) (*JWKS, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	set := &JWKS{}
	for _, keyPair := range m.byKid[realmID] {
		jwk, err := keyPair.ToJWK()
		if err != nil {
			return nil, err
		}
		set.Keys = append(set.Keys, *jwk)
	}
	return set, nil
}
