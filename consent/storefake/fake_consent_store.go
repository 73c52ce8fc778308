package fakeconsentstore

import (
	"context"
	"sync"

	"github.com/realmkit/realmkit/consent"
)

var _ consent.Store = (*FakeConsentStore)(nil)

type FakeConsentStore struct {
	records map[string]*consent.Record
	lock    sync.RWMutex
}

func NewFakeConsentStore() *FakeConsentStore {
	return &FakeConsentStore{
		records: make(map[string]*consent.Record),
	}
}

func (cs *FakeConsentStore) Grant(realmID string, record *consent.Record) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.records[consentKey(realmID, record.UserID, record.ClientID)] = record
}

func (cs *FakeConsentStore) Revoke(realmID, userID, clientID string) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	delete(cs.records, consentKey(realmID, userID, clientID))
}

func (cs *FakeConsentStore) GetConsent(_ context.Context, realmID, userID, clientID string) (*consent.Record, error) {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.records[consentKey(realmID, userID, clientID)], nil
}

func consentKey(realmID, userID, clientID string) string {
	return realmID + "/" + userID + "/" + clientID
}
