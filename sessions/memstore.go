package sessions

import (
	"context"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

type versionedSession struct {
	session *UserSession
	version uint64
}

// MemoryStore is a process-local Store used for tests and single-node
// embedding. Versions are per-entry counters; CompareAndSwap is atomic
// under the store mutex.
type MemoryStore struct {
	lock     sync.RWMutex
	sessions map[Kind]map[string]versionedSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[Kind]map[string]versionedSession{
			Online:  make(map[string]versionedSession),
			Offline: make(map[string]versionedSession),
		},
	}
}

func (ms *MemoryStore) Get(_ context.Context, kind Kind, sessionID string) (*UserSession, uint64, error) {
	ms.lock.RLock()
	defer ms.lock.RUnlock()

	entry, ok := ms.sessions[kind][sessionID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return entry.session.Clone(), entry.version, nil
}

func (ms *MemoryStore) Put(_ context.Context, kind Kind, session *UserSession) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()

	version := ms.sessions[kind][session.ID].version + 1
	ms.sessions[kind][session.ID] = versionedSession{session: session.Clone(), version: version}
	return nil
}

func (ms *MemoryStore) CompareAndSwap(_ context.Context, kind Kind, expectedVersion uint64, session *UserSession) (bool, error) {
	ms.lock.Lock()
	defer ms.lock.Unlock()

	entry, ok := ms.sessions[kind][session.ID]
	if !ok {
		return false, ErrNotFound
	}
	if entry.version != expectedVersion {
		return false, nil
	}
	ms.sessions[kind][session.ID] = versionedSession{session: session.Clone(), version: entry.version + 1}
	return true, nil
}

func (ms *MemoryStore) Remove(_ context.Context, kind Kind, sessionID string) error {
	ms.lock.Lock()
	defer ms.lock.Unlock()

	delete(ms.sessions[kind], sessionID)
	return nil
}
