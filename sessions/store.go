package sessions

import (
	"context"
	"errors"
)

// Kind selects the store namespace a session lives in. Online and offline
// sessions share the same id scheme but are kept apart so an offline copy
// can coexist with the online original.
type Kind string

const (
	Online  Kind = "online"
	Offline Kind = "offline"
)

var (
	// ErrNotFound is returned when no session exists under the given id.
	ErrNotFound = errors.New("session not found")
)

// Store is keyed storage for user sessions. Implementations may be
// distributed caches shared across nodes; all mutations therefore go through
// CompareAndSwap so two nodes racing on the same session cannot lose
// updates.
type Store interface {
	// Get loads a session snapshot together with its version.
	Get(ctx context.Context, kind Kind, sessionID string) (*UserSession, uint64, error)

	// Put unconditionally stores a session, assigning it a fresh version.
	Put(ctx context.Context, kind Kind, session *UserSession) error

	// CompareAndSwap replaces the stored session only if its version still
	// equals expectedVersion. It reports false when another writer got
	// there first; the caller reloads and retries.
	CompareAndSwap(ctx context.Context, kind Kind, expectedVersion uint64, session *UserSession) (bool, error)

	// Remove deletes the session. Removing an absent session is not an
	// error.
	Remove(ctx context.Context, kind Kind, sessionID string) error
}
