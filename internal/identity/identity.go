// Package identity keeps the stable local identities of remote accounts: the
// uuid minted for a public key, and the last display name seen for it.
package identity

import (
	"sync"

	"github.com/google/uuid"
)

type Table struct {
	mu    sync.Mutex
	uuids map[string]string
	names map[string]string
}

func NewTable() *Table {
	return &Table{
		uuids: make(map[string]string),
		names: make(map[string]string),
	}
}

// UUID returns the uuid already known for pub, minting one on first use.
func (t *Table) UUID(pub string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.uuids[pub]; ok {
		return id
	}
	id := uuid.NewString()
	t.uuids[pub] = id
	return id
}

// Remember records a uuid read back from storage for pub.
func (t *Table) Remember(pub, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uuids[pub] = id
}

// NameChanged records name for pub and reports whether it differs from the
// name recorded before.
func (t *Table) NameChanged(pub, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.names[pub]
	t.names[pub] = name
	return !ok || prev != name
}

// Reset forgets everything, on logout.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uuids = make(map[string]string)
	t.names = make(map[string]string)
}
