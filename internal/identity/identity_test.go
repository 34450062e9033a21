package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDIsStablePerPub(t *testing.T) {
	tbl := NewTable()
	a := tbl.UUID("alice")
	assert.Equal(t, a, tbl.UUID("alice"))
	assert.NotEqual(t, a, tbl.UUID("bob"))

	tbl.Remember("carl", "fixed")
	assert.Equal(t, "fixed", tbl.UUID("carl"))
}

func TestNameChanged(t *testing.T) {
	tbl := NewTable()
	assert.True(t, tbl.NameChanged("alice", "Alice"))
	assert.False(t, tbl.NameChanged("alice", "Alice"))
	assert.True(t, tbl.NameChanged("alice", "Ally"))

	tbl.Reset()
	assert.True(t, tbl.NameChanged("alice", "Ally"))
}
