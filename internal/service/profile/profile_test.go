package profile

import (
	"context"
	"encoding/json"
	"testing"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/model"

	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T, alias string) model.Session {
	pair, err := provider.New().GenerateKeyPair()
	require.NoError(t, err)
	return model.Session{Alias: alias, Name: alias + " name", Pair: pair}
}

func TestPublishAndResolve(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	dir := NewDirectory(store, provider.New())
	s := newSession(t, "alice")

	require.NoError(t, dir.Publish(ctx, s))
	p, err := dir.Resolve(ctx, s.Pair.Pub)
	require.NoError(t, err)
	require.Equal(t, "alice", p.Alias)
	require.Equal(t, s.Pair.Epub, p.Epub)
}

func TestResolveErrors(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	dir := NewDirectory(store, provider.New())

	_, err := dir.Resolve(ctx, "not a key")
	require.ErrorIs(t, err, ErrMalformedKey)

	s := newSession(t, "bob")
	_, err = dir.Resolve(ctx, s.Pair.Pub)
	require.ErrorIs(t, err, ErrContactNotFound)

	// a profile written by someone else under bob's key fails verification
	forged, _ := json.Marshal(model.Profile{Alias: "mallory", Pub: s.Pair.Pub, Epub: s.Pair.Epub, Signature: "AAAA"})
	require.NoError(t, store.Put(ctx, graph.UserKey(s.Pair.Pub, "profile"), forged))
	_, err = dir.Resolve(ctx, s.Pair.Pub)
	require.ErrorIs(t, err, ErrContactNotFound)
}

func TestClaimAlias(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(graph.NewMemory(), provider.New())

	require.NoError(t, dir.ClaimAlias(ctx, "alice", "pub1"))
	require.ErrorIs(t, dir.ClaimAlias(ctx, "alice", "pub2"), ErrAliasTaken)

	pub, err := dir.LookupAlias(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "pub1", pub)
}

func TestWatchSeesRenames(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(graph.NewMemory(), provider.New())
	s := newSession(t, "alice")
	require.NoError(t, dir.Publish(ctx, s))

	var names []string
	unsub, err := dir.Watch(ctx, s.Pair.Pub, func(p model.Profile) { names = append(names, p.Name) })
	require.NoError(t, err)
	defer unsub()

	s.Name = "Ally"
	require.NoError(t, dir.Publish(ctx, s))
	require.Equal(t, []string{"alice name", "Ally"}, names)
}
