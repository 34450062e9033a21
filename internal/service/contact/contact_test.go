package contact

import (
	"context"
	"testing"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/identity"
	"cyphr/internal/model"
	"cyphr/internal/service/profile"

	"github.com/stretchr/testify/require"
)

func publish(t *testing.T, dir *profile.Directory, alias, name string) model.Session {
	pair, err := provider.New().GenerateKeyPair()
	require.NoError(t, err)
	s := model.Session{Alias: alias, Name: name, Pair: pair}
	require.NoError(t, dir.Publish(context.Background(), s))
	return s
}

func TestSetSubscribeRemove(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	crypto := provider.New()
	dir := profile.NewDirectory(store, crypto)
	me := publish(t, dir, "me", "")
	bob := publish(t, dir, "bob", "Bob")

	svc, err := NewService(store, crypto, me, dir, identity.NewTable())
	require.NoError(t, err)

	var appended, deleted []model.Contact
	unsub, err := svc.Subscribe(ctx, Handler{
		Appended: func(c model.Contact) { appended = append(appended, c) },
		Deleted:  func(c model.Contact) { deleted = append(deleted, c) },
	})
	require.NoError(t, err)

	c, err := svc.Set(ctx, bob.Pair.Pub)
	require.NoError(t, err)
	require.Equal(t, "Bob", c.DisplayName)
	require.Len(t, appended, 1)
	require.Equal(t, c, appended[0])

	// setting again keeps the uuid
	again, err := svc.Set(ctx, bob.Pair.Pub)
	require.NoError(t, err)
	require.Equal(t, c.UUID, again.UUID)

	require.NoError(t, svc.Remove(ctx, c))
	require.Len(t, deleted, 1)
	require.Equal(t, bob.Pair.Pub, deleted[0].Pub)

	unsub()
	require.Equal(t, 0, store.Subscriptions())
}

func TestRenameRewritesContact(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	crypto := provider.New()
	dir := profile.NewDirectory(store, crypto)
	me := publish(t, dir, "me", "")
	bob := publish(t, dir, "bob", "Bob")

	svc, err := NewService(store, crypto, me, dir, identity.NewTable())
	require.NoError(t, err)
	_, err = svc.Set(ctx, bob.Pair.Pub)
	require.NoError(t, err)

	var names []string
	unsub, err := svc.Subscribe(ctx, Handler{
		Appended: func(c model.Contact) { names = append(names, c.DisplayName) },
	})
	require.NoError(t, err)
	defer unsub()

	bob.Name = "Robert"
	require.NoError(t, dir.Publish(ctx, bob))
	require.Equal(t, []string{"Bob", "Robert"}, names)
}

func TestSetUnknownContact(t *testing.T) {
	store := graph.NewMemory()
	crypto := provider.New()
	dir := profile.NewDirectory(store, crypto)
	me := publish(t, dir, "me", "")

	svc, err := NewService(store, crypto, me, dir, identity.NewTable())
	require.NoError(t, err)

	_, err = svc.Set(context.Background(), "garbage")
	require.ErrorIs(t, err, profile.ErrMalformedKey)
}
