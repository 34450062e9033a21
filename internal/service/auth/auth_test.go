package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/model"
	"cyphr/internal/repository/session"
	"cyphr/internal/service/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

const strongPassword = "Secr3t!pass"

func newService(t *testing.T, store graph.Store) *Service {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "session.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	keeper, err := session.NewSessionRepo(db)
	require.NoError(t, err)

	crypto := provider.New()
	svc := NewService(store, crypto, profile.NewDirectory(store, crypto), keeper)
	svc.retryDelay = time.Millisecond
	return svc
}

func TestCreateThenAuthorise(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	svc := newService(t, store)

	has, err := svc.HasUser(ctx, "alice")
	require.NoError(t, err)
	require.False(t, has)

	created, err := svc.Create(ctx, "alice", strongPassword)
	require.NoError(t, err)
	require.Equal(t, "alice", created.Alias)

	has, err = svc.HasUser(ctx, "alice")
	require.NoError(t, err)
	require.True(t, has)

	// creating an existing alias logs in instead
	again, err := svc.Create(ctx, "alice", strongPassword)
	require.NoError(t, err)
	require.Equal(t, created.Pair, again.Pair)

	_, err = svc.Authorise(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrAuthentication)
	_, err = svc.Authorise(ctx, "nobody", strongPassword)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestCreateRequiresCredentials(t *testing.T) {
	svc := newService(t, graph.NewMemory())
	_, err := svc.Create(context.Background(), "", strongPassword)
	require.ErrorIs(t, err, ErrAliasRequired)
	_, err = svc.Create(context.Background(), "alice", "")
	require.ErrorIs(t, err, ErrPasswordRequired)
}

func TestRecallRenameLeave(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, graph.NewMemory())

	_, err := svc.Recall(ctx)
	require.ErrorIs(t, err, ErrAuthentication)

	anon, err := svc.CreateAnonymous(ctx)
	require.NoError(t, err)
	require.Equal(t, AnonymousName, anon.Name)

	recalled, err := svc.Recall(ctx)
	require.NoError(t, err)
	require.Equal(t, anon.Pair, recalled.Pair)

	renamed, err := svc.Rename(ctx, recalled, "Zoe")
	require.NoError(t, err)
	require.Equal(t, "Zoe", renamed.Name)

	recalled, err = svc.Recall(ctx)
	require.NoError(t, err)
	require.Equal(t, "Zoe", recalled.Name)

	require.NoError(t, svc.Leave())
	_, err = svc.Recall(ctx)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestAuthoriseKeyPair(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	phone := newService(t, store)
	laptop := newService(t, store)

	created, err := phone.Create(ctx, "alice", strongPassword)
	require.NoError(t, err)

	s, err := laptop.AuthoriseKeyPair(ctx, created.Pair)
	require.NoError(t, err)
	require.Equal(t, "alice", s.Alias)

	_, err = laptop.AuthoriseKeyPair(ctx, model.KeyPair{Pub: created.Pair.Pub})
	require.ErrorIs(t, err, ErrAuthentication)

	// a valid pair that never published a profile
	stray, err := provider.New().GenerateKeyPair()
	require.NoError(t, err)
	_, err = laptop.AuthoriseKeyPair(ctx, stray)
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestValidatePassword(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword(""), ErrPasswordRequired)
	assert.ErrorIs(t, ValidatePassword("Sh0rt!"), ErrWeakPassword)
	assert.ErrorIs(t, ValidatePassword("alllowercase1!"), ErrWeakPassword)
	assert.ErrorIs(t, ValidatePassword("NoDigits!!"), ErrWeakPassword)
	assert.ErrorIs(t, ValidatePassword("NoSymbol123"), ErrWeakPassword)
	assert.NoError(t, ValidatePassword(strongPassword))

	assert.ErrorIs(t, CheckConfirmation(strongPassword, "other"), ErrConfirmation)
	assert.NoError(t, CheckConfirmation(strongPassword, strongPassword))
}
