package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/identity"
	"cyphr/internal/model"
	"cyphr/internal/protocol/chain"
	"cyphr/internal/service/profile"

	"github.com/stretchr/testify/require"
)

type user struct {
	session model.Session
	engine  *chain.Engine
	svc     *Service
}

func newUser(t *testing.T, store graph.Store, alias string) user {
	crypto := provider.New()
	pair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	s := model.Session{Alias: alias, Pair: pair}

	dir := profile.NewDirectory(store, crypto)
	require.NoError(t, dir.Publish(context.Background(), s))

	engine := chain.NewEngine(store, crypto, pair, dir)
	svc, err := NewService(store, crypto, engine, identity.NewTable())
	require.NoError(t, err)
	return user{session: s, engine: engine, svc: svc}
}

func (u user) pub() string {
	return u.session.Pair.Pub
}

// inbox returns the handshakes waiting for u.
func (u user) inbox(t *testing.T) []model.Message {
	var msgs []model.Message
	unsub, err := u.engine.ReadInbox(context.Background(), func(m model.Message) { msgs = append(msgs, m) })
	require.NoError(t, err)
	unsub()
	return msgs
}

type collector struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (c *collector) add(m model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) kinds() []model.ContentKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.ContentKind
	for _, m := range c.msgs {
		out = append(out, m.Content.Kind)
	}
	return out
}

func TestCreateFromRequestBothSides(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	alice := newUser(t, store, "alice")
	bob := newUser(t, store, "bob")

	conv, err := alice.svc.SendRequest(ctx, bob.pub(), "hi bob")
	require.NoError(t, err)
	require.Equal(t, bob.pub(), conv.ConversationID)
	require.False(t, conv.IsGroup())

	msgs := bob.inbox(t)
	require.Len(t, msgs, 1)
	bobConv, err := bob.svc.Create(ctx, msgs[0])
	require.NoError(t, err)
	require.Equal(t, alice.pub(), bobConv.ConversationID)
	require.Equal(t, conv.NextPair, bobConv.NextPair)
	require.Equal(t, conv.RootPair, bobConv.RootPair)

	// a repeated handshake from the same counterparty keeps the local uuid
	again, err := bob.svc.Create(ctx, msgs[0])
	require.NoError(t, err)
	require.Equal(t, bobConv.UUID, again.UUID)

	var seen []model.Conversation
	unsub, err := bob.svc.Subscribe(ctx, Handler{Appended: func(c model.Conversation) { seen = append(seen, c) }})
	require.NoError(t, err)
	defer unsub()
	require.Len(t, seen, 1)
	require.True(t, seen[0].Equal(again))
}

func TestUpdateLastSeenIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	alice := newUser(t, store, "alice")
	bob := newUser(t, store, "bob")

	conv, err := alice.svc.SendRequest(ctx, bob.pub(), "")
	require.NoError(t, err)

	require.NoError(t, alice.svc.UpdateLastSeen(ctx, conv.UUID, conv.LastSeenTimestamp+10))
	require.NoError(t, alice.svc.UpdateLastSeen(ctx, conv.UUID, conv.LastSeenTimestamp+5))

	got, err := alice.svc.Get(ctx, conv.UUID)
	require.NoError(t, err)
	require.Equal(t, conv.LastSeenTimestamp+10, got.LastSeenTimestamp)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	alice := newUser(t, store, "alice")
	bob := newUser(t, store, "bob")

	conv, err := alice.svc.SendRequest(ctx, bob.pub(), "")
	require.NoError(t, err)

	var deleted []string
	unsub, err := alice.svc.Subscribe(ctx, Handler{Deleted: func(uuid string) { deleted = append(deleted, uuid) }})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, alice.svc.Remove(ctx, conv))
	require.Equal(t, []string{conv.UUID}, deleted)
	_, err = alice.svc.Get(ctx, conv.UUID)
	require.ErrorIs(t, err, graph.ErrNotFound)
}

func TestSelectExpired(t *testing.T) {
	now := time.Now()
	day := 24 * time.Hour
	at := func(d time.Duration) int64 { return now.Add(-d).UnixMilli() }

	sorted := []model.Message{
		{UUID: "single", Timestamp: at(100 * day), EncryptPub: "s1"},
		{UUID: "twin-a", Timestamp: at(95 * day), EncryptPub: "s2"},
		{UUID: "twin-b", Timestamp: at(91 * day), EncryptPub: "s2"},
	}
	m, ok := SelectExpired(sorted, now, DefaultExpiry)
	require.True(t, ok)
	require.Equal(t, "single", m.UUID)

	// the latest qualifying message wins
	sorted = append(sorted, model.Message{UUID: "later", Timestamp: at(92 * day), EncryptPub: "s3"})
	m, ok = SelectExpired(sorted, now, DefaultExpiry)
	require.True(t, ok)
	require.Equal(t, "later", m.UUID)

	_, ok = SelectExpired([]model.Message{{UUID: "young", Timestamp: at(10 * day), EncryptPub: "x"}}, now, DefaultExpiry)
	require.False(t, ok)
}

func TestExpireMessagesMovesFrontier(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	alice := newUser(t, store, "alice")
	bob := newUser(t, store, "bob")

	conv, err := alice.svc.SendRequest(ctx, bob.pub(), "")
	require.NoError(t, err)

	alice.engine.SetClock(func() time.Time { return time.Now().Add(-120 * 24 * time.Hour) })
	old, err := alice.engine.SendOnSlot(ctx, conv.NextPair, conv.ConversationID, model.TextContent("old"))
	require.NoError(t, err)

	expired, ok, err := alice.svc.ExpireMessages(ctx, conv, []model.Message{old}, DefaultExpiry)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, old.UUID, expired.UUID)

	got, err := alice.svc.Get(ctx, conv.UUID)
	require.NoError(t, err)
	require.Equal(t, old.NextPair, got.NextPair)
	require.Equal(t, conv.RootPair, got.RootPair)

	// loading expired history walks from the root again
	var history collector
	unsub, err := alice.svc.LoadExpired(ctx, got, history.add)
	require.NoError(t, err)
	defer unsub()
	require.Equal(t, []model.ContentKind{model.KindText}, history.kinds())
}

func TestDiffMembers(t *testing.T) {
	removed, added, remaining := DiffMembers([]string{"a", "b", "c"}, []string{"a", "b", "d"})
	require.Equal(t, []string{"c"}, removed)
	require.Equal(t, []string{"d"}, added)
	require.Equal(t, []string{"a", "b"}, remaining)
}

// setupGroup has admin invite the others and every invitee accept.
func setupGroup(t *testing.T, admin user, members ...user) (model.Conversation, map[string]model.Conversation) {
	ctx := context.Background()
	var pubs []string
	for _, m := range members {
		pubs = append(pubs, m.pub())
	}

	res, err := admin.svc.SendGroupRequests(ctx, pubs, "join us")
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.ElementsMatch(t, pubs, res.Sent)

	convs := make(map[string]model.Conversation)
	for _, m := range members {
		msgs := m.inbox(t)
		require.Len(t, msgs, 1)
		c, err := m.svc.Create(ctx, msgs[0])
		require.NoError(t, err)
		require.True(t, c.IsGroup())
		require.Equal(t, res.Conversation.ConversationID, c.ConversationID)
		convs[m.pub()] = c
	}
	return res.Conversation, convs
}

func TestSendGroupRequestsPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	admin := newUser(t, store, "admin")
	bob := newUser(t, store, "bob")
	ghost, err := provider.New().GenerateKeyPair()
	require.NoError(t, err)

	res, err := admin.svc.SendGroupRequests(ctx, []string{bob.pub(), ghost.Pub}, "")
	require.NoError(t, err)
	require.Equal(t, []string{bob.pub()}, res.Sent)
	require.ErrorIs(t, res.Failures[ghost.Pub], profile.ErrContactNotFound)
	require.True(t, res.Conversation.IsAdmin(admin.pub()))
	require.Equal(t, []string{admin.pub(), bob.pub(), ghost.Pub}, res.Conversation.MemberPubs)

	g, err := admin.svc.ReadGroup(ctx, admin.pub(), *res.Conversation.GroupPair)
	require.NoError(t, err)
	require.Equal(t, res.Conversation.MemberPubs, g.MemberPubs)

	_, err = admin.svc.SendGroupRequests(ctx, []string{ghost.Pub}, "")
	require.Error(t, err)
}

func TestRemovingMemberRotatesGroup(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	admin := newUser(t, store, "admin")
	bob := newUser(t, store, "bob")
	carl := newUser(t, store, "carl")

	conv, convs := setupGroup(t, admin, bob, carl)
	oldPair := *conv.GroupPair

	_, err := bob.svc.UpdateGroupMembers(ctx, MemberChange{Conversation: convs[bob.pub()]})
	require.ErrorIs(t, err, ErrNotAdmin)

	// the renewal must be strictly newer than the invites
	admin.engine.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	rot, err := admin.svc.UpdateGroupMembers(ctx, MemberChange{
		Conversation: conv,
		Frontier:     conv.NextPair,
		MemberPubs:   []string{admin.pub(), bob.pub()},
	})
	require.NoError(t, err)
	require.Empty(t, rot.Failures)
	require.Equal(t, []string{carl.pub()}, rot.Removed)
	require.NotEqual(t, oldPair, rot.GroupPair)
	// the admin continues on the new pair
	require.Equal(t, conv.NextPair.Pub, rot.Sent.EncryptPub)
	require.Equal(t, rot.GroupPair, rot.Sent.NextPair)
	require.Equal(t, model.KindRenewGroup, rot.Sent.Content.Kind)

	g, err := admin.svc.ReadGroup(ctx, admin.pub(), rot.GroupPair)
	require.NoError(t, err)
	require.Equal(t, []string{admin.pub(), bob.pub()}, g.MemberPubs)

	var bobSaw, carlSaw collector
	bobConv := convs[bob.pub()]
	bobWalk, err := bob.engine.ReadChainRecursive(ctx, bobConv.NextPair, bobSaw.add, bob.svc.UnsealPairs(bobConv)...)
	require.NoError(t, err)
	defer bobWalk()
	carlConv := convs[carl.pub()]
	carlWalk, err := carl.engine.ReadChainRecursive(ctx, carlConv.NextPair, carlSaw.add, carl.svc.UnsealPairs(carlConv)...)
	require.NoError(t, err)
	defer carlWalk()

	require.Equal(t, []model.ContentKind{model.KindRenewGroup}, bobSaw.kinds())
	require.Equal(t, rot.GroupPair, *bobSaw.msgs[0].Content.RenewPair)
	require.Equal(t, rot.GroupPair, bobSaw.msgs[0].NextPair)
	require.Empty(t, carlSaw.kinds())

	// bob installs the pair and refreshes membership from the new record
	require.NoError(t, bob.svc.UpdateGroupPair(ctx, bobConv.UUID, rot.GroupPair, bobSaw.msgs[0].Timestamp))
	require.NoError(t, bob.svc.RefreshGroup(ctx, bobConv.UUID))
	refreshed, err := bob.svc.Get(ctx, bobConv.UUID)
	require.NoError(t, err)
	require.Equal(t, rot.GroupPair, *refreshed.GroupPair)
	require.Equal(t, []string{admin.pub(), bob.pub()}, refreshed.MemberPubs)
	require.Equal(t, []model.KeyPair{oldPair}, refreshed.FormerGroupPairs)

	// an older renewal does not override the newer pair
	require.NoError(t, bob.svc.UpdateGroupPair(ctx, bobConv.UUID, oldPair, bobSaw.msgs[0].Timestamp-1))
	refreshed, err = bob.svc.Get(ctx, bobConv.UUID)
	require.NoError(t, err)
	require.Equal(t, rot.GroupPair, *refreshed.GroupPair)
}

func TestAddingMemberKeepsPair(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	admin := newUser(t, store, "admin")
	bob := newUser(t, store, "bob")
	dave := newUser(t, store, "dave")

	conv, convs := setupGroup(t, admin, bob)
	rot, err := admin.svc.UpdateGroupMembers(ctx, MemberChange{
		Conversation: conv,
		Frontier:     conv.NextPair,
		MemberPubs:   []string{admin.pub(), bob.pub(), dave.pub()},
		Text:         "welcome",
	})
	require.NoError(t, err)
	require.Equal(t, []string{dave.pub()}, rot.Added)
	require.Equal(t, *conv.GroupPair, rot.GroupPair)
	require.Equal(t, model.KindUpdateGroup, rot.Sent.Content.Kind)
	require.Equal(t, conv.NextPair.Pub, rot.Sent.EncryptPub)

	invites := dave.inbox(t)
	require.Len(t, invites, 1)
	daveConv, err := dave.svc.Create(ctx, invites[0])
	require.NoError(t, err)
	require.Equal(t, conv.ConversationID, daveConv.ConversationID)
	require.Equal(t, conv.NextPair, daveConv.NextPair)

	// existing members see the update notice under the group pair
	var bobSaw collector
	bobConv := convs[bob.pub()]
	unsub, err := bob.engine.ReadChainRecursive(ctx, bobConv.NextPair, bobSaw.add, bob.svc.UnsealPairs(bobConv)...)
	require.NoError(t, err)
	defer unsub()
	require.Equal(t, []model.ContentKind{model.KindUpdateGroup}, bobSaw.kinds())

	require.NoError(t, bob.svc.RefreshGroup(ctx, bobConv.UUID))
	refreshed, err := bob.svc.Get(ctx, bobConv.UUID)
	require.NoError(t, err)
	require.Equal(t, []string{admin.pub(), bob.pub(), dave.pub()}, refreshed.MemberPubs)
}

func TestUpdateGroupName(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	admin := newUser(t, store, "admin")
	bob := newUser(t, store, "bob")

	conv, convs := setupGroup(t, admin, bob)
	notice, err := admin.svc.UpdateGroupName(ctx, conv, conv.NextPair, "friends")
	require.NoError(t, err)
	require.Equal(t, model.KindUpdateGroup, notice.Content.Kind)
	require.Equal(t, conv.NextPair.Pub, notice.EncryptPub)
	require.NotEqual(t, conv.NextPair, notice.NextPair)

	bobConv := convs[bob.pub()]
	require.NoError(t, bob.svc.RefreshGroup(ctx, bobConv.UUID))
	refreshed, err := bob.svc.Get(ctx, bobConv.UUID)
	require.NoError(t, err)
	require.Equal(t, "friends", refreshed.Name)

	direct, err := admin.svc.SendRequest(ctx, bob.pub(), "")
	require.NoError(t, err)
	_, err = admin.svc.UpdateGroupName(ctx, direct, direct.NextPair, "x")
	require.ErrorIs(t, err, ErrNotGroup)
}
