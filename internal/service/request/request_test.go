package request

import (
	"context"
	"testing"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/identity"
	"cyphr/internal/model"
	"cyphr/internal/protocol/chain"
	"cyphr/internal/service/conversation"
	"cyphr/internal/service/profile"

	"github.com/stretchr/testify/require"
)

type user struct {
	pub      string
	engine   *chain.Engine
	convs    *conversation.Service
	requests *Service
}

func newUser(t *testing.T, store graph.Store, alias string) user {
	crypto := provider.New()
	pair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	dir := profile.NewDirectory(store, crypto)
	require.NoError(t, dir.Publish(context.Background(), model.Session{Alias: alias, Pair: pair}))

	engine := chain.NewEngine(store, crypto, pair, dir)
	convs, err := conversation.NewService(store, crypto, engine, identity.NewTable())
	require.NoError(t, err)
	return user{pub: pair.Pub, engine: engine, convs: convs, requests: NewService(store, engine, convs)}
}

func TestAcceptDeclineMarkResolved(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	alice := newUser(t, store, "alice")
	bob := newUser(t, store, "bob")
	carl := newUser(t, store, "carl")

	_, err := alice.convs.SendRequest(ctx, bob.pub, "from alice")
	require.NoError(t, err)
	_, err = carl.convs.SendRequest(ctx, bob.pub, "from carl")
	require.NoError(t, err)

	var incoming []model.ContactRequest
	unsub, err := bob.requests.SubscribeIncoming(ctx, func(r model.ContactRequest) { incoming = append(incoming, r) })
	require.NoError(t, err)
	defer unsub()
	require.Len(t, incoming, 2)

	var removed []string
	unsubRemoved, err := bob.requests.SubscribeRemoved(ctx, func(uuid string) { removed = append(removed, uuid) })
	require.NoError(t, err)
	defer unsubRemoved()

	var fromAlice, fromCarl model.ContactRequest
	for _, r := range incoming {
		if r.SenderPub == alice.pub {
			fromAlice = r
		} else {
			fromCarl = r
		}
	}
	require.Equal(t, "from alice", fromAlice.Content.Text)

	conv, err := bob.requests.Accept(ctx, fromAlice)
	require.NoError(t, err)
	require.Equal(t, alice.pub, conv.ConversationID)

	require.NoError(t, bob.requests.Decline(ctx, fromCarl))
	require.ElementsMatch(t, []string{fromAlice.UUID, fromCarl.UUID}, removed)
}

func TestAmendPointsConversationAtOfferedSlot(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	alice := newUser(t, store, "alice")
	bob := newUser(t, store, "bob")

	aliceConv, err := alice.convs.SendRequest(ctx, bob.pub, "")
	require.NoError(t, err)

	var incoming []model.ContactRequest
	unsub, err := bob.requests.SubscribeIncoming(ctx, func(r model.ContactRequest) { incoming = append(incoming, r) })
	require.NoError(t, err)
	defer unsub()
	bobConv, err := bob.requests.Accept(ctx, incoming[0])
	require.NoError(t, err)

	// alice deleted the conversation and asked again
	require.NoError(t, alice.convs.Remove(ctx, aliceConv))
	second, err := alice.convs.SendRequest(ctx, bob.pub, "again")
	require.NoError(t, err)
	require.Len(t, incoming, 2)

	amend, err := bob.requests.Amend(ctx, bobConv.NextPair, bobConv.ConversationID, incoming[1])
	require.NoError(t, err)
	require.Equal(t, second.NextPair, amend.NextPair)

	var seen []model.Message
	walk, err := bob.engine.ReadChainRecursive(ctx, bobConv.NextPair, func(m model.Message) { seen = append(seen, m) })
	require.NoError(t, err)
	defer walk()
	require.Len(t, seen, 1)
	require.Equal(t, model.KindAmendRequest, seen[0].Content.Kind)
	require.Equal(t, second.NextPair, seen[0].NextPair)
}
