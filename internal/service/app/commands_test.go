package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/model"
	"cyphr/internal/service/client"
	"cyphr/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKeeper struct {
	mu sync.Mutex
	s  *model.Session
}

func (k *memKeeper) Save(s model.Session) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.s = &s
	return nil
}

func (k *memKeeper) Load() (*model.Session, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.s, nil
}

func (k *memKeeper) Clear() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.s = nil
	return nil
}

func newClient(t *testing.T, store graph.Store) *client.Client {
	t.Helper()
	c := client.New(store, provider.New(), &memKeeper{}, client.Options{})
	c.Start(context.Background())
	t.Cleanup(func() { c.Close() })
	return c
}

func eventually(t *testing.T, c *client.Client, cond func(state.State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.Snapshot()) }, 5*time.Second, 10*time.Millisecond)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemory()
	alice := newClient(t, store)
	bob := newClient(t, store)

	t.Run("needs login", func(t *testing.T) {
		_, err := Execute(ctx, alice, "/whoami")
		require.ErrorIs(t, err, client.ErrNotLoggedIn)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := Execute(ctx, alice, "/dance")
		require.ErrorIs(t, err, ErrUnknown)
	})

	t.Run("usage", func(t *testing.T) {
		_, err := Execute(ctx, alice, "/login alice")
		require.ErrorContains(t, err, "usage: /login")
	})

	t.Run("help lists every command", func(t *testing.T) {
		out, err := Execute(ctx, alice, "/help")
		require.NoError(t, err)
		for name := range commands() {
			assert.Contains(t, out, "/"+name)
		}
	})

	out, err := Execute(ctx, alice, "  ")
	require.NoError(t, err)
	require.Empty(t, out)

	for _, c := range []*client.Client{alice, bob} {
		_, err := Execute(ctx, c, "/anon")
		require.NoError(t, err)
		eventually(t, c, func(s state.State) bool { return s.Login.LoggedIn })
	}
	bobPub := bob.Snapshot().Login.Pair.Pub

	out, err = Execute(ctx, bob, "/whoami")
	require.NoError(t, err)
	require.Contains(t, out, bobPub)

	_, err = Execute(ctx, alice, "hello?")
	require.ErrorIs(t, err, ErrNoSelection)

	out, err = Execute(ctx, alice, "/request "+bobPub+" hi there")
	require.NoError(t, err)
	require.Contains(t, out, "request sent")
	eventually(t, bob, func(s state.State) bool { return len(s.Requests) == 1 })
	require.Equal(t, "hi there", bob.Snapshot().Requests[0].Content.Text)

	_, err = Execute(ctx, bob, "/accept 2")
	require.ErrorContains(t, err, "expected 1 to 1")
	_, err = Execute(ctx, bob, "/accept 1")
	require.NoError(t, err)
	eventually(t, bob, func(s state.State) bool { return s.Selected != "" })

	_, err = Execute(ctx, bob, "good to see you")
	require.NoError(t, err)

	eventually(t, alice, func(s state.State) bool { return len(s.Conversations) == 1 })
	_, err = Execute(ctx, alice, "/select 1")
	require.NoError(t, err)
	eventually(t, alice, func(s state.State) bool {
		_, body := chat(s)
		return strings.Contains(body, "good to see you")
	})

	_, err = Execute(ctx, alice, "/close")
	require.NoError(t, err)
	eventually(t, alice, func(s state.State) bool { return s.Selected == "" })

	_, err = Execute(ctx, alice, "/logout")
	require.NoError(t, err)
	eventually(t, alice, func(s state.State) bool { return !s.Login.LoggedIn })
}

func TestView(t *testing.T) {
	me := model.KeyPair{Pub: "me-pub-0123456789"}
	st := state.New(state.Policy{})
	require.Contains(t, sidebar(st), "not logged in")

	st.Login = state.Login{Alias: "alice", Pair: me, LoggedIn: true}
	st.Contacts = []model.Contact{{Pub: "bob-pub-0123456789", Alias: "bob"}}
	st.Conversations = []model.Conversation{{UUID: "c1", ConversationID: "bob-pub-0123456789"}}
	st.Selected = "c1"
	st.Messages = []model.Message{
		{UUID: "m2", ConversationID: "bob-pub-0123456789", SenderPub: me.Pub, Content: model.TextContent("hey [bob]"), Timestamp: 2},
		{UUID: "m1", ConversationID: me.Pub, SenderPub: "bob-pub-0123456789", Content: model.TextContent("hi"), Timestamp: 1},
		{UUID: "m3", ConversationID: me.Pub, SenderPub: "bob-pub-0123456789", Content: model.UpdateGroup("x"), Timestamp: 3},
	}
	st.Requests = []model.ContactRequest{{UUID: "r1", SenderPub: "stranger-0123456789", Content: model.RequestContent{Kind: model.RequestDirect, Text: "knock"}}}

	side := sidebar(st)
	assert.Contains(t, side, "alice")
	assert.Contains(t, side, ">1 bob")
	assert.Contains(t, side, "1 stranger: knock")

	title, body := chat(st)
	assert.Equal(t, " Chat with bob ", title)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "bob:[-] hi")
	assert.Contains(t, lines[1], "You:[-] hey [bob[]")

	assert.Empty(t, status(st))
	st.SendError = "boom"
	assert.Equal(t, "send failed: boom", status(st))
}
