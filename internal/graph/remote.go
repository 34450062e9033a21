package graph

import (
	"context"
	"fmt"
	"sync"

	"cyphr/internal/utils/log"
	"cyphr/internal/utils/queue"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type (
	delivery struct {
		sub   uint64
		key   string
		value []byte
	}

	// Remote is a Store served by a relay over a websocket.
	Remote struct {
		conn *websocket.Conn
		wmu  sync.Mutex

		mu      sync.Mutex
		next    uint64
		pending map[uint64]chan Frame
		subs    map[uint64]Handler
		signers map[string]Signer

		inbox *queue.Unbounded[delivery]
		done  chan struct{}
		once  sync.Once
		log   *zap.Logger
	}
)

// Dial connects to a relay sync endpoint such as ws://host:9090/sync.
func Dial(ctx context.Context, url string) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	r := &Remote{
		conn:    conn,
		pending: make(map[uint64]chan Frame),
		subs:    make(map[uint64]Handler),
		signers: make(map[string]Signer),
		inbox:   queue.New[delivery](),
		done:    make(chan struct{}),
		log:     log.Named("remote"),
	}
	go r.readLoop()
	go r.deliverLoop()
	return r, nil
}

// Authorize lets the connection write under pub's private namespace.
func (r *Remote) Authorize(pub string, sign Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[pub] = sign
}

func (r *Remote) Put(ctx context.Context, key string, value []byte) error {
	f, err := r.sign(Frame{Op: OpPut, Key: key, Value: value})
	if err != nil {
		return err
	}
	_, err = r.call(ctx, f)
	return err
}

func (r *Remote) CompareAndPut(ctx context.Context, key string, value []byte, version uint64) (uint64, error) {
	f, err := r.sign(Frame{Op: OpCAS, Key: key, Value: value, Version: version})
	if err != nil {
		return 0, err
	}
	resp, err := r.call(ctx, f)
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// sign attaches the owner's signature to writes into a private namespace.
// Without a signer the frame goes out as is and the relay refuses it.
func (r *Remote) sign(f Frame) (Frame, error) {
	pub, ok := Owner(f.Key)
	if !ok {
		return f, nil
	}
	r.mu.Lock()
	sign := r.signers[pub]
	r.mu.Unlock()
	if sign == nil {
		return f, nil
	}

	sig, err := sign(f.SignedBytes())
	if err != nil {
		return f, fmt.Errorf("sign %s: %w", f.Key, err)
	}
	f.Sig = sig
	return f, nil
}

func (r *Remote) Get(ctx context.Context, key string) (Node, error) {
	resp, err := r.call(ctx, Frame{Op: OpGet, Key: key})
	if err != nil {
		return Node{Key: key, Version: resp.Version}, err
	}
	return Node{Key: key, Value: resp.Value, Version: resp.Version}, nil
}

func (r *Remote) On(ctx context.Context, prefix string, fn Handler) (Unsubscribe, error) {
	r.mu.Lock()
	r.next++
	id := r.next
	r.subs[id] = fn
	r.mu.Unlock()

	if _, err := r.callID(ctx, id, Frame{Op: OpOn, Key: prefix}); err != nil {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			if err := r.write(Frame{Op: OpOff, ID: id}); err != nil {
				r.log.Debug("unsubscribe on closed relay", zap.Uint64("id", id), zap.Error(err))
			}
		})
	}, nil
}

// Subscriptions is the number of live subscriptions.
func (r *Remote) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Remote) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		r.inbox.Close()
		err = r.conn.Close()
	})
	return err
}

func (r *Remote) call(ctx context.Context, f Frame) (Frame, error) {
	r.mu.Lock()
	r.next++
	id := r.next
	r.mu.Unlock()
	return r.callID(ctx, id, f)
}

func (r *Remote) callID(ctx context.Context, id uint64, f Frame) (Frame, error) {
	f.ID = id
	reply := make(chan Frame, 1)

	r.mu.Lock()
	r.pending[id] = reply
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	if err := r.write(f); err != nil {
		return Frame{}, err
	}

	select {
	case resp := <-reply:
		return resp, resp.Err()
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-r.done:
		return Frame{}, ErrClosed
	}
}

func (r *Remote) write(f Frame) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}

	r.wmu.Lock()
	defer r.wmu.Unlock()
	return r.conn.WriteJSON(f)
}

func (r *Remote) readLoop() {
	defer r.Close()

	for {
		var f Frame
		if err := r.conn.ReadJSON(&f); err != nil {
			r.log.Debug("relay connection closed", zap.Error(err))
			return
		}

		if f.Op == OpNode {
			r.inbox.Push(delivery{sub: f.ID, key: f.Key, value: f.Value})
			continue
		}

		r.mu.Lock()
		reply, ok := r.pending[f.ID]
		r.mu.Unlock()
		if ok {
			reply <- f
		}
	}
}

// deliverLoop runs handlers off the read loop so a handler may itself call
// the relay and wait for the reply.
func (r *Remote) deliverLoop() {
	ctx := context.Background()
	for {
		d, ok := r.inbox.Pop(ctx)
		if !ok {
			return
		}

		r.mu.Lock()
		fn, ok := r.subs[d.sub]
		r.mu.Unlock()
		if ok {
			fn(d.key, d.value)
		}
	}
}
