package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type (
	// HttpServer is the relay: it serves the graph to clients over a
	// websocket and exposes health, metrics and profile lookups over HTTP.
	HttpServer struct {
		store    graph.Store
		crypto   provider.Provider
		metrics  *Metrics
		upgrader websocket.Upgrader
	}

	connection struct {
		ws   *websocket.Conn
		wmu  sync.Mutex
		subs map[uint64]graph.Unsubscribe
	}
)

func NewHttpServer(store graph.Store, crypto provider.Provider, metrics *Metrics) *HttpServer {
	return &HttpServer{
		store:   store,
		crypto:  crypto,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/sync", s.HandleSyncWS()).Methods(http.MethodGet)
	r.HandleFunc("/profiles/{pub}", s.GetProfile()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

// Run serves on addr until ctx is done.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("relay listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HttpServer) HandleSyncWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("Failed to upgrade", zap.Error(err))
			return
		}

		c := &connection{
			ws:   ws,
			subs: make(map[uint64]graph.Unsubscribe),
		}
		s.metrics.connections.Inc()
		go s.processFrames(c)
	}
}

// processFrames handles one connection's requests in arrival order.
func (s *HttpServer) processFrames(c *connection) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		for id, unsub := range c.subs {
			unsub()
			delete(c.subs, id)
			s.metrics.subscriptions.Dec()
		}
		c.ws.Close()
		s.metrics.connections.Dec()
	}()

	for {
		var f graph.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			log.Debug("sync web socket closed", zap.Error(err))
			return
		}
		s.metrics.frames.WithLabelValues(f.Op).Inc()

		if err := c.write(s.handleFrame(ctx, c, f)); err != nil {
			log.Debug("write sync frame failed", zap.Error(err))
			return
		}
	}
}

func (s *HttpServer) handleFrame(ctx context.Context, c *connection, f graph.Frame) graph.Frame {
	ack := graph.Frame{Op: graph.OpAck, ID: f.ID}

	if f.Op == graph.OpPut || f.Op == graph.OpCAS {
		if err := s.checkWrite(f); err != nil {
			s.metrics.rejected.WithLabelValues(f.Op).Inc()
			log.Debug("write rejected", zap.String("key", f.Key), zap.Error(err))
			return graph.ErrorFrame(f.ID, err)
		}
	}

	switch f.Op {
	case graph.OpPut:
		if _, ok := graph.MessageHash(f.Key); ok {
			if err := s.putOnce(ctx, f.Key, f.Value); err != nil {
				return graph.ErrorFrame(f.ID, err)
			}
			break
		}
		if err := s.store.Put(ctx, f.Key, f.Value); err != nil {
			return graph.ErrorFrame(f.ID, err)
		}

	case graph.OpCAS:
		v, err := s.store.CompareAndPut(ctx, f.Key, f.Value, f.Version)
		if err != nil {
			return graph.ErrorFrame(f.ID, err)
		}
		ack.Version = v

	case graph.OpGet:
		n, err := s.store.Get(ctx, f.Key)
		if err != nil {
			resp := graph.ErrorFrame(f.ID, err)
			resp.Version = n.Version
			return resp
		}
		ack.Key = n.Key
		ack.Value = n.Value
		ack.Version = n.Version

	case graph.OpOn:
		if _, ok := c.subs[f.ID]; ok {
			return graph.ErrorFrame(f.ID, errors.New("duplicate subscription id"))
		}
		id := f.ID
		unsub, err := s.store.On(ctx, f.Key, func(key string, value []byte) {
			if err := c.write(graph.Frame{Op: graph.OpNode, ID: id, Key: key, Value: value}); err != nil {
				log.Debug("push node failed", zap.String("key", key), zap.Error(err))
			}
		})
		if err != nil {
			return graph.ErrorFrame(f.ID, err)
		}
		c.subs[id] = unsub
		s.metrics.subscriptions.Inc()

	case graph.OpOff:
		if unsub, ok := c.subs[f.ID]; ok {
			unsub()
			delete(c.subs, f.ID)
			s.metrics.subscriptions.Dec()
		}

	default:
		return graph.ErrorFrame(f.ID, errors.New("unknown op "+f.Op))
	}

	return ack
}

// checkWrite enforces who may write what. Messages are addressed by the hash
// of their envelope and never change once written. A private namespace is
// written only with its owner's signature. An alias is bound once.
func (s *HttpServer) checkWrite(f graph.Frame) error {
	if hash, ok := graph.MessageHash(f.Key); ok {
		if f.Value == nil {
			return fmt.Errorf("%w: messages cannot be deleted", graph.ErrForbidden)
		}
		if f.Op == graph.OpCAS && f.Version != 0 {
			return fmt.Errorf("%w: messages cannot be rewritten", graph.ErrForbidden)
		}
		sum, err := s.crypto.Hash(f.Value)
		if err != nil {
			return err
		}
		if sum != hash {
			return fmt.Errorf("%w: message does not match its address", graph.ErrForbidden)
		}
		return nil
	}

	if pub, ok := graph.Owner(f.Key); ok {
		if f.Sig == "" || !s.crypto.Verify(pub, f.SignedBytes(), f.Sig) {
			return fmt.Errorf("%w: not signed by %s", graph.ErrForbidden, pub)
		}
		return nil
	}

	if graph.IsAliasKey(f.Key) && (f.Op != graph.OpCAS || f.Version != 0 || f.Value == nil) {
		return fmt.Errorf("%w: aliases are bound once", graph.ErrForbidden)
	}
	return nil
}

// putOnce writes a message unless its key is taken. Writing the same message
// again succeeds without a change.
func (s *HttpServer) putOnce(ctx context.Context, key string, value []byte) error {
	_, err := s.store.CompareAndPut(ctx, key, value, 0)
	if !errors.Is(err, graph.ErrConflict) {
		return err
	}
	n, gerr := s.store.Get(ctx, key)
	if gerr == nil && bytes.Equal(n.Value, value) {
		return nil
	}
	return fmt.Errorf("%w: message already written", graph.ErrForbidden)
}

func (c *connection) write(f graph.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(f)
}

// GetProfile serves the signed profile an account published, so tools can
// resolve a key without joining the graph.
func (s *HttpServer) GetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		vars := mux.Vars(r)
		pub := vars["pub"]
		log.Debug("GetProfile", zap.String("pub", pub))

		n, err := s.store.Get(ctx, graph.UserKey(pub, "profile"))
		if errors.Is(err, graph.ErrNotFound) {
			http.Error(w, "profile does not exist", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("Get profile failed", zap.Error(err))
			http.Error(w, "Get profile failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(n.Value)
	}
}
