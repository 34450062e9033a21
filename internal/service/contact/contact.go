package contact

import (
	"context"
	"errors"
	"strings"
	"sync"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/identity"
	"cyphr/internal/model"
	"cyphr/internal/service/profile"
	"cyphr/internal/utils/log"

	"go.uber.org/zap"
)

const recordPrefix = "contact-"

type (
	// Handler receives contact changes. Deleted contacts carry only UUID and,
	// when known, Pub.
	Handler struct {
		Appended func(model.Contact)
		Deleted  func(model.Contact)
	}

	// Service keeps the user's contact list in the private namespace, one
	// record per contact encrypted under the user's own pair.
	Service struct {
		store   graph.Store
		crypto  provider.Provider
		session model.Session
		dir     *profile.Directory
		ids     *identity.Table
		key     provider.Secret
		log     *zap.Logger

		mu      sync.Mutex
		byUUID  map[string]string
		watches map[string]graph.Unsubscribe
	}
)

func NewService(store graph.Store, crypto provider.Provider, session model.Session, dir *profile.Directory, ids *identity.Table) (*Service, error) {
	key, err := crypto.PairSecret(session.Pair)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:   store,
		crypto:  crypto,
		session: session,
		dir:     dir,
		ids:     ids,
		key:     key,
		log:     log.Named("contact"),
		byUUID:  make(map[string]string),
		watches: make(map[string]graph.Unsubscribe),
	}, nil
}

func (s *Service) recordKey(uuid string) string {
	return graph.UserKey(s.session.Pair.Pub, "contacts", recordPrefix+uuid)
}

// Subscribe streams the stored contacts and their later changes. While
// subscribed, every contact's public profile is watched so a rename is
// written back into the contact record.
func (s *Service) Subscribe(ctx context.Context, h Handler) (graph.Unsubscribe, error) {
	prefix := graph.UserKey(s.session.Pair.Pub, "contacts", "")
	unsub, err := s.store.On(ctx, prefix, func(key string, value []byte) {
		uuid := strings.TrimPrefix(strings.TrimPrefix(key, prefix), recordPrefix)
		if value == nil {
			s.mu.Lock()
			pub := s.byUUID[uuid]
			s.mu.Unlock()
			if h.Deleted != nil {
				h.Deleted(model.Contact{UUID: uuid, Pub: pub})
			}
			return
		}

		var c model.Contact
		if err := provider.DecryptJSON(s.crypto, value, s.key, &c); err != nil {
			s.log.Debug("skip contact record", zap.String("key", key), zap.Error(err))
			return
		}
		s.ids.Remember(c.Pub, c.UUID)
		s.ids.NameChanged(c.Pub, c.DisplayName)
		s.mu.Lock()
		s.byUUID[c.UUID] = c.Pub
		s.mu.Unlock()

		if h.Appended != nil {
			h.Appended(c)
		}
		s.watch(ctx, c.Pub)
	})
	if err != nil {
		return nil, err
	}

	return func() {
		unsub()
		s.mu.Lock()
		watches := s.watches
		s.watches = make(map[string]graph.Unsubscribe)
		s.mu.Unlock()
		for _, w := range watches {
			w()
		}
	}, nil
}

func (s *Service) watch(ctx context.Context, pub string) {
	s.mu.Lock()
	if _, ok := s.watches[pub]; ok {
		s.mu.Unlock()
		return
	}
	s.watches[pub] = graph.Noop
	s.mu.Unlock()

	unsub, err := s.dir.Watch(ctx, pub, func(p model.Profile) {
		if !s.ids.NameChanged(p.Pub, p.Name) {
			return
		}
		if _, err := s.write(ctx, p); err != nil {
			s.log.Warn("rewrite renamed contact failed", zap.String("pub", p.Pub), zap.Error(err))
		}
	})
	if err != nil {
		s.log.Warn("watch contact profile failed", zap.String("pub", pub), zap.Error(err))
		s.mu.Lock()
		delete(s.watches, pub)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		unsub()
		return
	}
	s.watches[pub] = unsub
	s.mu.Unlock()
}

// Set adds or refreshes the contact for pub from its published profile.
func (s *Service) Set(ctx context.Context, pub string) (model.Contact, error) {
	p, err := s.dir.Resolve(ctx, pub)
	if err != nil {
		return model.Contact{}, err
	}
	s.ids.NameChanged(p.Pub, p.Name)
	return s.write(ctx, p)
}

func (s *Service) write(ctx context.Context, p model.Profile) (model.Contact, error) {
	c := model.Contact{
		UUID:        s.ids.UUID(p.Pub),
		Alias:       p.Alias,
		DisplayName: p.Name,
		Pub:         p.Pub,
		Epub:        p.Epub,
	}
	data, err := provider.EncryptJSON(s.crypto, &c, s.key)
	if err != nil {
		return model.Contact{}, err
	}
	if err := s.store.Put(ctx, s.recordKey(c.UUID), data); err != nil {
		return model.Contact{}, err
	}
	return c, nil
}

func (s *Service) Remove(ctx context.Context, c model.Contact) error {
	if c.UUID == "" {
		return errors.New("contact without uuid")
	}
	return s.store.Put(ctx, s.recordKey(c.UUID), nil)
}
