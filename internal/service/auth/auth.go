package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/model"
	"cyphr/internal/service/profile"
	"cyphr/internal/utils/log"

	"go.uber.org/zap"
)

var (
	ErrAuthentication   = errors.New("wrong user or password")
	ErrWeakPassword     = errors.New("password must be at least 8 characters with upper case, lower case, digit and symbol")
	ErrAliasRequired    = errors.New("please enter an alias")
	ErrPasswordRequired = errors.New("please enter a password")
	ErrConfirmation     = errors.New("the password confirmation does not match")
)

// AnonymousName is the display name of accounts created without an alias.
const AnonymousName = "Anonymous"

const (
	saltSize          = 16
	keyPairAttempts   = 3
	keyPairRetryDelay = 500 * time.Millisecond
)

type (
	// Keeper remembers the last session on this device.
	Keeper interface {
		Save(s model.Session) error
		Load() (*model.Session, error)
		Clear() error
	}

	// authRecord is the account key pair sealed under the password, kept
	// at ~{pub}/auth.
	authRecord struct {
		Alias  string `json:"alias"`
		Salt   []byte `json:"salt"`
		Sealed []byte `json:"sealed"`
	}

	Service struct {
		store  graph.Store
		crypto provider.Provider
		dir    *profile.Directory
		keeper Keeper
		log    *zap.Logger

		retryDelay time.Duration
	}
)

func NewService(store graph.Store, crypto provider.Provider, dir *profile.Directory, keeper Keeper) *Service {
	return &Service{
		store:      store,
		crypto:     crypto,
		dir:        dir,
		keeper:     keeper,
		log:        log.Named("auth"),
		retryDelay: keyPairRetryDelay,
	}
}

// HasUser reports whether alias is registered.
func (s *Service) HasUser(ctx context.Context, alias string) (bool, error) {
	_, err := s.dir.LookupAlias(ctx, alias)
	if errors.Is(err, graph.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Create registers alias with password, or logs in when alias is taken.
func (s *Service) Create(ctx context.Context, alias, password string) (model.Session, error) {
	if alias == "" {
		return model.Session{}, ErrAliasRequired
	}
	if password == "" {
		return model.Session{}, ErrPasswordRequired
	}

	pair, err := s.crypto.GenerateKeyPair()
	if err != nil {
		return model.Session{}, err
	}
	if err := s.dir.ClaimAlias(ctx, alias, pair.Pub); err != nil {
		if errors.Is(err, profile.ErrAliasTaken) {
			return s.Authorise(ctx, alias, password)
		}
		return model.Session{}, err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return model.Session{}, err
	}
	sealed, err := provider.EncryptJSON(s.crypto, &pair, provider.PasswordSecret(password, salt))
	if err != nil {
		return model.Session{}, err
	}
	data, err := json.Marshal(&authRecord{Alias: alias, Salt: salt, Sealed: sealed})
	if err != nil {
		return model.Session{}, err
	}
	s.authorize(pair)
	if err := s.store.Put(ctx, graph.UserKey(pair.Pub, "auth"), data); err != nil {
		return model.Session{}, err
	}

	session := model.Session{Alias: alias, Pair: pair}
	if err := s.dir.Publish(ctx, session); err != nil {
		return model.Session{}, err
	}
	return s.start(session)
}

// Authorise logs alias in with password.
func (s *Service) Authorise(ctx context.Context, alias, password string) (model.Session, error) {
	if alias == "" {
		return model.Session{}, ErrAliasRequired
	}
	if password == "" {
		return model.Session{}, ErrPasswordRequired
	}

	pub, err := s.dir.LookupAlias(ctx, alias)
	if errors.Is(err, graph.ErrNotFound) {
		return model.Session{}, fmt.Errorf("%w: please check your alias", ErrAuthentication)
	}
	if err != nil {
		return model.Session{}, err
	}

	n, err := s.store.Get(ctx, graph.UserKey(pub, "auth"))
	if err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	var rec authRecord
	if err := json.Unmarshal(n.Value, &rec); err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	var pair model.KeyPair
	if err := provider.DecryptJSON(s.crypto, rec.Sealed, provider.PasswordSecret(password, rec.Salt), &pair); err != nil {
		return model.Session{}, ErrAuthentication
	}
	if err := provider.CheckKeyPair(pair); err != nil || pair.Pub != pub {
		return model.Session{}, ErrAuthentication
	}
	s.authorize(pair)

	session := model.Session{Alias: alias, Pair: pair}
	if p, err := s.dir.Resolve(ctx, pair.Pub); err == nil {
		session.Name = p.Name
	}
	return s.start(session)
}

// AuthoriseKeyPair logs in with a full key pair, as scanned from another
// device. The profile lookup is retried a few times since a freshly shown
// pair may not have reached the store yet.
func (s *Service) AuthoriseKeyPair(ctx context.Context, pair model.KeyPair) (model.Session, error) {
	if err := provider.CheckKeyPair(pair); err != nil {
		return model.Session{}, fmt.Errorf("%w: invalid QR code", ErrAuthentication)
	}
	s.authorize(pair)

	var lastErr error
	for attempt := 0; attempt < keyPairAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return model.Session{}, ctx.Err()
			}
		}

		p, err := s.dir.Resolve(ctx, pair.Pub)
		if err == nil {
			return s.start(model.Session{Alias: p.Alias, Name: p.Name, Pair: pair})
		}
		lastErr = err
		s.log.Debug("key pair login attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return model.Session{}, fmt.Errorf("%w: invalid QR code: %v", ErrAuthentication, lastErr)
}

// CreateAnonymous starts a fresh account with no alias or password.
func (s *Service) CreateAnonymous(ctx context.Context) (model.Session, error) {
	pair, err := s.crypto.GenerateKeyPair()
	if err != nil {
		return model.Session{}, err
	}
	s.authorize(pair)
	session := model.Session{Name: AnonymousName, Pair: pair}
	if err := s.dir.Publish(ctx, session); err != nil {
		return model.Session{}, err
	}
	return s.start(session)
}

// Recall restores the session kept on this device.
func (s *Service) Recall(ctx context.Context) (model.Session, error) {
	saved, err := s.keeper.Load()
	if err != nil {
		return model.Session{}, err
	}
	if saved == nil {
		return model.Session{}, ErrAuthentication
	}
	if err := provider.CheckKeyPair(saved.Pair); err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	s.authorize(saved.Pair)

	session := *saved
	if p, err := s.dir.Resolve(ctx, session.Pair.Pub); err == nil {
		if p.Alias != "" {
			session.Alias = p.Alias
		}
		session.Name = p.Name
	}
	return session, nil
}

// Rename publishes a new display name for the session.
func (s *Service) Rename(ctx context.Context, session model.Session, name string) (model.Session, error) {
	session.Name = name
	if err := s.dir.Publish(ctx, session); err != nil {
		return model.Session{}, err
	}
	return s.start(session)
}

// Leave forgets the session kept on this device.
func (s *Service) Leave() error {
	return s.keeper.Clear()
}

// authorize lets the store write under pair's namespace from now on.
func (s *Service) authorize(pair model.KeyPair) {
	graph.Authorize(s.store, pair.Pub, func(data []byte) (string, error) {
		return s.crypto.Sign(pair, data)
	})
}

func (s *Service) start(session model.Session) (model.Session, error) {
	if err := s.keeper.Save(session); err != nil {
		return model.Session{}, fmt.Errorf("keep session: %w", err)
	}
	s.log.Info("logged in", zap.String("alias", session.Alias), zap.String("pub", session.Pair.Pub))
	return session, nil
}
