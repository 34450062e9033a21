package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cyphr/internal/cryptographic/provider"
	"cyphr/internal/graph"
	"cyphr/internal/model"
	"cyphr/internal/utils/log"

	"go.uber.org/zap"
)

var (
	// ErrContactNotFound means the key has no valid published profile.
	ErrContactNotFound = errors.New("invalid contact")
	// ErrMalformedKey means the key itself cannot be a public key.
	ErrMalformedKey = errors.New("invalid invite")
	ErrAliasTaken   = errors.New("alias already taken")
)

type (
	// Directory publishes and resolves the signed public profiles accounts
	// keep at ~{pub}/profile, plus the alias index at ~@{alias}.
	Directory struct {
		store  graph.Store
		crypto provider.Provider
		log    *zap.Logger
	}
)

func NewDirectory(store graph.Store, crypto provider.Provider) *Directory {
	return &Directory{
		store:  store,
		crypto: crypto,
		log:    log.Named("profile"),
	}
}

func profileKey(pub string) string {
	return graph.UserKey(pub, "profile")
}

// Publish signs and writes the session's public profile.
func (d *Directory) Publish(ctx context.Context, s model.Session) error {
	p := model.Profile{
		Alias: s.Alias,
		Name:  s.Name,
		Pub:   s.Pair.Pub,
		Epub:  s.Pair.Epub,
	}
	sig, err := d.crypto.Sign(s.Pair, p.SignedBytes())
	if err != nil {
		return fmt.Errorf("sign profile: %w", err)
	}
	p.Signature = sig

	data, err := json.Marshal(&p)
	if err != nil {
		return err
	}
	return d.store.Put(ctx, profileKey(p.Pub), data)
}

// ClaimAlias binds alias to pub once; a second claim fails with ErrAliasTaken.
func (d *Directory) ClaimAlias(ctx context.Context, alias, pub string) error {
	_, err := d.store.CompareAndPut(ctx, graph.AliasKey(alias), []byte(pub), 0)
	if errors.Is(err, graph.ErrConflict) {
		return ErrAliasTaken
	}
	return err
}

// LookupAlias returns the public key claimed by alias, or graph.ErrNotFound.
func (d *Directory) LookupAlias(ctx context.Context, alias string) (string, error) {
	n, err := d.store.Get(ctx, graph.AliasKey(alias))
	if err != nil {
		return "", err
	}
	return string(n.Value), nil
}

// Resolve reads and verifies the profile published by pub.
func (d *Directory) Resolve(ctx context.Context, pub string) (model.Profile, error) {
	if err := provider.ValidPublicKey(pub); err != nil {
		return model.Profile{}, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}

	// a missing profile is an answer too, so do not wait for one to appear.
	data, err := graph.Once(ctx, d.store, profileKey(pub), func([]byte) bool { return true })
	if errors.Is(err, graph.ErrNotFound) {
		return model.Profile{}, ErrContactNotFound
	}
	if err != nil {
		return model.Profile{}, err
	}

	p, ok := d.decode(pub, data)
	if !ok {
		return model.Profile{}, ErrContactNotFound
	}
	return p, nil
}

// Watch calls fn with every valid version of pub's profile, current one first.
func (d *Directory) Watch(ctx context.Context, pub string, fn func(model.Profile)) (graph.Unsubscribe, error) {
	key := profileKey(pub)
	return d.store.On(ctx, key, func(k string, value []byte) {
		if k != key || value == nil {
			return
		}
		if p, ok := d.decode(pub, value); ok {
			fn(p)
		}
	})
}

func (d *Directory) decode(pub string, data []byte) (model.Profile, bool) {
	var p model.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		d.log.Debug("unreadable profile", zap.String("pub", pub), zap.Error(err))
		return p, false
	}
	if p.Pub != pub || !d.crypto.Verify(pub, p.SignedBytes(), p.Signature) {
		d.log.Warn("profile signature rejected", zap.String("pub", pub))
		return p, false
	}
	return p, true
}
