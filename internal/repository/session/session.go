package session

import (
	"cyphr/internal/model"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketName = []byte("session")
	currentKey = []byte("current")
)

type (
	record struct {
		Alias string `cbor:"1,keyasint"`
		Name  string `cbor:"2,keyasint,omitempty"`
		Pub   string `cbor:"3,keyasint"`
		Epub  string `cbor:"4,keyasint"`
		Priv  string `cbor:"5,keyasint"`
		Epriv string `cbor:"6,keyasint"`
	}

	// SessionRepo keeps the last authenticated key pair on this device so the
	// user can be recalled without a password.
	SessionRepo struct {
		db *bolt.DB
	}
)

func NewSessionRepo(db *bolt.DB) (*SessionRepo, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &SessionRepo{db: db}, nil
}

func (r *SessionRepo) Save(s model.Session) error {
	raw, err := cbor.Marshal(record{
		Alias: s.Alias,
		Name:  s.Name,
		Pub:   s.Pair.Pub,
		Epub:  s.Pair.Epub,
		Priv:  s.Pair.Priv,
		Epriv: s.Pair.Epriv,
	})
	if err != nil {
		return err
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(currentKey, raw)
	})
}

// Load returns nil when no session is stored.
func (r *SessionRepo) Load() (*model.Session, error) {
	var rec *record
	err := r.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get(currentKey)
		if raw == nil {
			return nil
		}
		rec = &record{}
		return cbor.Unmarshal(raw, rec)
	})
	if err != nil || rec == nil {
		return nil, err
	}

	return &model.Session{
		Alias: rec.Alias,
		Name:  rec.Name,
		Pair: model.KeyPair{
			Pub:   rec.Pub,
			Epub:  rec.Epub,
			Priv:  rec.Priv,
			Epriv: rec.Epriv,
		},
	}, nil
}

func (r *SessionRepo) Clear() error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(currentKey)
	})
}
