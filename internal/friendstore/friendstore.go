// Package friendstore owns the device's lifetime identity keypair and
// its friend list (spec §3 "Friend entry", "Identity"), persisted
// through the same go.etcd.io/bbolt handle style as internal/store.
package friendstore

import (
	"encoding/json"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/murmur/murmur-core/internal/crypto"
	"github.com/murmur/murmur-core/internal/murmurerr"
)

var (
	bucketIdentity = []byte("identity")
	bucketFriends  = []byte("friends")

	keyPrivate = []byte("private_key")
	keyPublic  = []byte("public_key")
)

// Friend is either a public-key friend or a hashed-contact friend
// (spec §3 "Friend entry"): both forms are opaque byte strings from the
// protocol's point of view.
type Friend struct {
	PublicID    []byte // hex-decoded DH public key, or SHA-256(E.164) for hashed contacts
	DisplayName string // optional
	Hashed      bool   // true if PublicID is a hashed-contact identifier
}

// Store owns one device's identity and friend set.
type Store struct {
	mu sync.RWMutex
	db *bbolt.DB

	priv *crypto.PrivateKey
	pub  crypto.PublicKey
}

// Open loads (or creates) the identity keypair at path and prepares the
// friend bucket. Regenerating the keypair — which Open never does on an
// existing database — would invalidate the device's DeviceID (spec §3).
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, murmurerr.Wrap(murmurerr.Internal, "friendstore.Open", err)
	}
	s := &Store{db: db}
	if err := s.loadOrCreateIdentity(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadOrCreateIdentity() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ident, err := tx.CreateBucketIfNotExists(bucketIdentity)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketFriends); err != nil {
			return err
		}
		privRaw := ident.Get(keyPrivate)
		if privRaw != nil {
			// Keypair bytes are implementation-defined persisted state
			// (spec §6); only the derived public_id is wire-visible.
			s.priv = crypto.PrivateKeyFromBytes(privRaw)
			var pub crypto.PublicKey
			copy(pub[:], ident.Get(keyPublic))
			s.pub = pub
			return nil
		}
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		s.priv = priv
		s.pub = pub
		if err := ident.Put(keyPrivate, priv.Bytes()); err != nil {
			return err
		}
		return ident.Put(keyPublic, pub[:])
	})
}

func (s *Store) Close() error { return s.db.Close() }

// PublicID returns the device's own public key.
func (s *Store) PublicID() crypto.PublicKey { return s.pub }

// DeviceID returns the stable, privacy-preserving identifier derived
// from the device's public key (spec §3).
func (s *Store) DeviceID() string { return crypto.DeviceID(s.pub) }

// AddFriend inserts or updates a friend entry.
func (s *Store) AddFriend(f Friend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		enc, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFriends).Put(f.PublicID, enc)
	})
}

// RemoveFriend deletes a friend entry by its opaque identifier.
func (s *Store) RemoveFriend(publicID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFriends).Delete(publicID)
	})
}

// Friends returns every friend entry (public-key and hashed-contact
// forms mixed, per spec §3).
func (s *Store) Friends() []Friend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Friend
	_ = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFriends).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var f Friend
			if err := json.Unmarshal(v, &f); err != nil {
				continue
			}
			out = append(out, f)
		}
		return nil
	})
	return out
}

// Count returns the number of friends (the "my_friends" term in the
// trust model, spec §4.4).
func (s *Store) Count() int {
	return len(s.Friends())
}

// BlindableIDs returns every friend's opaque identifier bytes, the input
// set to the PSI-Ca client (spec §4.1 "caller input: set S").
func (s *Store) BlindableIDs() [][]byte {
	friends := s.Friends()
	out := make([][]byte, len(friends))
	for i, f := range friends {
		out[i] = f.PublicID
	}
	return out
}
