package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// boltOpenTimeout is the maximum time to wait for the bolt database lock.
	boltOpenTimeout = 5 * time.Second
)

var tokensBucket = []byte("tokens")

// Bolt stores entries in a bbolt database. Unlike File, writes are
// transactional, so concurrent writers in one process never observe a
// torn entry. bbolt takes an exclusive file lock, so only one process can
// hold the database open at a time.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// DefaultBoltPath returns <DefaultDir>/tokens.db.
func DefaultBoltPath() string {
	return filepath.Join(DefaultDir(), "tokens.db")
}

// OpenBolt opens the database at path, creating it and its directory if
// needed.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(path, fs.FileMode(0o600), &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache db: %w", err)
	}

	return &Bolt{db: db, now: time.Now}, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Get(_ context.Context, key string) (string, bool, error) {
	var rec record

	found := false

	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tokensBucket).Get([]byte(hashKey(key)))
		if v == nil {
			return nil
		}

		found = true

		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return "", false, fmt.Errorf("reading cache entry: %w", err)
	}

	if !found || !rec.live(b.now()) {
		return "", false, nil
	}

	return rec.Value, true, nil
}

func (b *Bolt) Set(_ context.Context, key, value string, ttl time.Duration) error {
	data, err := json.Marshal(newRecord(value, ttl, b.now()))
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Put([]byte(hashKey(key)), data)
	})
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}

	return nil
}

// Purge deletes every expired entry and returns how many were removed.
func (b *Bolt) Purge() (int, error) {
	now := b.now()
	removed := 0

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(tokensBucket)

		var stale [][]byte

		err := bkt.ForEach(func(k, v []byte) error {
			var rec record
			if json.Unmarshal(v, &rec) != nil || !rec.live(now) {
				stale = append(stale, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}

		removed = len(stale)

		return nil
	})

	return removed, err
}
