package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var recordsBucket = []byte("records")

// BoltBackend persists records to a single bbolt file, the proxy's durable
// backing store named by the --db flag. Each row is JSON-encoded and stored
// under its key in a single bucket; bbolt's own file locking and
// single-writer transactions satisfy the Backend contract's durability and
// concurrency requirements without any extra locking here.
type BoltBackend struct {
	db *bbolt.DB
}

// OpenBoltBackend opens (creating if necessary) the bbolt file at path and
// ensures the records bucket exists.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init bucket: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Set(key, value string, ttlSeconds *int) error {
	rec := Record{Key: key, Value: value, TTLSeconds: ttlSeconds, CreatedAt: time.Now()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).Put([]byte(key), payload)
	})
}

func (b *BoltBackend) Get(key string) (Record, error) {
	var rec Record
	var expired bool
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("store: decode record: %w", err)
		}
		if rec.expired(time.Now()) {
			expired = true
			return bucket.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if expired {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (b *BoltBackend) Delete(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete([]byte(key))
	})
}

func (b *BoltBackend) Count() (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(recordsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func (b *BoltBackend) Clear() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(recordsBucket)
		return err
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
