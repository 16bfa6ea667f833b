package storage

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"kvserver/internal/wire"
)

// Bolt is an embedded, crash-safe B+tree Backend. Each table maps to one
// bucket, created lazily on first write.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a bbolt database file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(_ context.Context, table, key string) (wire.Value, error) {
	var out wire.Value = wire.NoneValue()
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(table))
		if bkt == nil {
			return ErrNotFound
		}
		raw := bkt.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		out = decodeValue(raw)
		return nil
	})
	return out, err
}

func (b *Bolt) Set(_ context.Context, table, key string, value wire.Value) (wire.Value, error) {
	prior := wire.NoneValue()
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return err
		}
		if raw := bkt.Get([]byte(key)); raw != nil {
			prior = decodeValue(raw)
		}
		return bkt.Put([]byte(key), encodeValue(value))
	})
	return prior, err
}

func (b *Bolt) Contains(_ context.Context, table, key string) (bool, error) {
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(table))
		if bkt == nil {
			return nil
		}
		found = bkt.Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

func (b *Bolt) Del(_ context.Context, table, key string) (wire.Value, error) {
	prior := wire.NoneValue()
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(table))
		if bkt == nil {
			return nil
		}
		raw := bkt.Get([]byte(key))
		if raw == nil {
			return nil
		}
		prior = decodeValue(raw)
		return bkt.Delete([]byte(key))
	})
	return prior, err
}

// Iter returns a snapshot of table's entries as observed inside one read
// transaction; bbolt's MVCC guarantees it cannot see concurrent writes.
func (b *Bolt) Iter(_ context.Context, table string) ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(table))
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			out = append(out, Entry{Key: string(k), Value: decodeValue(v)})
		}
		return nil
	})
	return out, err
}

func (b *Bolt) Close() error { return b.db.Close() }
