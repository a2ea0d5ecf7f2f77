package db

import (
	"fmt"

	"github.com/eric2788/shortrec/pkg/pool"
	"go.etcd.io/bbolt"
)

type Bucket struct {
	db         *bbolt.DB
	serializer *pool.Serializer
	Name       []byte
}

func (c *Client) Bucket(name string) (*Bucket, error) {
	if err := c.BoltDB.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	}); err != nil {
		return nil, err
	}
	return &Bucket{
		db:         c.BoltDB,
		serializer: c.serializer,
		Name:       []byte(name),
	}, nil
}

func (b *Bucket) Update(fn func(bucket *bbolt.Bucket) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.Name)
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", b.Name)
		}
		return fn(bucket)
	})
}

func (b *Bucket) View(fn func(bucket *bbolt.Bucket) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.Name)
		if bucket == nil {
			return fmt.Errorf("bucket %q not found", b.Name)
		}
		return fn(bucket)
	})
}

func (b *Bucket) Put(key, value []byte) error {
	return b.Update(func(bucket *bbolt.Bucket) error {
		return bucket.Put(key, value)
	})
}

// GetFunc passes the stored value to fn. The slice is only valid inside fn.
// fn is not called when key does not exist.
func (b *Bucket) GetFunc(key []byte, fn func([]byte) error) error {
	return b.View(func(bucket *bbolt.Bucket) error {
		v := bucket.Get(key)
		if v != nil {
			return fn(v)
		}
		return nil
	})
}

func (b *Bucket) Delete(key []byte) error {
	return b.Update(func(bucket *bbolt.Bucket) error {
		return bucket.Delete(key)
	})
}

func (b *Bucket) ForEach(fn func(k, v []byte) error) error {
	return b.View(func(bucket *bbolt.Bucket) error {
		return bucket.ForEach(fn)
	})
}

func (b *Bucket) Count() (int, error) {
	var count int
	err := b.View(func(bucket *bbolt.Bucket) error {
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// PutObject stores v gob encoded under key.
func (b *Bucket) PutObject(key string, v any) error {
	data, err := b.serializer.Serialize(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// GetObject decodes the value under key into v and reports whether it existed.
func (b *Bucket) GetObject(key string, v any) (bool, error) {
	found := false
	err := b.GetFunc([]byte(key), func(data []byte) error {
		found = true
		return b.serializer.Deserialize(data, v)
	})
	return found, err
}

// ForEachObject decodes every value of b as a T and hands it to fn.
func ForEachObject[T any](b *Bucket, fn func(key string, v *T) error) error {
	return b.ForEach(func(k, data []byte) error {
		v := new(T)
		if err := b.serializer.Deserialize(data, v); err != nil {
			return fmt.Errorf("decode %q: %w", k, err)
		}
		return fn(string(k), v)
	})
}
