package kv

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	boltEntriesBucket = []byte("entries")
	boltListsBucket   = []byte("lists")
)

// BoltStore implements Store on an embedded bbolt file. It needs no
// external server, at the cost of single-process access.
//
// Scalar rows are stored as 8 bytes big endian expiresAt (UnixNano, zero
// means no expiry) followed by the raw value. Lists are nested buckets
// under "lists", one per key, with NextSequence row keys preserving push
// order.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore initializes or opens a BoltStore at the given path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltEntriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltListsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func encodeBoltRow(value []byte, ttl time.Duration) []byte {
	expiresAt := int64(0)
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)
	return buf
}

// decodeBoltRow splits a row into its value and liveness. A row past its
// expiry reads as dead, same as a missing key.
func decodeBoltRow(row []byte) ([]byte, bool) {
	if len(row) < 8 {
		return nil, false
	}
	expiresAt := int64(binary.BigEndian.Uint64(row[:8]))
	if expiresAt > 0 && time.Now().UnixNano() > expiresAt {
		return nil, false
	}
	return append([]byte(nil), row[8:]...), true
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	var live bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		row := tx.Bucket(boltEntriesBucket).Get([]byte(key))
		if row == nil {
			return nil
		}
		out, live = decodeBoltRow(row)
		return nil
	}); err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *BoltStore) Set(ctx context.Context, key string, value []byte) error {
	return s.SetEx(ctx, key, value, 0)
}

func (s *BoltStore) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	row := encodeBoltRow(value, ttl)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltEntriesBucket).Put([]byte(key), row)
	})
}

func (s *BoltStore) Incr(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltEntriesBucket)
		if row := b.Get([]byte(key)); row != nil {
			if val, live := decodeBoltRow(row); live {
				parsed, err := strconv.ParseInt(string(val), 10, 64)
				if err != nil {
					return fmt.Errorf("kv: value at %q is not an integer", key)
				}
				n = parsed
			}
		}
		n++
		return b.Put([]byte(key), encodeBoltRow([]byte(strconv.FormatInt(n, 10)), 0))
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *BoltStore) RPush(_ context.Context, key string, values ...[]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		list, err := tx.Bucket(boltListsBucket).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		for _, v := range values {
			seq, err := list.NextSequence()
			if err != nil {
				return err
			}
			var rowKey [8]byte
			binary.BigEndian.PutUint64(rowKey[:], seq)
			if err := list.Put(rowKey[:], v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	var items [][]byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		list := tx.Bucket(boltListsBucket).Bucket([]byte(key))
		if list == nil {
			return nil
		}
		return list.ForEach(func(_, v []byte) error {
			items = append(items, append([]byte(nil), v...))
			return nil
		})
	}); err != nil {
		return nil, err
	}
	lo, hi, ok := rangeBounds(int64(len(items)), start, stop)
	if !ok {
		return nil, nil
	}
	return items[lo : hi+1], nil
}

func (s *BoltStore) FlushAll(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{boltEntriesBucket, boltListsBucket} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Ping(_ context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
