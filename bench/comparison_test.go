package bench

import (
	"flag"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	betree "github.com/orac/be-tree"
)

var (
	benchBetree = flag.Bool("betree", false, "run only betree benchmarks")
	valueSize   = flag.Int("valuesize", 100, "value size in bytes")
)

const benchNumRecords = 10000

var bucketName = []byte("bench")

// store is the operation set every engine is benchmarked on
type store interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Add(key []byte, delta int64) error
	Close() error
}

type engine struct {
	name string
	open func(b *testing.B, sync bool) store
}

var engines = []engine{
	{name: "Betree", open: openBetree},
	{name: "Bbolt", open: openBbolt},
	{name: "Pebble", open: openPebble},
}

type betreeStore struct{ *betree.Tree }

func openBetree(b *testing.B, sync bool) store {
	options := []betree.Option{betree.WithSyncEveryCommit()}
	if !sync {
		options = []betree.Option{betree.WithSyncOff()}
	}
	tree, err := betree.Open(filepath.Join(b.TempDir(), "betree.db"), options...)
	require.NoError(b, err)
	return betreeStore{tree}
}

func (s betreeStore) Put(key, value []byte) error { return s.Insert(key, value) }

func (s betreeStore) Add(key []byte, delta int64) error {
	operand := betree.EncodeInt64(delta)
	return s.Upsert(key, betree.CombinatorAdd, operand, operand)
}

type bboltStore struct{ db *bolt.DB }

func openBbolt(b *testing.B, sync bool) store {
	db, err := bolt.Open(filepath.Join(b.TempDir(), "bbolt.db"), 0600, &bolt.Options{NoSync: !sync})
	require.NoError(b, err)
	require.NoError(b, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}))
	return bboltStore{db: db}
}

func (s bboltStore) Put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	})
}

func (s bboltStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		out = append([]byte(nil), tx.Bucket(bucketName).Get(key)...)
		return nil
	})
	return out, err
}

// Add is a read-modify-write inside one transaction
func (s bboltStore) Add(key []byte, delta int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		sum := delta
		if existing := bucket.Get(key); existing != nil {
			v, err := betree.DecodeInt64(existing)
			if err != nil {
				return err
			}
			sum += v
		}
		return bucket.Put(key, betree.EncodeInt64(sum))
	})
}

func (s bboltStore) Close() error { return s.db.Close() }

type pebbleStore struct {
	db    *pebble.DB
	write *pebble.WriteOptions
}

func openPebble(b *testing.B, sync bool) store {
	db, err := pebble.Open(filepath.Join(b.TempDir(), "pebble"), &pebble.Options{})
	require.NoError(b, err)
	write := pebble.NoSync
	if sync {
		write = pebble.Sync
	}
	return pebbleStore{db: db, write: write}
}

func (s pebbleStore) Put(key, value []byte) error {
	return s.db.Set(key, value, s.write)
}

func (s pebbleStore) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// value is only valid until closer.Close()
	out := append([]byte(nil), value...)
	return out, closer.Close()
}

// Add is a read-modify-write; pebble merges need a database-wide merger
func (s pebbleStore) Add(key []byte, delta int64) error {
	existing, err := s.Get(key)
	if err != nil {
		return err
	}
	sum := delta
	if existing != nil {
		v, err := betree.DecodeInt64(existing)
		if err != nil {
			return err
		}
		sum += v
	}
	return s.db.Set(key, betree.EncodeInt64(sum), s.write)
}

func (s pebbleStore) Close() error { return s.db.Close() }

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("key-%020d", i))
}

// each runs fn once per engine and sync mode
func each(b *testing.B, fn func(b *testing.B, s store)) {
	for _, e := range engines {
		for _, sync := range []bool{true, false} {
			mode := "SyncOn"
			if !sync {
				mode = "SyncOff"
			}
			b.Run(e.name+"/"+mode, func(b *testing.B) {
				if *benchBetree && e.name != "Betree" {
					b.Skip()
				}
				s := e.open(b, sync)
				defer s.Close()
				fn(b, s)
			})
		}
	}
}

func BenchmarkSequentialWrite(b *testing.B) {
	each(b, func(b *testing.B, s store) {
		value := make([]byte, *valueSize)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := s.Put(benchKey(i), value); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkRandomWrite(b *testing.B) {
	each(b, func(b *testing.B, s store) {
		value := make([]byte, *valueSize)
		rng := rand.New(rand.NewSource(1))
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := s.Put(benchKey(rng.Intn(benchNumRecords)), value); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkRandomRead(b *testing.B) {
	each(b, func(b *testing.B, s store) {
		value := make([]byte, *valueSize)
		for i := 0; i < benchNumRecords; i++ {
			require.NoError(b, s.Put(benchKey(i), value))
		}

		rng := rand.New(rand.NewSource(1))
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := s.Get(benchKey(rng.Intn(benchNumRecords))); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkCounterAdd compares blind upserts against read-modify-write
func BenchmarkCounterAdd(b *testing.B) {
	each(b, func(b *testing.B, s store) {
		rng := rand.New(rand.NewSource(1))
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if err := s.Add(benchKey(rng.Intn(100)), 1); err != nil {
				b.Fatal(err)
			}
		}
	})
}
