package betree

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// model mirrors the tree in a map of int64 values
type model map[string]int64

func (m model) check(t *testing.T, tree *Tree, keys int) {
	t.Helper()
	for i := 0; i < keys; i++ {
		k := key(i)
		want, ok := m[string(k)]
		if !ok {
			requireMissing(t, tree, k)
			continue
		}
		got, err := tree.Get(k)
		require.NoError(t, err, "Get(%s)", k)
		v, err := DecodeInt64(got)
		require.NoError(t, err)
		require.Equal(t, want, v, "Get(%s)", k)
	}
}

// randomOps applies n random inserts, deletes and additive upserts to both
// the tree and the model
func randomOps(t *testing.T, rng *rand.Rand, tree *Tree, m model, keys, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		k := key(rng.Intn(keys))
		switch op := rng.Intn(10); {
		case op < 4:
			v := rng.Int63n(1000)
			require.NoError(t, tree.Insert(k, EncodeInt64(v)))
			m[string(k)] = v
		case op < 6:
			require.NoError(t, tree.Delete(k))
			delete(m, string(k))
		default:
			delta := rng.Int63n(100) - 50
			require.NoError(t, tree.Upsert(k, CombinatorAdd, EncodeInt64(delta), EncodeInt64(delta)))
			m[string(k)] += delta
		}

		if i%97 == 0 {
			require.NoError(t, tree.Verify(), "after op %d", i)
		}
	}
}

func TestRandomOpsMatchModel(t *testing.T) {
	t.Parallel()

	configs := []struct {
		leaf, buffer, fanout int
	}{
		{leaf: 2, buffer: 1, fanout: 3},
		{leaf: 4, buffer: 4, fanout: 4},
		{leaf: 3, buffer: 8, fanout: 5},
		{leaf: 8, buffer: 2, fanout: 3},
	}

	for _, c := range configs {
		c := c
		t.Run(fmt.Sprintf("L%d_B%d_F%d", c.leaf, c.buffer, c.fanout), func(t *testing.T) {
			t.Parallel()

			tree := setup(t,
				WithLeafCapacity(c.leaf),
				WithBufferCapacity(c.buffer),
				WithFanout(c.fanout),
				WithPageSize(4096),
				WithMaxKeySize(32),
				WithMaxValueSize(32))

			const keys = 150
			rng := rand.New(rand.NewSource(int64(c.leaf*100 + c.buffer*10 + c.fanout)))
			m := make(model)

			for round := 0; round < 4; round++ {
				randomOps(t, rng, tree, m, keys, 600)
				m.check(t, tree, keys)

				require.NoError(t, tree.FlushAll())
				require.NoError(t, tree.Verify())
				m.check(t, tree, keys)

				stats, err := tree.Stats()
				require.NoError(t, err)
				require.Zero(t, stats.Buffered)
				require.Equal(t, len(m), stats.Entries)
			}

			for i := 0; i < keys; i++ {
				require.NoError(t, tree.Delete(key(i)))
			}
			require.NoError(t, tree.FlushAll())
			require.NoError(t, tree.Verify())
			model{}.check(t, tree, keys)

			stats, err := tree.Stats()
			require.NoError(t, err)
			require.Zero(t, stats.Entries)
		})
	}
}

func TestRandomOpsSurviveReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.db")
	options := append(small(), WithSyncOff())
	rng := rand.New(rand.NewSource(42))
	m := make(model)
	const keys = 200

	for round := 0; round < 3; round++ {
		tree, err := Open(path, options...)
		require.NoError(t, err)

		m.check(t, tree, keys)
		randomOps(t, rng, tree, m, keys, 400)
		require.NoError(t, tree.Verify())
		require.NoError(t, tree.Close())
	}

	tree, err := Open(path, options...)
	require.NoError(t, err)
	defer tree.Close()
	require.NoError(t, tree.Verify())
	m.check(t, tree, keys)
}
