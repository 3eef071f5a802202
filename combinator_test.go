package betree

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddInt64(t *testing.T) {
	tests := []struct {
		name     string
		existing int64
		operand  int64
		want     int64
	}{
		{name: "positive", existing: 2, operand: 3, want: 5},
		{name: "negative", existing: 2, operand: -7, want: -5},
		{name: "wraps", existing: math.MaxInt64, operand: 1, want: math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := AddInt64(EncodeInt64(tt.existing), EncodeInt64(tt.operand))
			require.NoError(t, err)
			got, err := DecodeInt64(out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddInt64RejectsMalformed(t *testing.T) {
	_, err := AddInt64([]byte("abc"), EncodeInt64(1))
	assert.Error(t, err)
	_, err = AddInt64(EncodeInt64(1), nil)
	assert.Error(t, err)
}

func TestAppendDoesNotAlias(t *testing.T) {
	existing := make([]byte, 2, 16)
	copy(existing, "ab")

	out, err := Append(existing, []byte("cd"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), out)

	out[0] = 'X'
	assert.Equal(t, []byte("ab"), existing)
}

func TestUpsertCounter(t *testing.T) {
	t.Parallel()

	tree := setup(t, small()...)

	// Interleave other keys so the counter's upserts spread over levels
	for i := 0; i < 50; i++ {
		require.NoError(t, tree.Upsert([]byte("counter"), CombinatorAdd, EncodeInt64(2), EncodeInt64(2)))
		require.NoError(t, tree.Insert(key(i), val(i)))
	}

	got, err := tree.Get([]byte("counter"))
	require.NoError(t, err)
	v, err := DecodeInt64(got)
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)

	require.NoError(t, tree.FlushAll())
	requireValue(t, tree, []byte("counter"), EncodeInt64(100))
}

func TestUpsertAfterDelete(t *testing.T) {
	t.Parallel()

	tree := setup(t, small()...)
	for i := 0; i < 10; i++ {
		require.NoError(t, tree.Insert(key(i), val(i)))
	}

	require.NoError(t, tree.Delete(key(3)))
	require.NoError(t, tree.Upsert(key(3), CombinatorAppend, []byte("-tail"), []byte("fresh")))
	requireValue(t, tree, key(3), []byte("fresh"))

	require.NoError(t, tree.Upsert(key(3), CombinatorAppend, []byte("-tail"), []byte("fresh")))
	requireValue(t, tree, key(3), []byte("fresh-tail"))

	require.NoError(t, tree.FlushAll())
	requireValue(t, tree, key(3), []byte("fresh-tail"))
}

func TestUpsertValidation(t *testing.T) {
	t.Parallel()

	tree := setup(t, small()...)

	err := tree.Upsert([]byte("k"), "missing", nil, nil)
	assert.True(t, errors.Is(err, ErrUnknownCombinator))

	err = tree.Upsert([]byte("k"), CombinatorAppend, make([]byte, 33), nil)
	assert.True(t, errors.Is(err, ErrValueTooLarge))

	err = tree.Upsert([]byte("k"), CombinatorAppend, nil, make([]byte, 33))
	assert.True(t, errors.Is(err, ErrValueTooLarge))

	requireMissing(t, tree, []byte("k"))
}

func TestCustomCombinator(t *testing.T) {
	t.Parallel()

	greatest := func(existing, operand []byte) ([]byte, error) {
		if string(operand) > string(existing) {
			return append([]byte(nil), operand...), nil
		}
		return append([]byte(nil), existing...), nil
	}
	tree := setup(t, append(small(), WithCombinator("max", greatest))...)

	for _, v := range []string{"m", "c", "x", "a"} {
		require.NoError(t, tree.Upsert([]byte("k"), "max", []byte(v), []byte(v)))
	}
	requireValue(t, tree, []byte("k"), []byte("x"))
}
