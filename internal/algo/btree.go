// Package algo contains algorithms used for routing, searching and splitting
// Bε-tree nodes. Nothing here touches storage.
package algo

import (
	"bytes"
	"sort"

	"github.com/orac/be-tree/internal/base"
)

const searchThreshold = 32

// Route returns the index of the child pointer to follow for key: the number
// of pivots less than or equal to key. Child i covers [pivots[i-1], pivots[i]).
func Route(pivots [][]byte, key []byte) int {
	if len(pivots) < searchThreshold {
		i := 0
		for i < len(pivots) && bytes.Compare(key, pivots[i]) >= 0 {
			i++
		}
		return i
	}

	return sort.Search(len(pivots), func(i int) bool {
		return bytes.Compare(key, pivots[i]) < 0
	})
}

// FindKey returns the position of key in sorted keys and whether it is present.
// When absent the position is where key would be inserted.
func FindKey(keys [][]byte, key []byte) (int, bool) {
	pos := InsertPosition(keys, key)
	return pos, pos < len(keys) && bytes.Equal(keys[pos], key)
}

// InsertPosition returns the first position whose key is >= key
func InsertPosition(keys [][]byte, key []byte) int {
	if len(keys) < searchThreshold {
		pos := 0
		for pos < len(keys) && bytes.Compare(key, keys[pos]) > 0 {
			pos++
		}
		return pos
	}

	return sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(key, keys[i]) <= 0
	})
}

// SplitPlan divides n items into the fewest parts holding at most capacity
// items each, sized as evenly as possible. It returns the start offset of
// every part; a single part (no split) is returned as []int{0}.
func SplitPlan(n, capacity int) []int {
	if capacity < 1 {
		capacity = 1
	}
	parts := (n + capacity - 1) / capacity
	if parts < 1 {
		parts = 1
	}

	starts := make([]int, parts)
	size, extra := n/parts, n%parts
	off := 0
	for i := range starts {
		starts[i] = off
		off += size
		if i < extra {
			off++
		}
	}
	return starts
}

// Partition groups buffered messages by the child they route to. Each group
// keeps the buffer's chronological order.
func Partition(pivots [][]byte, buffer []base.Message) [][]base.Message {
	groups := make([][]base.Message, len(pivots)+1)
	for _, m := range buffer {
		i := Route(pivots, m.Key)
		groups[i] = append(groups[i], m)
	}
	return groups
}

// MergeBySeq merges two buffers that are each ordered by sequence number
func MergeBySeq(a, b []base.Message) []base.Message {
	if len(a) == 0 {
		return append([]base.Message(nil), b...)
	}
	if len(b) == 0 {
		return append([]base.Message(nil), a...)
	}

	merged := make([]base.Message, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Seq < b[j].Seq {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	return append(merged, b[j:]...)
}

// InsertAt inserts value at index in slice with deep copy
func InsertAt(slice [][]byte, index int, value []byte) [][]byte {
	// Deep copy the value to prevent aliasing
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	return append(slice[:index], append([][]byte{valueCopy}, slice[index:]...)...)
}

// RemoveAt removes element at index from slice
func RemoveAt(slice [][]byte, index int) [][]byte {
	return append(slice[:index], slice[index+1:]...)
}

// RemoveChildAt removes child at index from slice
func RemoveChildAt(slice []base.PageID, index int) []base.PageID {
	return append(slice[:index], slice[index+1:]...)
}
