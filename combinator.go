package betree

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/orac/be-tree/internal/base"
)

// Combinator computes the new value of an upserted key from its existing
// value and the upsert operand. It is only called when the key exists and
// must not retain or modify either argument.
type Combinator func(existing, operand []byte) ([]byte, error)

// Names of the combinators every tree registers
const (
	CombinatorAdd    = "add"
	CombinatorAppend = "append"
)

func defaultCombinators() map[string]Combinator {
	return map[string]Combinator{
		CombinatorAdd:    AddInt64,
		CombinatorAppend: Append,
	}
}

// EncodeInt64 encodes v in the format AddInt64 reads
func EncodeInt64(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

// DecodeInt64 decodes a value written by EncodeInt64
func DecodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, errors.Newf("int64 value must be 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// AddInt64 adds two big-endian int64 values, wrapping on overflow
func AddInt64(existing, operand []byte) ([]byte, error) {
	a, err := DecodeInt64(existing)
	if err != nil {
		return nil, errors.Wrap(err, "existing value")
	}
	b, err := DecodeInt64(operand)
	if err != nil {
		return nil, errors.Wrap(err, "operand")
	}
	return EncodeInt64(a + b), nil
}

// Append concatenates operand to the existing value
func Append(existing, operand []byte) ([]byte, error) {
	out := make([]byte, 0, len(existing)+len(operand))
	out = append(out, existing...)
	return append(out, operand...), nil
}

// CombinatorError reports a buffered upsert that could not be evaluated.
// Until the key is written again with Insert or Delete, every flush that
// reaches the upsert fails the same way.
type CombinatorError struct {
	Key        []byte
	Combinator string
	Err        error
}

func (e *CombinatorError) Error() string {
	return fmt.Sprintf("combinator %q on key %q: %v", e.Combinator, e.Key, e.Err)
}

func (e *CombinatorError) Unwrap() error {
	return e.Err
}

func combinatorError(m *base.Message, err error) error {
	return errors.Mark(&CombinatorError{
		Key:        append([]byte(nil), m.Key...),
		Combinator: m.Combinator,
		Err:        err,
	}, ErrCombinator)
}

// apply composes one message onto the state of its key. Upsert on an absent
// key yields its default without calling the combinator.
func (t *Tree) apply(m *base.Message, value []byte, present bool) ([]byte, bool, error) {
	switch m.Kind {
	case base.MessageInsert:
		return m.Value, true, nil
	case base.MessageDelete:
		return nil, false, nil
	case base.MessageUpsert:
		if !present {
			return m.Value, true, nil
		}
		fn, ok := t.opts.combinators[m.Combinator]
		if !ok {
			return nil, false, combinatorError(m, ErrUnknownCombinator)
		}
		out, err := fn(value, m.Operand)
		if err != nil {
			return nil, false, combinatorError(m, err)
		}
		if len(out) > t.opts.maxValueSize {
			return nil, false, combinatorError(m,
				errors.Wrapf(ErrValueTooLarge, "result of %d bytes", len(out)))
		}
		return out, true, nil
	default:
		return nil, false, errors.AssertionFailedf("unknown message kind %s", m.Kind)
	}
}
