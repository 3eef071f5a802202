package betree

import (
	"github.com/cockroachdb/errors"

	"github.com/orac/be-tree/internal/base"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrTreeClosed        = errors.New("tree is closed")
	ErrKeyEmpty          = errors.New("key cannot be empty")
	ErrKeyTooLarge       = errors.New("key too large")
	ErrValueTooLarge     = errors.New("value too large")
	ErrUnknownCombinator = errors.New("unknown combinator")
	ErrInvalidOptions    = errors.New("invalid options")

	// ErrCombinator marks failures raised while evaluating a buffered upsert
	ErrCombinator = errors.New("combinator failed")

	// ErrCapacityViolation marks broken structural invariants. These are
	// internal consistency faults, never recoverable conditions.
	ErrCapacityViolation = errors.New("capacity violation")

	// ErrInvariant marks other internal consistency faults, such as buffered
	// messages out of sequence order
	ErrInvariant = errors.New("invariant violation")

	// ErrStorage marks page storage failures
	ErrStorage = errors.New("storage failure")

	ErrCorruption         = base.ErrCorruption
	ErrPageOverflow       = base.ErrPageOverflow
	ErrInvalidOffset      = base.ErrInvalidOffset
	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidPageSize    = base.ErrInvalidPageSize
	ErrInvalidChecksum    = base.ErrInvalidChecksum
)

// IsCapacityViolation reports whether err signals a broken capacity invariant
func IsCapacityViolation(err error) bool {
	return errors.Is(err, ErrCapacityViolation)
}

func capacityViolation(format string, args ...any) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), ErrCapacityViolation)
}

// classify attributes an error that is not already tied to a combinator or a
// capacity invariant. Assertion failures are internal faults; anything else
// came from the pager or its storage.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrCombinator), IsCapacityViolation(err),
		errors.Is(err, ErrInvariant), errors.Is(err, ErrStorage):
		return err
	case errors.HasAssertionFailure(err):
		return errors.Mark(err, ErrInvariant)
	default:
		return errors.Mark(err, ErrStorage)
	}
}
