package base

import "fmt"

// MessageKind identifies a buffered operation
type MessageKind uint8

const (
	MessageInsert MessageKind = iota + 1
	MessageDelete
	MessageUpsert
)

func (k MessageKind) String() string {
	switch k {
	case MessageInsert:
		return "insert"
	case MessageDelete:
		return "delete"
	case MessageUpsert:
		return "upsert"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint8(k))
	}
}

// Message is a pending operation held in a branch buffer.
//
// Insert: Value is the new value.
// Delete: only Key is set.
// Upsert: Value is the default used when the key is absent, Combinator names
// the registered function applied to an existing value together with Operand.
type Message struct {
	Seq        uint64
	Kind       MessageKind
	Key        []byte
	Value      []byte
	Combinator string
	Operand    []byte
}

// Resets reports whether the message replaces any earlier state of its key
func (m *Message) Resets() bool {
	return m.Kind == MessageInsert || m.Kind == MessageDelete
}

// Size returns the encoded size of the message
func (m *Message) Size() int {
	return MessageHeaderSize + len(m.Key) + len(m.Value) + len(m.Combinator) + len(m.Operand)
}

// MaxMessageSize is the largest encoded message given key and value limits.
// Operands share the value limit.
func MaxMessageSize(maxKey, maxValue int) int {
	return MessageHeaderSize + maxKey + 2*maxValue + MaxCombinatorNameSize
}

// MaxLeafSize is the largest encoded leaf holding up to capacity entries
func MaxLeafSize(capacity, maxKey, maxValue int) int {
	return PageHeaderSize + capacity*(LeafElementSize+maxKey+maxValue)
}

// MaxBranchSize is the largest encoded branch with fanout children and a full buffer
func MaxBranchSize(fanout, bufferCapacity, maxKey, maxValue int) int {
	return PageHeaderSize +
		fanout*ChildSize +
		(fanout-1)*(BranchElementSize+maxKey) +
		bufferCapacity*MaxMessageSize(maxKey, maxValue)
}
