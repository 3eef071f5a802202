package base

import (
	"encoding/binary"
)

// Node represents a Bε-tree node with decoded page data.
//
// Leaf nodes hold sorted Keys with parallel Values. Branch nodes hold sorted
// pivot Keys, len(Keys)+1 Children and a Buffer of pending messages ordered
// oldest first.
type Node struct {
	PageID PageID
	Leaf   bool

	Keys     [][]byte
	Values   [][]byte  // leaf only
	Children []PageID  // branch only
	Buffer   []Message // branch only
}

// NewLeaf returns an empty leaf for the page
func NewLeaf(id PageID) *Node {
	return &Node{PageID: id, Leaf: true}
}

// NewBranch returns an empty branch for the page
func NewBranch(id PageID) *Node {
	return &Node{PageID: id}
}

// IsLeaf returns true if this is a leaf Node
func (n *Node) IsLeaf() bool {
	return n.Leaf
}

// Size calculates the size of the serialized Node
func (n *Node) Size() int {
	size := PageHeaderSize
	if n.Leaf {
		size += len(n.Keys) * LeafElementSize
		for i := range n.Keys {
			size += len(n.Keys[i]) + len(n.Values[i])
		}
		return size
	}

	size += len(n.Children) * ChildSize
	size += len(n.Keys) * BranchElementSize
	for _, k := range n.Keys {
		size += len(k)
	}
	for i := range n.Buffer {
		size += n.Buffer[i].Size()
	}
	return size
}

// Serialize encodes the Node into page and seals it with a checksum
func (n *Node) Serialize(page Page) error {
	size := n.Size()
	if size > len(page) {
		return ErrPageOverflow
	}
	if !n.Leaf && len(n.Children) != len(n.Keys)+1 {
		return ErrInvalidPage
	}

	header := &PageHeader{
		PageID:  n.PageID,
		NumKeys: uint32(len(n.Keys)),
		BodyLen: uint32(size - PageHeaderSize),
	}
	if n.Leaf {
		header.Flags = LeafPageFlag
	} else {
		header.Flags = BranchPageFlag
		header.NumMessages = uint32(len(n.Buffer))
	}
	page.WriteHeader(header)

	off := PageHeaderSize
	if n.Leaf {
		for i, key := range n.Keys {
			value := n.Values[i]
			binary.LittleEndian.PutUint16(page[off:], uint16(len(key)))
			binary.LittleEndian.PutUint32(page[off+2:], uint32(len(value)))
			off += LeafElementSize
			off += copy(page[off:], key)
			off += copy(page[off:], value)
		}
	} else {
		for _, child := range n.Children {
			binary.LittleEndian.PutUint64(page[off:], uint64(child))
			off += ChildSize
		}
		for _, key := range n.Keys {
			binary.LittleEndian.PutUint16(page[off:], uint16(len(key)))
			off += BranchElementSize
			off += copy(page[off:], key)
		}
		for i := range n.Buffer {
			m := &n.Buffer[i]
			binary.LittleEndian.PutUint64(page[off:], m.Seq)
			page[off+8] = byte(m.Kind)
			binary.LittleEndian.PutUint16(page[off+9:], uint16(len(m.Key)))
			binary.LittleEndian.PutUint32(page[off+11:], uint32(len(m.Value)))
			page[off+15] = byte(len(m.Combinator))
			binary.LittleEndian.PutUint32(page[off+16:], uint32(len(m.Operand)))
			off += MessageHeaderSize
			off += copy(page[off:], m.Key)
			off += copy(page[off:], m.Value)
			off += copy(page[off:], m.Combinator)
			off += copy(page[off:], m.Operand)
		}
	}

	// Zero the tail so a reused page buffer never leaks stale bytes to disk
	clear(page[off:])
	page.Seal()
	return nil
}

// Deserialize decodes the page data into Node fields. The page checksum is
// verified first; all slices are copied out of the page.
func (n *Node) Deserialize(p Page) error {
	if err := p.Verify(); err != nil {
		return err
	}
	header := p.Header()
	n.PageID = header.PageID
	end := PageHeaderSize + int(header.BodyLen)
	r := reader{buf: p[:end], off: PageHeaderSize}

	switch header.Flags {
	case LeafPageFlag:
		n.Leaf = true
		n.Keys = make([][]byte, header.NumKeys)
		n.Values = make([][]byte, header.NumKeys)
		n.Children = nil
		n.Buffer = nil
		for i := 0; i < int(header.NumKeys); i++ {
			keySize := int(r.uint16())
			valueSize := int(r.uint32())
			n.Keys[i] = r.bytes(keySize)
			n.Values[i] = r.bytes(valueSize)
		}
	case BranchPageFlag:
		n.Leaf = false
		n.Values = nil
		n.Children = make([]PageID, header.NumKeys+1)
		for i := range n.Children {
			n.Children[i] = PageID(r.uint64())
		}
		n.Keys = make([][]byte, header.NumKeys)
		for i := range n.Keys {
			n.Keys[i] = r.bytes(int(r.uint16()))
		}
		n.Buffer = make([]Message, header.NumMessages)
		for i := range n.Buffer {
			m := &n.Buffer[i]
			m.Seq = r.uint64()
			m.Kind = MessageKind(r.uint8())
			keySize := int(r.uint16())
			valueSize := int(r.uint32())
			nameSize := int(r.uint8())
			operandSize := int(r.uint32())
			m.Key = r.bytes(keySize)
			m.Value = r.bytes(valueSize)
			m.Combinator = string(r.bytes(nameSize))
			m.Operand = r.bytes(operandSize)
			if m.Kind < MessageInsert || m.Kind > MessageUpsert {
				return ErrInvalidPage
			}
		}
	default:
		return ErrInvalidPage
	}

	return r.err
}

// Clone creates a deep copy of this Node for copy-on-write
func (n *Node) Clone() *Node {
	cloned := &Node{
		PageID: n.PageID,
		Leaf:   n.Leaf,
	}

	cloned.Keys = make([][]byte, len(n.Keys))
	for i, key := range n.Keys {
		cloned.Keys[i] = append([]byte(nil), key...)
	}

	if n.Leaf {
		cloned.Values = make([][]byte, len(n.Values))
		for i, val := range n.Values {
			cloned.Values[i] = append([]byte(nil), val...)
		}
		return cloned
	}

	cloned.Children = append([]PageID(nil), n.Children...)
	if len(n.Buffer) > 0 {
		cloned.Buffer = make([]Message, len(n.Buffer))
		for i, m := range n.Buffer {
			cloned.Buffer[i] = Message{
				Seq:        m.Seq,
				Kind:       m.Kind,
				Key:        append([]byte(nil), m.Key...),
				Value:      append([]byte(nil), m.Value...),
				Combinator: m.Combinator,
				Operand:    append([]byte(nil), m.Operand...),
			}
		}
	}
	return cloned
}

// reader walks a page body, latching the first bounds error
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = ErrInvalidOffset
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) uint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
