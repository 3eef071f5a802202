package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultPageSize = 64 * 1024
	MinPageSize     = 4096
	MaxPageSize     = 16 * 1024 * 1024

	LeafPageFlag   uint16 = 0x01
	BranchPageFlag uint16 = 0x02
	MetaPageFlag   uint16 = 0x04

	PageHeaderSize    = 32 // Checksum(8) + PageID(8) + Flags(2) + Reserved(2) + NumKeys(4) + NumMessages(4) + BodyLen(4)
	LeafElementSize   = 6  // KeySize(2) + ValueSize(4)
	BranchElementSize = 2  // KeySize(2)
	ChildSize         = 8
	MessageHeaderSize = 20 // Seq(8) + Kind(1) + KeySize(2) + ValueSize(4) + NameSize(1) + OperandSize(4)
	MetaSize          = 64

	// MaxCombinatorNameSize bounds the name stored with every buffered upsert.
	MaxCombinatorNameSize = 64

	// MagicNumber for file format identification ("betr" in hex)
	MagicNumber uint32 = 0x62657472

	FormatVersion uint16 = 1

	// Pages 0 and 1 hold the alternating meta pages.
	MetaPageA     PageID = 0
	MetaPageB     PageID = 1
	FirstDataPage PageID = 2
)

type PageID uint64

// Page is a raw disk page. Its length is the page size the file was created with.
//
// NODE PAGE LAYOUT (little endian):
// ┌─────────────────────────────────────────────────────────────────────┐
// │ Header (32 bytes)                                                   │
// │ Checksum, PageID, Flags, Reserved, NumKeys, NumMessages, BodyLen    │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Leaf body:   NumKeys × [KeySize:2][ValueSize:4][Key][Value]         │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Branch body: (NumKeys+1) × [ChildID:8]                              │
// │              NumKeys × [KeySize:2][Pivot]                           │
// │              NumMessages × [Seq:8][Kind:1][KeySize:2][ValueSize:4]  │
// │                            [NameSize:1][OperandSize:4]              │
// │                            [Key][Value][Name][Operand]              │
// └─────────────────────────────────────────────────────────────────────┘
//
// The checksum covers bytes [8, PageHeaderSize+BodyLen).
type Page []byte

// NewPage allocates a zeroed page of the given size.
func NewPage(size int) Page {
	return make(Page, size)
}

// PageHeader represents the fixed-size header at the start of each node page
type PageHeader struct {
	Checksum    uint64
	PageID      PageID
	Flags       uint16
	NumKeys     uint32
	NumMessages uint32
	BodyLen     uint32
}

// Header decodes the page header
func (p Page) Header() PageHeader {
	return PageHeader{
		Checksum:    binary.LittleEndian.Uint64(p[0:]),
		PageID:      PageID(binary.LittleEndian.Uint64(p[8:])),
		Flags:       binary.LittleEndian.Uint16(p[16:]),
		NumKeys:     binary.LittleEndian.Uint32(p[20:]),
		NumMessages: binary.LittleEndian.Uint32(p[24:]),
		BodyLen:     binary.LittleEndian.Uint32(p[28:]),
	}
}

// WriteHeader encodes h into the page. The checksum is written separately by Seal.
func (p Page) WriteHeader(h *PageHeader) {
	binary.LittleEndian.PutUint64(p[0:], h.Checksum)
	binary.LittleEndian.PutUint64(p[8:], uint64(h.PageID))
	binary.LittleEndian.PutUint16(p[16:], h.Flags)
	binary.LittleEndian.PutUint16(p[18:], 0)
	binary.LittleEndian.PutUint32(p[20:], h.NumKeys)
	binary.LittleEndian.PutUint32(p[24:], h.NumMessages)
	binary.LittleEndian.PutUint32(p[28:], h.BodyLen)
}

// CalculateChecksum hashes the header (minus the checksum field) and body
func (p Page) CalculateChecksum() uint64 {
	end := PageHeaderSize + int(binary.LittleEndian.Uint32(p[28:]))
	if end > len(p) {
		end = len(p)
	}
	return xxhash.Sum64(p[8:end])
}

// Seal stamps the checksum of the current contents
func (p Page) Seal() {
	binary.LittleEndian.PutUint64(p[0:], p.CalculateChecksum())
}

// Verify checks the page checksum and body bounds
func (p Page) Verify() error {
	if len(p) < PageHeaderSize {
		return ErrInvalidPageSize
	}
	h := p.Header()
	if PageHeaderSize+int(h.BodyLen) > len(p) {
		return ErrInvalidOffset
	}
	if h.Checksum != p.CalculateChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}

// MetaPage represents tree metadata stored in pages 0 and 1
// Layout: [Magic: 4][Version: 2][Flags: 2][PageSize: 4][Height: 4][RootPageID: 8]
// [NextSeq: 8][NumPages: 8][TxnID: 8][Reserved: 8][Checksum: 8]
// Total: 64 bytes
type MetaPage struct {
	Magic      uint32 // 0x62657472 ("betr")
	Version    uint16
	PageSize   uint32
	Height     uint32 // levels including the leaf level; 1 for a lone root leaf
	RootPageID PageID
	NextSeq    uint64 // next buffered message sequence number
	NumPages   uint64 // total pages allocated, meta pages included
	TxnID      uint64 // commit counter; selects the meta slot
	Checksum   uint64
}

// WriteMeta writes metadata to the start of the page
func (p Page) WriteMeta(m *MetaPage) {
	binary.LittleEndian.PutUint32(p[0:], m.Magic)
	binary.LittleEndian.PutUint16(p[4:], m.Version)
	binary.LittleEndian.PutUint16(p[6:], MetaPageFlag)
	binary.LittleEndian.PutUint32(p[8:], m.PageSize)
	binary.LittleEndian.PutUint32(p[12:], m.Height)
	binary.LittleEndian.PutUint64(p[16:], uint64(m.RootPageID))
	binary.LittleEndian.PutUint64(p[24:], m.NextSeq)
	binary.LittleEndian.PutUint64(p[32:], m.NumPages)
	binary.LittleEndian.PutUint64(p[40:], m.TxnID)
	binary.LittleEndian.PutUint64(p[48:], 0)
	binary.LittleEndian.PutUint64(p[56:], m.Checksum)
}

// ReadMeta reads metadata from the start of the page
func (p Page) ReadMeta() MetaPage {
	return MetaPage{
		Magic:      binary.LittleEndian.Uint32(p[0:]),
		Version:    binary.LittleEndian.Uint16(p[4:]),
		PageSize:   binary.LittleEndian.Uint32(p[8:]),
		Height:     binary.LittleEndian.Uint32(p[12:]),
		RootPageID: PageID(binary.LittleEndian.Uint64(p[16:])),
		NextSeq:    binary.LittleEndian.Uint64(p[24:]),
		NumPages:   binary.LittleEndian.Uint64(p[32:]),
		TxnID:      binary.LittleEndian.Uint64(p[40:]),
		Checksum:   binary.LittleEndian.Uint64(p[56:]),
	}
}

// CalculateChecksum computes the xxhash of all fields except Checksum itself
func (m *MetaPage) CalculateChecksum() uint64 {
	var buf [MetaSize]byte
	c := *m
	c.Checksum = 0
	Page(buf[:]).WriteMeta(&c)
	return xxhash.Sum64(buf[:MetaSize-8])
}

// Validate checks if the metadata is valid
func (m *MetaPage) Validate() error {
	if m.Magic != MagicNumber {
		return ErrInvalidMagicNumber
	}
	if m.Version != FormatVersion {
		return ErrInvalidVersion
	}
	if m.PageSize < MinPageSize || m.PageSize > MaxPageSize {
		return ErrInvalidPageSize
	}
	if m.Checksum != m.CalculateChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}
