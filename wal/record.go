package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RecordType identifies a log record's payload shape and its role in
// Analysis/Redo/Undo.
type RecordType uint16

const (
	RecInvalid RecordType = iota

	// Checkpoint family.
	RecBeginChkpt
	RecEndChkpt
	RecChkptDevTab
	RecChkptBfTab
	RecChkptXctTab

	// Device/volume family.
	RecMountVol
	RecDismountVol

	// Transaction lifecycle family.
	RecXctEnd
	RecXctAbort
	RecXctFreeingSpace
	RecXctEndGroup
	RecCompensate

	// Page/space allocation family.
	RecAllocPage
	RecDeallocPage
	RecPageSetToBeDeleted
	RecPageImageFormat

	// Opaque B-tree mutation family. The core never looks inside these;
	// it dispatches them to the access method's apply_redo/apply_undo.
	RecBtreeInsert
	RecBtreeUpdate
	RecBtreeOverwrite
	RecBtreeGhost
	RecFosterAdjust
	RecFosterMerge
	RecFosterRebalance

	// Partition/stream bookkeeping.
	RecSkip
	RecComment
)

func (t RecordType) String() string {
	switch t {
	case RecBeginChkpt:
		return "begin_chkpt"
	case RecEndChkpt:
		return "end_chkpt"
	case RecChkptDevTab:
		return "chkpt_dev_tab"
	case RecChkptBfTab:
		return "chkpt_bf_tab"
	case RecChkptXctTab:
		return "chkpt_xct_tab"
	case RecMountVol:
		return "mount_vol"
	case RecDismountVol:
		return "dismount_vol"
	case RecXctEnd:
		return "xct_end"
	case RecXctAbort:
		return "xct_abort"
	case RecXctFreeingSpace:
		return "xct_freeing_space"
	case RecXctEndGroup:
		return "xct_end_group"
	case RecCompensate:
		return "compensate"
	case RecAllocPage:
		return "alloc_page"
	case RecDeallocPage:
		return "dealloc_page"
	case RecPageSetToBeDeleted:
		return "page_set_to_be_deleted"
	case RecPageImageFormat:
		return "page_img_format"
	case RecBtreeInsert:
		return "btree_insert"
	case RecBtreeUpdate:
		return "btree_update"
	case RecBtreeOverwrite:
		return "btree_overwrite"
	case RecBtreeGhost:
		return "btree_ghost"
	case RecFosterAdjust:
		return "foster_adjust"
	case RecFosterMerge:
		return "foster_merge"
	case RecFosterRebalance:
		return "foster_rebalance"
	case RecSkip:
		return "skip"
	case RecComment:
		return "comment"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}

// Flags is a bitmask describing how a record participates in Redo/Undo.
type Flags uint16

const (
	FlagRedo           Flags = 1 << 0
	FlagUndo           Flags = 1 << 1
	FlagCompensate     Flags = 1 << 2
	FlagSingleSysXct   Flags = 1 << 3
	FlagMultiPage      Flags = 1 << 4
)

func (f Flags) IsRedo() bool       { return f&FlagRedo != 0 }
func (f Flags) IsUndo() bool       { return f&FlagUndo != 0 }
func (f Flags) IsCompensate() bool { return f&FlagCompensate != 0 }
func (f Flags) IsSingleLogSysXct() bool { return f&FlagSingleSysXct != 0 }
func (f Flags) IsMultiPage() bool  { return f&FlagMultiPage != 0 }

// PageID addresses a page within a mounted volume; zero PageID is
// invalid wherever a record's flags require one.
type PageID struct {
	Volume uint32
	Page   uint64
}

func (p PageID) IsZero() bool { return p.Volume == 0 && p.Page == 0 }

func (p PageID) String() string { return fmt.Sprintf("%d:%d", p.Volume, p.Page) }

// Header is the fixed part of every log record.
type Header struct {
	Type     RecordType
	Tid      uint64 // 0 for system records
	XidPrev  LSN    // previous LSN of the same transaction; undo_next for CLRs
	Flags    Flags
	PID      PageID // zero if the record names no page
	PID2     PageID // zero unless Flags.IsMultiPage()
}

// Record is a fully decoded log record together with the LSN it was
// read from (LSNCheck mirrors that LSN; Analysis verifies it against
// its scan position).
type Record struct {
	Header
	LSNCheck LSN
	Payload  []byte // type-specific encoding; see the payload.go helpers
}

// encodedHeaderLen is the byte length of the fixed header fields,
// independent of payload size.
const encodedHeaderLen = 2 + 8 + 8 + 2 + (4 + 8) + (4 + 8)

// marshalHeader appends the fixed header fields to buf.
func marshalHeader(buf *bytes.Buffer, h Header) {
	_ = binary.Write(buf, binary.BigEndian, uint16(h.Type))
	_ = binary.Write(buf, binary.BigEndian, h.Tid)
	_ = binary.Write(buf, binary.BigEndian, uint64(h.XidPrev))
	_ = binary.Write(buf, binary.BigEndian, uint16(h.Flags))
	_ = binary.Write(buf, binary.BigEndian, h.PID.Volume)
	_ = binary.Write(buf, binary.BigEndian, h.PID.Page)
	_ = binary.Write(buf, binary.BigEndian, h.PID2.Volume)
	_ = binary.Write(buf, binary.BigEndian, h.PID2.Page)
}

func unmarshalHeader(r *bytes.Reader) (Header, error) {
	var h Header
	var typ, flags uint16
	var tid, xidPrev uint64
	var v1, v2 uint32
	var p1, p2 uint64

	for _, f := range []func() error{
		func() error { return binary.Read(r, binary.BigEndian, &typ) },
		func() error { return binary.Read(r, binary.BigEndian, &tid) },
		func() error { return binary.Read(r, binary.BigEndian, &xidPrev) },
		func() error { return binary.Read(r, binary.BigEndian, &flags) },
		func() error { return binary.Read(r, binary.BigEndian, &v1) },
		func() error { return binary.Read(r, binary.BigEndian, &p1) },
		func() error { return binary.Read(r, binary.BigEndian, &v2) },
		func() error { return binary.Read(r, binary.BigEndian, &p2) },
	} {
		if err := f(); err != nil {
			return Header{}, err
		}
	}

	h.Type = RecordType(typ)
	h.Tid = tid
	h.XidPrev = LSN(xidPrev)
	h.Flags = Flags(flags)
	h.PID = PageID{Volume: v1, Page: p1}
	h.PID2 = PageID{Volume: v2, Page: p2}
	return h, nil
}
