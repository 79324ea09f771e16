package wal

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
)

// Payload encoders/decoders for the checkpoint and bookkeeping record
// types the recovery core reads structurally. B-tree mutation records
// (RecBtreeInsert..RecFosterRebalance) are left as opaque []byte
// payloads — the core never decodes them, only forwards them to
// apply_redo/apply_undo.
//
// XctEntry.State mirrors txntable.State's numeric values (Active=1,
// FreeingSpace=2, Aborting=3, Ended=4); wal does not import txntable to
// avoid a cycle, since txntable records refer back to LSNs here.

// BeginChkptPayload is the payload of a begin_chkpt record.
type BeginChkptPayload struct {
	LastMountLSN LSN
}

// EndChkptPayload is the payload of an end_chkpt record.
type EndChkptPayload struct {
	BeginLSN  LSN
	MinRecLSN LSN
	MinXctLSN LSN
}

// DevEntry names one mounted device captured by a chkpt_dev_tab record.
type DevEntry struct {
	Volume uint32
	Path   string
}

// ChkptDevTabPayload is the payload of a chkpt_dev_tab record.
type ChkptDevTabPayload struct {
	Devices []DevEntry
}

// BFEntry is one dirty-page entry captured by a chkpt_bf_tab record.
type BFEntry struct {
	PID    PageID
	RecLSN LSN
}

// ChkptBfTabPayload is the payload of a chkpt_bf_tab record.
type ChkptBfTabPayload struct {
	Entries []BFEntry
}

// XctEntry is one transaction-table entry captured by a chkpt_xct_tab
// record. State uses txntable.State's numeric encoding.
type XctEntry struct {
	Tid      uint64
	State    uint8
	FirstLSN LSN
	LastLSN  LSN
	UndoNxt  LSN
}

// ChkptXctTabPayload is the payload of a chkpt_xct_tab record.
type ChkptXctTabPayload struct {
	Entries     []XctEntry
	YoungestTid uint64
}

// MountVolPayload is the payload of mount_vol/dismount_vol records.
type MountVolPayload struct {
	Volume uint32
	Path   string
}

// XctEndGroupPayload ends several transactions with one record.
type XctEndGroupPayload struct {
	Tids []uint64
}

// CompensatePayload is the payload of a compensate record: it rewrites
// the undo_next link of the record at OrigLSN to UndoLSN.
type CompensatePayload struct {
	OrigLSN  LSN
	UndoLSN LSN
}

// AllocDeallocPayload is the payload of alloc_page/dealloc_page
// records; the page is already named by Header.PID.
type AllocDeallocPayload struct {
	PID PageID
}

// PageImageFormatPayload installs a full page image (used to turn a
// virgin page into a well-formed one).
type PageImageFormatPayload struct {
	PID   PageID
	Image []byte
}

func writeUint32(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, binary.BigEndian, v) }
func writeUint64(buf *bytes.Buffer, v uint64) { _ = binary.Write(buf, binary.BigEndian, v) }
func writeLSN(buf *bytes.Buffer, v LSN)       { _ = binary.Write(buf, binary.BigEndian, uint64(v)) }
func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}
func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}
func writePID(buf *bytes.Buffer, p PageID) {
	writeUint32(buf, p.Volume)
	writeUint64(buf, p.Page)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readUint64(r *bytes.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readLSN(r *bytes.Reader) (LSN, error) {
	v, err := readUint64(r)
	return LSN(v), err
}
func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
func readPID(r *bytes.Reader) (PageID, error) {
	v, err := readUint32(r)
	if err != nil {
		return PageID{}, err
	}
	p, err := readUint64(r)
	if err != nil {
		return PageID{}, err
	}
	return PageID{Volume: v, Page: p}, nil
}

// EncodeBeginChkpt etc. marshal a typed payload into bytes for Record.Payload.

func EncodeBeginChkpt(p BeginChkptPayload) []byte {
	var buf bytes.Buffer
	writeLSN(&buf, p.LastMountLSN)
	return buf.Bytes()
}

func DecodeBeginChkpt(b []byte) (BeginChkptPayload, error) {
	r := bytes.NewReader(b)
	lsn, err := readLSN(r)
	return BeginChkptPayload{LastMountLSN: lsn}, err
}

func EncodeEndChkpt(p EndChkptPayload) []byte {
	var buf bytes.Buffer
	writeLSN(&buf, p.BeginLSN)
	writeLSN(&buf, p.MinRecLSN)
	writeLSN(&buf, p.MinXctLSN)
	return buf.Bytes()
}

func DecodeEndChkpt(b []byte) (EndChkptPayload, error) {
	r := bytes.NewReader(b)
	begin, err := readLSN(r)
	if err != nil {
		return EndChkptPayload{}, err
	}
	minRec, err := readLSN(r)
	if err != nil {
		return EndChkptPayload{}, err
	}
	minXct, err := readLSN(r)
	return EndChkptPayload{BeginLSN: begin, MinRecLSN: minRec, MinXctLSN: minXct}, err
}

func EncodeChkptDevTab(p ChkptDevTabPayload) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(p.Devices)))
	for _, d := range p.Devices {
		writeUint32(&buf, d.Volume)
		writeString(&buf, d.Path)
	}
	return buf.Bytes()
}

func DecodeChkptDevTab(b []byte) (ChkptDevTabPayload, error) {
	r := bytes.NewReader(b)
	n, err := readUint32(r)
	if err != nil {
		return ChkptDevTabPayload{}, err
	}
	out := ChkptDevTabPayload{Devices: make([]DevEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		vol, err := readUint32(r)
		if err != nil {
			return ChkptDevTabPayload{}, err
		}
		path, err := readString(r)
		if err != nil {
			return ChkptDevTabPayload{}, err
		}
		out.Devices = append(out.Devices, DevEntry{Volume: vol, Path: path})
	}
	return out, nil
}

func EncodeChkptBfTab(p ChkptBfTabPayload) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(p.Entries)))
	for _, e := range p.Entries {
		writePID(&buf, e.PID)
		writeLSN(&buf, e.RecLSN)
	}
	return buf.Bytes()
}

func DecodeChkptBfTab(b []byte) (ChkptBfTabPayload, error) {
	r := bytes.NewReader(b)
	n, err := readUint32(r)
	if err != nil {
		return ChkptBfTabPayload{}, err
	}
	out := ChkptBfTabPayload{Entries: make([]BFEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		pid, err := readPID(r)
		if err != nil {
			return ChkptBfTabPayload{}, err
		}
		lsn, err := readLSN(r)
		if err != nil {
			return ChkptBfTabPayload{}, err
		}
		out.Entries = append(out.Entries, BFEntry{PID: pid, RecLSN: lsn})
	}
	return out, nil
}

func EncodeChkptXctTab(p ChkptXctTabPayload) []byte {
	var buf bytes.Buffer
	writeUint64(&buf, p.YoungestTid)
	writeUint32(&buf, uint32(len(p.Entries)))
	for _, e := range p.Entries {
		writeUint64(&buf, e.Tid)
		buf.WriteByte(e.State)
		writeLSN(&buf, e.FirstLSN)
		writeLSN(&buf, e.LastLSN)
		writeLSN(&buf, e.UndoNxt)
	}
	return buf.Bytes()
}

func DecodeChkptXctTab(b []byte) (ChkptXctTabPayload, error) {
	r := bytes.NewReader(b)
	youngest, err := readUint64(r)
	if err != nil {
		return ChkptXctTabPayload{}, err
	}
	n, err := readUint32(r)
	if err != nil {
		return ChkptXctTabPayload{}, err
	}
	out := ChkptXctTabPayload{YoungestTid: youngest, Entries: make([]XctEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		tid, err := readUint64(r)
		if err != nil {
			return ChkptXctTabPayload{}, err
		}
		state, err := r.ReadByte()
		if err != nil {
			return ChkptXctTabPayload{}, err
		}
		first, err := readLSN(r)
		if err != nil {
			return ChkptXctTabPayload{}, err
		}
		last, err := readLSN(r)
		if err != nil {
			return ChkptXctTabPayload{}, err
		}
		undoNxt, err := readLSN(r)
		if err != nil {
			return ChkptXctTabPayload{}, err
		}
		out.Entries = append(out.Entries, XctEntry{Tid: tid, State: state, FirstLSN: first, LastLSN: last, UndoNxt: undoNxt})
	}
	return out, nil
}

func EncodeMountVol(p MountVolPayload) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, p.Volume)
	writeString(&buf, p.Path)
	return buf.Bytes()
}

func DecodeMountVol(b []byte) (MountVolPayload, error) {
	r := bytes.NewReader(b)
	vol, err := readUint32(r)
	if err != nil {
		return MountVolPayload{}, err
	}
	path, err := readString(r)
	return MountVolPayload{Volume: vol, Path: path}, err
}

func EncodeXctEndGroup(p XctEndGroupPayload) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(p.Tids)))
	for _, t := range p.Tids {
		writeUint64(&buf, t)
	}
	return buf.Bytes()
}

func DecodeXctEndGroup(b []byte) (XctEndGroupPayload, error) {
	r := bytes.NewReader(b)
	n, err := readUint32(r)
	if err != nil {
		return XctEndGroupPayload{}, err
	}
	out := XctEndGroupPayload{Tids: make([]uint64, 0, n)}
	for i := uint32(0); i < n; i++ {
		t, err := readUint64(r)
		if err != nil {
			return XctEndGroupPayload{}, err
		}
		out.Tids = append(out.Tids, t)
	}
	return out, nil
}

func EncodeCompensate(p CompensatePayload) []byte {
	var buf bytes.Buffer
	writeLSN(&buf, p.OrigLSN)
	writeLSN(&buf, p.UndoLSN)
	return buf.Bytes()
}

func DecodeCompensate(b []byte) (CompensatePayload, error) {
	r := bytes.NewReader(b)
	orig, err := readLSN(r)
	if err != nil {
		return CompensatePayload{}, err
	}
	undo, err := readLSN(r)
	return CompensatePayload{OrigLSN: orig, UndoLSN: undo}, err
}

func EncodeAllocDealloc(p AllocDeallocPayload) []byte {
	var buf bytes.Buffer
	writePID(&buf, p.PID)
	return buf.Bytes()
}

func DecodeAllocDealloc(b []byte) (AllocDeallocPayload, error) {
	r := bytes.NewReader(b)
	pid, err := readPID(r)
	return AllocDeallocPayload{PID: pid}, err
}

// EncodePageImageFormat snappy-compresses the page image before
// framing it: page images are by far the largest payload this core
// ever logs, and they compress well since most of a freshly formatted
// page is zero-fill.
func EncodePageImageFormat(p PageImageFormatPayload) []byte {
	var buf bytes.Buffer
	writePID(&buf, p.PID)
	writeBytes(&buf, snappy.Encode(nil, p.Image))
	return buf.Bytes()
}

func DecodePageImageFormat(b []byte) (PageImageFormatPayload, error) {
	r := bytes.NewReader(b)
	pid, err := readPID(r)
	if err != nil {
		return PageImageFormatPayload{}, err
	}
	compressed, err := readBytes(r)
	if err != nil {
		return PageImageFormatPayload{}, err
	}
	img, err := snappy.Decode(nil, compressed)
	if err != nil {
		return PageImageFormatPayload{}, err
	}
	return PageImageFormatPayload{PID: pid, Image: img}, nil
}
