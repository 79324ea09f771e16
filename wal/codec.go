package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// On-disk record framing:
//
//   [4B bodyLen][header][2B payloadLen][payload][4B bodyLen][8B checksum][8B lsnCheck]
//
// bodyLen = encodedHeaderLen + 2 + len(payload). The leading and
// trailing bodyLen let a backward scan locate the start of a record
// from its end without a separate index. checksum is an xxHash64 over
// everything from the leading bodyLen field through the trailing
// bodyLen (inclusive), catching torn or corrupted bytes that a bad
// length alone would miss. lsnCheck is the record's own LSN, written by
// the log manager at insert time; Analysis verifies it against its scan
// position.
const footerLen = 4 + 8 + 8

// FrameSize returns the total number of bytes record occupies on disk
// once marshaled, without actually marshaling it.
func FrameSize(payloadLen int) int {
	bodyLen := encodedHeaderLen + 2 + payloadLen
	return 4 + bodyLen + footerLen
}

// MarshalRecord serializes rec, including its LSNCheck, to the exact
// bytes written to a partition file or log buffer segment.
func MarshalRecord(rec Record) []byte {
	var body bytes.Buffer
	marshalHeader(&body, rec.Header)
	_ = binary.Write(&body, binary.BigEndian, uint16(len(rec.Payload)))
	body.Write(rec.Payload)

	bodyLen := uint32(body.Len())

	var out bytes.Buffer
	out.Grow(4 + int(bodyLen) + footerLen)
	_ = binary.Write(&out, binary.BigEndian, bodyLen)
	out.Write(body.Bytes())
	_ = binary.Write(&out, binary.BigEndian, bodyLen)

	checksum := xxhash.Checksum64(out.Bytes())
	_ = binary.Write(&out, binary.BigEndian, checksum)
	_ = binary.Write(&out, binary.BigEndian, uint64(rec.LSNCheck))

	return out.Bytes()
}

// UnmarshalRecord decodes a record from the start of data. It returns
// the decoded record, the number of bytes consumed, and an error
// wrapping ErrTornRecord if the framing or checksum does not check
// out. It does not verify LSNCheck against a scan position; callers
// that know the expected LSN should compare it themselves.
func UnmarshalRecord(data []byte) (Record, int, error) {
	if len(data) < 4 {
		return Record{}, 0, fmt.Errorf("%w: too short for length prefix", ErrTornRecord)
	}
	bodyLen := binary.BigEndian.Uint32(data[0:4])
	total := 4 + int(bodyLen) + footerLen
	if bodyLen == 0 || total > len(data) {
		return Record{}, 0, fmt.Errorf("%w: declared length %d exceeds available %d bytes", ErrTornRecord, bodyLen, len(data))
	}

	frame := data[:total]
	footerStart := 4 + int(bodyLen)
	bodyLenRepeat := binary.BigEndian.Uint32(frame[footerStart : footerStart+4])
	wantChecksum := binary.BigEndian.Uint64(frame[footerStart+4 : footerStart+12])
	lsnCheck := LSN(binary.BigEndian.Uint64(frame[footerStart+12 : footerStart+20]))

	if bodyLenRepeat != bodyLen {
		return Record{}, 0, fmt.Errorf("%w: length mismatch (%d vs %d)", ErrTornRecord, bodyLen, bodyLenRepeat)
	}
	gotChecksum := xxhash.Checksum64(frame[:footerStart+4])
	if gotChecksum != wantChecksum {
		return Record{}, 0, fmt.Errorf("%w: checksum mismatch", ErrTornRecord)
	}

	body := bytes.NewReader(frame[4:footerStart])
	h, err := unmarshalHeader(body)
	if err != nil {
		return Record{}, 0, fmt.Errorf("%w: %v", ErrTornRecord, err)
	}
	var payloadLen uint16
	if err := binary.Read(body, binary.BigEndian, &payloadLen); err != nil {
		return Record{}, 0, fmt.Errorf("%w: %v", ErrTornRecord, err)
	}
	payload := make([]byte, payloadLen)
	if _, err := body.Read(payload); err != nil && payloadLen > 0 {
		return Record{}, 0, fmt.Errorf("%w: %v", ErrTornRecord, err)
	}

	return Record{Header: h, LSNCheck: lsnCheck, Payload: payload}, total, nil
}

// footerBodyLen reads the bodyLen that a record ending at offset end
// within data recorded in its footer, for backward scans. end is the
// exclusive end of the record's frame.
func footerBodyLen(data []byte, end int) (uint32, error) {
	if end < footerLen {
		return 0, fmt.Errorf("%w: not enough bytes for footer", ErrTornRecord)
	}
	footerStart := end - footerLen
	return binary.BigEndian.Uint32(data[footerStart : footerStart+4]), nil
}
