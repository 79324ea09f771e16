package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRecordRoundTrip(t *testing.T) {
	rec := Record{
		Header: Header{
			Type:    RecBtreeUpdate,
			Tid:     99,
			XidPrev: NewLSN(1, 40),
			Flags:   FlagRedo | FlagUndo,
			PID:     PageID{Volume: 3, Page: 77},
		},
		LSNCheck: NewLSN(1, 200),
		Payload:  []byte("row payload bytes"),
	}

	frame := MarshalRecord(rec)
	require.Equal(t, FrameSize(len(rec.Payload)), len(frame))

	got, consumed, err := UnmarshalRecord(frame)
	require.NoError(t, err)
	require.Equal(t, len(frame), consumed)
	require.Equal(t, rec.Header, got.Header)
	require.Equal(t, rec.LSNCheck, got.LSNCheck)
	require.Equal(t, rec.Payload, got.Payload)
}

func TestUnmarshalRecordDetectsTornBytes(t *testing.T) {
	rec := Record{Header: Header{Type: RecComment}, LSNCheck: NewLSN(1, 0), Payload: []byte("abc")}
	frame := MarshalRecord(rec)

	corrupt := append([]byte{}, frame...)
	corrupt[len(corrupt)/2] ^= 0xFF

	_, _, err := UnmarshalRecord(corrupt)
	require.ErrorIs(t, err, ErrTornRecord)
}

func TestUnmarshalRecordDetectsTruncation(t *testing.T) {
	rec := Record{Header: Header{Type: RecComment}, LSNCheck: NewLSN(1, 0), Payload: []byte("abcdefgh")}
	frame := MarshalRecord(rec)

	_, _, err := UnmarshalRecord(frame[:len(frame)-5])
	require.ErrorIs(t, err, ErrTornRecord)
}

func TestPayloadRoundTrips(t *testing.T) {
	chkptXct := ChkptXctTabPayload{
		YoungestTid: 42,
		Entries: []XctEntry{
			{Tid: 1, State: 1, FirstLSN: NewLSN(1, 0), LastLSN: NewLSN(1, 100), UndoNxt: NewLSN(1, 50)},
			{Tid: 2, State: 4, FirstLSN: NewLSN(1, 10), LastLSN: NewLSN(1, 20)},
		},
	}
	decodedXct, err := DecodeChkptXctTab(EncodeChkptXctTab(chkptXct))
	require.NoError(t, err)
	require.Equal(t, chkptXct, decodedXct)

	devTab := ChkptDevTabPayload{Devices: []DevEntry{{Volume: 1, Path: "/data/vol1.dat"}}}
	decodedDev, err := DecodeChkptDevTab(EncodeChkptDevTab(devTab))
	require.NoError(t, err)
	require.Equal(t, devTab, decodedDev)

	bfTab := ChkptBfTabPayload{Entries: []BFEntry{{PID: PageID{Volume: 1, Page: 5}, RecLSN: NewLSN(1, 30)}}}
	decodedBf, err := DecodeChkptBfTab(EncodeChkptBfTab(bfTab))
	require.NoError(t, err)
	require.Equal(t, bfTab, decodedBf)

	comp := CompensatePayload{OrigLSN: NewLSN(1, 10), UndoLSN: NewLSN(1, 5)}
	decodedComp, err := DecodeCompensate(EncodeCompensate(comp))
	require.NoError(t, err)
	require.Equal(t, comp, decodedComp)

	img := PageImageFormatPayload{PID: PageID{Volume: 1, Page: 9}, Image: []byte{1, 2, 3, 4}}
	decodedImg, err := DecodePageImageFormat(EncodePageImageFormat(img))
	require.NoError(t, err)
	require.Equal(t, img, decodedImg)
}

func TestLSNPartitionOffsetPacking(t *testing.T) {
	lsn := NewLSN(5, 12345)
	require.Equal(t, uint32(5), lsn.Partition())
	require.Equal(t, uint32(12345), lsn.Offset())
	require.False(t, lsn.IsNull())
	require.True(t, NullLSN.IsNull())
	require.True(t, NewLSN(1, 0).Less(NewLSN(1, 1)))
	require.True(t, NewLSN(1, 100).Less(NewLSN(2, 0)))
}
