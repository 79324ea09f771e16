package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ariesrecover/ariesrecover/bufferpool"
	"github.com/ariesrecover/ariesrecover/recovery"
	"github.com/ariesrecover/ariesrecover/wal"
)

func TestClassifySortsSentinelsIntoTheirDocumentedKind(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{bufferpool.ErrLatchTimeout, KindRecoverableAtCallsite},
		{wal.ErrTornRecord, KindRecoverableAtCallsite},
		{wal.ErrOutOfLogSpace, KindRecoverableAtTransaction},
		{recovery.ErrUnknownRecordType, KindFatalProcess},
		{recovery.ErrMalformedMasterCheckpoint, KindFatalRecovery},
		{nil, KindRecoverableAtCallsite},
	}
	for _, c := range cases {
		require.Equal(t, c.kind, Classify(c.err), "classifying %v", c.err)
	}
}

func TestClassifyDefaultsUnrecognizedErrorsToRecoverableAtTransaction(t *testing.T) {
	require.Equal(t, KindRecoverableAtTransaction, Classify(someUnrecognizedError{}))
}

type someUnrecognizedError struct{}

func (someUnrecognizedError) Error() string { return "not one of the wired sentinels" }
