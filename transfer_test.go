package novacan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgID(subject uint16, source NodeID) CANID {
	return CANID{Priority: PriorityNominal, SubjectID: subject, DestinationID: 1, SourceID: source}
}

func hdr(start, end, toggle bool, tid uint8) FrameHeader {
	return FrameHeader{StartOfTransfer: start, EndOfTransfer: end, Toggle: toggle, TransferID: tid}
}

// appendCRC appends the big-endian transfer checksum to a fragment payload.
func appendCRC(fragment, whole []byte) []byte {
	sum := CRC16CCITTFalse(whole)
	return append(append([]byte(nil), fragment...), byte(sum>>8), byte(sum))
}

func TestSingleFrameTransferDeliversImmediately(t *testing.T) {
	r := NewReassembler(nil, 0)
	got, err := r.Push(msgID(40, 9), hdr(true, true, true, 5), []byte("AB"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("AB"), got.Payload)
	assert.Equal(t, uint8(5), got.TransferID)
	assert.Equal(t, uint16(40), got.SubjectID)
	assert.Equal(t, NodeID(9), got.SourceID)
	assert.Equal(t, 0, r.Pending())
}

func TestMultiFrameTransferReassembles(t *testing.T) {
	r := NewReassembler(nil, 0)
	id := msgID(41, 3)
	whole := []byte("abcdefg" + "hijklmn" + "op")

	got, err := r.Push(id, hdr(true, false, true, 2), []byte("abcdefg"))
	require.NoError(t, err)
	require.Nil(t, got)
	assert.Equal(t, 1, r.Pending())

	got, err = r.Push(id, hdr(false, false, false, 2), []byte("hijklmn"))
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = r.Push(id, hdr(false, true, true, 2), appendCRC([]byte("op"), whole))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, whole, got.Payload)
	assert.Equal(t, uint8(2), got.TransferID)
	assert.Equal(t, 0, r.Pending())
}

func TestMultiFrameCRCMismatchDropsTransfer(t *testing.T) {
	r := NewReassembler(nil, 0)
	id := msgID(41, 3)
	whole := []byte("abcdefghijk")

	_, err := r.Push(id, hdr(true, false, true, 2), whole[:7])
	require.NoError(t, err)

	last := appendCRC(whole[7:], whole)
	last[len(last)-1] ^= 0xFF
	got, err := r.Push(id, hdr(false, true, false, 2), last)
	assert.ErrorIs(t, err, ErrCRCMismatch)
	assert.Nil(t, got)
	assert.Equal(t, 0, r.Pending(), "transfer must be dropped, not delivered")
}

func TestDuplicateContinuationDiscardedWithoutCorruption(t *testing.T) {
	r := NewReassembler(nil, 0)
	id := msgID(42, 7)
	whole := []byte("0123456" + "789")

	_, err := r.Push(id, hdr(true, false, true, 1), []byte("0123456"))
	require.NoError(t, err)

	// Resend of the first frame's continuation-toggle never happens; instead
	// resend the start payload as a stale continuation (same toggle=1 as the
	// start frame, but the engine now expects toggle=0).
	got, err := r.Push(id, hdr(false, false, true, 1), []byte("0123456"))
	assert.ErrorIs(t, err, ErrUnexpectedContinuation)
	assert.Nil(t, got)

	// The correct next frame still completes the transfer.
	got, err = r.Push(id, hdr(false, true, false, 1), appendCRC([]byte("789"), whole))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, whole, got.Payload)
}

func TestContinuationWithoutTransferRejected(t *testing.T) {
	r := NewReassembler(nil, 0)
	got, err := r.Push(msgID(40, 2), hdr(false, false, false, 0), []byte("xyz"))
	assert.ErrorIs(t, err, ErrUnexpectedContinuation)
	assert.Nil(t, got)
}

func TestContinuationTransferIDMismatchRejected(t *testing.T) {
	r := NewReassembler(nil, 0)
	id := msgID(40, 2)
	_, err := r.Push(id, hdr(true, false, true, 4), []byte("headfra"))
	require.NoError(t, err)

	got, err := r.Push(id, hdr(false, false, false, 5), []byte("other"))
	assert.ErrorIs(t, err, ErrUnexpectedContinuation)
	assert.Nil(t, got)
	assert.Equal(t, 1, r.Pending(), "in-progress transfer untouched on discard")
}

func TestNewStartAbandonsInProgressTransfer(t *testing.T) {
	r := NewReassembler(nil, 0)
	id := msgID(44, 6)
	_, err := r.Push(id, hdr(true, false, true, 1), []byte("partial"))
	require.NoError(t, err)

	// A fresh start with a different transfer id preempts the old transfer
	// and is itself accepted.
	got, err := r.Push(id, hdr(true, true, true, 2), []byte("new"))
	assert.ErrorIs(t, err, ErrTruncatedTransfer)
	require.NotNil(t, got)
	assert.Equal(t, []byte("new"), got.Payload)
	assert.Equal(t, uint8(2), got.TransferID)
}

func TestScopesDoNotConflateSharedSubjectIDs(t *testing.T) {
	r := NewReassembler(nil, 0)
	message := msgID(40, 9)
	service := CANID{Priority: PriorityNominal, Service: true, ServiceRequest: true,
		SubjectID: 40, DestinationID: 1, SourceID: 9}

	_, err := r.Push(message, hdr(true, false, true, 0), []byte("msgpart"))
	require.NoError(t, err)
	_, err = r.Push(service, hdr(true, false, true, 0), []byte("reqpart"))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Pending())
}

func TestIdleTransfersEvicted(t *testing.T) {
	r := NewReassembler(nil, 100*time.Millisecond)
	now := time.Now()
	r.now = func() time.Time { return now }

	id := msgID(45, 8)
	_, err := r.Push(id, hdr(true, false, true, 3), []byte("stale.."))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pending())

	now = now.Add(time.Second)
	// A continuation after the idle window finds no transfer in progress.
	got, err := r.Push(id, hdr(false, true, false, 3), []byte("late"))
	assert.ErrorIs(t, err, ErrUnexpectedContinuation)
	assert.Nil(t, got)
	assert.Equal(t, 0, r.Pending())
}

func TestShortMultiFrameBodyFailsCRC(t *testing.T) {
	r := NewReassembler(nil, 0)
	id := msgID(46, 4)
	_, err := r.Push(id, hdr(true, false, true, 0), []byte("1234567"))
	require.NoError(t, err)

	// Final frame empty: fewer accumulated bytes than the checksum needs is
	// impossible here (7 already buffered) so force it with a fresh transfer.
	_, err = r.Push(id, hdr(true, false, true, 1), nil)
	assert.ErrorIs(t, err, ErrTruncatedTransfer)
	got, err := r.Push(id, hdr(false, true, false, 1), []byte{0x01})
	assert.ErrorIs(t, err, ErrCRCMismatch)
	assert.Nil(t, got)
}
