package novacan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallResolvedWithExactPayload(t *testing.T) {
	m := NewCallMatcher()
	pending := m.IssueCall(5, 37)
	tid := pending.TransferID()

	require.NoError(t, m.Resolve(5, 37, tid, []byte("P")))

	v, err := pending.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("P"), v)

	// The slot is gone: a duplicate response is unmatched.
	err = m.Resolve(5, 37, tid, []byte("P"))
	assert.ErrorIs(t, err, ErrUnmatchedResponse)
	assert.Equal(t, 0, m.PendingCalls())
}

func TestTransferIDsDistinguishOverlappingCalls(t *testing.T) {
	m := NewCallMatcher()
	first := m.IssueCall(5, 37)
	second := m.IssueCall(5, 37)
	require.NotEqual(t, first.TransferID(), second.TransferID())

	// Resolve out of order.
	require.NoError(t, m.Resolve(5, 37, second.TransferID(), "two"))
	require.NoError(t, m.Resolve(5, 37, first.TransferID(), "one"))

	v, err := second.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", v)
	v, err = first.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", v)
}

func TestTransferIDSequenceWrapsMod32(t *testing.T) {
	m := NewCallMatcher()
	var last uint8
	for i := 0; i < 33; i++ {
		p := m.IssueCall(9, 50)
		last = p.TransferID()
		p.Cancel()
	}
	assert.Equal(t, uint8(0), last, "sequence wraps after 32 calls")

	// Independent sequences per destination and subject.
	assert.Equal(t, uint8(0), m.IssueCall(10, 50).TransferID())
	assert.Equal(t, uint8(0), m.IssueCall(9, 51).TransferID())
}

func TestAwaitDeadlineReportsServiceTimeout(t *testing.T) {
	m := NewCallMatcher()
	pending := m.IssueCall(5, 37)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pending.Await(ctx)
	assert.ErrorIs(t, err, ErrServiceTimeout)
	assert.Equal(t, 0, m.PendingCalls(), "timed-out slot removed")

	// The late response is discarded as unmatched.
	err = m.Resolve(5, 37, pending.TransferID(), "late")
	assert.ErrorIs(t, err, ErrUnmatchedResponse)
}

func TestAwaitCancellationFreesSlot(t *testing.T) {
	m := NewCallMatcher()
	pending := m.IssueCall(6, 37)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pending.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.PendingCalls())
}

func TestResolveUnknownCallUnmatched(t *testing.T) {
	m := NewCallMatcher()
	err := m.Resolve(5, 37, 12, "orphan")
	assert.ErrorIs(t, err, ErrUnmatchedResponse)
}

func TestResponseRacingDeadlineIsPreferred(t *testing.T) {
	m := NewCallMatcher()
	pending := m.IssueCall(5, 37)
	require.NoError(t, m.Resolve(5, 37, pending.TransferID(), "fast"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, err := pending.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fast", v)
}
