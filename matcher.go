package novacan

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Service errors.
var (
	// ErrUnmatchedResponse reports a service response with no pending call.
	// Non-fatal: the response is discarded.
	ErrUnmatchedResponse = errors.New("novacan: unmatched service response")
	// ErrServiceTimeout is surfaced to a caller whose deadline elapsed before
	// the response arrived.
	ErrServiceTimeout = errors.New("novacan: service call timed out")
)

// callKey identifies one outstanding call. The transfer id is part of the
// key, so overlapping calls to the same server and subject stay
// distinguishable as long as their transfer ids differ.
type callKey struct {
	dest    NodeID
	subject uint16
	tid     uint8
}

type seqKey struct {
	dest    NodeID
	subject uint16
}

// CallMatcher associates service responses with their originating requests.
// It is safe for concurrent use: callers issue and await calls from their own
// goroutines while the node's receive loop resolves them.
type CallMatcher struct {
	mu      sync.Mutex
	seq     map[seqKey]uint8
	pending map[callKey]*PendingCall
}

// NewCallMatcher creates an empty matcher.
func NewCallMatcher() *CallMatcher {
	return &CallMatcher{
		seq:     make(map[seqKey]uint8),
		pending: make(map[callKey]*PendingCall),
	}
}

// PendingCall is the caller's handle on one outstanding request.
type PendingCall struct {
	m    *CallMatcher
	key  callKey
	done chan any
}

// TransferID returns the transfer id allocated to the call, for embedding in
// the outgoing request header.
func (p *PendingCall) TransferID() uint8 { return p.key.tid }

// IssueCall allocates the next transfer id of the (dest, subject) sequence
// and registers a pending slot for the matching response.
func (m *CallMatcher) IssueCall(dest NodeID, subject uint16) *PendingCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	sk := seqKey{dest: dest, subject: subject}
	tid := m.seq[sk]
	m.seq[sk] = (tid + 1) & MaxTransferID

	p := &PendingCall{
		m:    m,
		key:  callKey{dest: dest, subject: subject, tid: tid},
		done: make(chan any, 1),
	}
	// A call from 32 transfers ago that is somehow still pending is stale;
	// the new call owns the slot.
	m.pending[p.key] = p
	return p
}

// Resolve delivers a response to its pending call and removes the slot.
// Responses with no slot (late, duplicate, or unsolicited) are rejected.
func (m *CallMatcher) Resolve(source NodeID, subject uint16, tid uint8, value any) error {
	m.mu.Lock()
	p, ok := m.pending[callKey{dest: source, subject: subject, tid: tid}]
	if ok {
		delete(m.pending, p.key)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: node %d subject %d transfer %d",
			ErrUnmatchedResponse, source, subject, tid)
	}
	p.done <- value
	return nil
}

// Await blocks until the response arrives or the context ends. On context
// expiry the slot is removed immediately, so a response landing afterwards is
// reported unmatched and discarded by the receive path.
func (p *PendingCall) Await(ctx context.Context) (any, error) {
	select {
	case v := <-p.done:
		return v, nil
	case <-ctx.Done():
		p.Cancel()
		// The response may have raced the deadline; prefer it if present.
		select {
		case v := <-p.done:
			return v, nil
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrServiceTimeout
		}
		return nil, ctx.Err()
	}
}

// Cancel abandons the call, freeing its slot without waiting.
func (p *PendingCall) Cancel() {
	p.m.mu.Lock()
	if cur, ok := p.m.pending[p.key]; ok && cur == p {
		delete(p.m.pending, p.key)
	}
	p.m.mu.Unlock()
}

// PendingCalls returns the number of outstanding slots.
func (m *CallMatcher) PendingCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
