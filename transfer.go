package novacan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Transfer is one completed logical unit: a message or one leg of a service
// call, possibly reassembled from several frames.
type Transfer struct {
	Priority       Priority
	Service        bool
	ServiceRequest bool
	SubjectID      uint16
	DestinationID  NodeID
	SourceID       NodeID
	TransferID     uint8
	Payload        []byte
}

// CANID reconstructs the identifier fields of the transfer.
func (t *Transfer) CANID() CANID {
	return CANID{
		Priority:       t.Priority,
		Service:        t.Service,
		ServiceRequest: t.ServiceRequest,
		SubjectID:      t.SubjectID,
		DestinationID:  t.DestinationID,
		SourceID:       t.SourceID,
	}
}

// Reassembly errors. All are non-fatal: the engine drops the offending
// transfer or frame and keeps processing.
var (
	// ErrTruncatedTransfer reports an in-progress transfer abandoned because
	// a new start-of-transfer arrived or the idle window elapsed.
	ErrTruncatedTransfer = errors.New("novacan: truncated transfer")
	// ErrUnexpectedContinuation reports a continuation frame with no matching
	// transfer in progress, a transfer id mismatch, or a stale toggle bit.
	ErrUnexpectedContinuation = errors.New("novacan: unexpected continuation")
	// ErrCRCMismatch reports a completed multi-frame transfer whose trailing
	// checksum does not cover its payload.
	ErrCRCMismatch = errors.New("novacan: transfer crc mismatch")
)

// DefaultTransferTimeout bounds how long a partially received transfer may
// sit idle before its slot is reclaimed.
const DefaultTransferTimeout = 2 * time.Second

// transferKey scopes reassembly state. The subject id alone is not unique:
// the same id may name independent subjects across the message and service
// scopes, so the service/request flags are part of the key.
type transferKey struct {
	service bool
	request bool
	subject uint16
	source  NodeID
}

type rxState struct {
	priority   Priority
	dest       NodeID
	transferID uint8
	toggle     bool // expected toggle of the next continuation
	buf        []byte
	last       time.Time
}

// Reassembler reconstructs transfers from header-tagged frames, keyed per
// sender and subject scope. It is not safe for concurrent use; the node
// drains its bus on a single goroutine, which is the intended discipline.
type Reassembler struct {
	crc     TransferCRC
	timeout time.Duration
	now     func() time.Time
	states  map[transferKey]*rxState
}

// NewReassembler creates an engine using the given checksum and idle window.
// A nil crc selects CRC16CCITTFalse; a non-positive timeout selects
// DefaultTransferTimeout.
func NewReassembler(crc TransferCRC, timeout time.Duration) *Reassembler {
	if crc == nil {
		crc = CRC16CCITTFalse
	}
	if timeout <= 0 {
		timeout = DefaultTransferTimeout
	}
	return &Reassembler{
		crc:     crc,
		timeout: timeout,
		now:     time.Now,
		states:  make(map[transferKey]*rxState),
	}
}

// Pending returns the number of transfers currently in progress.
func (r *Reassembler) Pending() int {
	return len(r.states)
}

// Push consumes one frame. payload is the frame data with the header byte
// already stripped. It returns a completed transfer when the frame finishes
// one, and an error describing any dropped or rejected state.
//
// Both can be non-nil at once: a start-of-transfer frame that preempts an
// unfinished transfer reports ErrTruncatedTransfer for the old one while the
// new frame is still accepted (and, if single-frame, completed).
func (r *Reassembler) Push(id CANID, header FrameHeader, payload []byte) (*Transfer, error) {
	now := r.now()
	r.evictIdle(now)

	key := transferKey{
		service: id.Service,
		request: id.ServiceRequest,
		subject: id.SubjectID,
		source:  id.SourceID,
	}

	if !header.StartOfTransfer {
		st, ok := r.states[key]
		switch {
		case !ok:
			return nil, fmt.Errorf("%w: no transfer in progress for subject %d from node %d",
				ErrUnexpectedContinuation, id.SubjectID, id.SourceID)
		case st.transferID != header.TransferID:
			return nil, fmt.Errorf("%w: transfer id %d, expected %d",
				ErrUnexpectedContinuation, header.TransferID, st.transferID)
		case st.toggle != header.Toggle:
			// Duplicate or reordered frame; the in-progress transfer is kept.
			return nil, fmt.Errorf("%w: stale toggle bit", ErrUnexpectedContinuation)
		}

		st.buf = append(st.buf, payload...)
		st.toggle = !st.toggle
		st.last = now
		if !header.EndOfTransfer {
			return nil, nil
		}
		delete(r.states, key)
		return r.finish(id, st, header.TransferID)
	}

	var preempted error
	if _, ok := r.states[key]; ok {
		delete(r.states, key)
		preempted = fmt.Errorf("%w: restarted by new transfer %d from node %d",
			ErrTruncatedTransfer, header.TransferID, id.SourceID)
	}

	if header.EndOfTransfer {
		// Single-frame transfer: delivered as-is, no checksum.
		t := &Transfer{
			Priority:       id.Priority,
			Service:        id.Service,
			ServiceRequest: id.ServiceRequest,
			SubjectID:      id.SubjectID,
			DestinationID:  id.DestinationID,
			SourceID:       id.SourceID,
			TransferID:     header.TransferID,
			Payload:        append([]byte(nil), payload...),
		}
		return t, preempted
	}

	r.states[key] = &rxState{
		priority:   id.Priority,
		dest:       id.DestinationID,
		transferID: header.TransferID,
		toggle:     false, // first frame carries toggle=1, next alternates
		buf:        append([]byte(nil), payload...),
		last:       now,
	}
	return nil, preempted
}

// finish validates the trailing checksum of a multi-frame transfer.
func (r *Reassembler) finish(id CANID, st *rxState, tid uint8) (*Transfer, error) {
	if len(st.buf) < transferCRCSize {
		return nil, fmt.Errorf("%w: %d bytes accumulated, need at least %d",
			ErrCRCMismatch, len(st.buf), transferCRCSize)
	}
	body := st.buf[:len(st.buf)-transferCRCSize]
	got := binary.BigEndian.Uint16(st.buf[len(st.buf)-transferCRCSize:])
	if want := r.crc(body); got != want {
		return nil, fmt.Errorf("%w: got 0x%04X, want 0x%04X", ErrCRCMismatch, got, want)
	}
	return &Transfer{
		Priority:       st.priority,
		Service:        id.Service,
		ServiceRequest: id.ServiceRequest,
		SubjectID:      id.SubjectID,
		DestinationID:  st.dest,
		SourceID:       id.SourceID,
		TransferID:     tid,
		Payload:        body,
	}, nil
}

// evictIdle abandons transfers that have been quiet past the idle window.
func (r *Reassembler) evictIdle(now time.Time) {
	for key, st := range r.states {
		if now.Sub(st.last) > r.timeout {
			delete(r.states, key)
		}
	}
}
