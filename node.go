package novacan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ecthelion99/nova-can/can"
)

// frameCapacity is the payload room left after the header byte.
const frameCapacity = 7

// Config assembles a Node. NodeID, Bus and Table are required; everything
// else has defaults. Identity is explicit configuration, not process state,
// so multiple logical nodes can coexist in one process.
type Config struct {
	NodeID NodeID
	Bus    can.Bus
	Table  *DispatchTable

	// CRC validates multi-frame transfers; nil selects CRC16CCITTFalse.
	CRC TransferCRC
	// TransferTimeout bounds idle reassembly state; zero selects
	// DefaultTransferTimeout.
	TransferTimeout time.Duration
	Logger          zerolog.Logger
}

// Node is one bus participant: it drains frames from its Bus, reassembles
// transfers, dispatches them through its compiled table, and carries the
// send paths for messages and service calls.
type Node struct {
	id    NodeID
	bus   can.Bus
	table *DispatchTable
	crc   TransferCRC
	log   zerolog.Logger

	rx    *Reassembler
	calls *CallMatcher

	mu    sync.Mutex
	txSeq map[seqKey]uint8
}

// NewNode validates the configuration and builds a node.
func NewNode(cfg Config) (*Node, error) {
	if err := cfg.NodeID.Validate(); err != nil {
		return nil, err
	}
	if cfg.Bus == nil {
		return nil, errors.New("novacan: config requires a bus")
	}
	if cfg.Table == nil {
		return nil, errors.New("novacan: config requires a dispatch table")
	}
	crc := cfg.CRC
	if crc == nil {
		crc = CRC16CCITTFalse
	}
	return &Node{
		id:    cfg.NodeID,
		bus:   cfg.Bus,
		table: cfg.Table,
		crc:   crc,
		log:   cfg.Logger.With().Str("device", cfg.Table.Device()).Uint8("node", uint8(cfg.NodeID)).Logger(),
		rx:    NewReassembler(crc, cfg.TransferTimeout),
		calls: NewCallMatcher(),
		txSeq: make(map[seqKey]uint8),
	}, nil
}

// ID returns the node identifier.
func (n *Node) ID() NodeID { return n.id }

// Filters returns the acceptance filter pairs this node needs from a
// hardware-filtering driver: its own destination plus multicast.
func (n *Node) Filters() []can.AcceptanceFilter {
	own, _ := FilterForNode(n.id)
	return []can.AcceptanceFilter{own, MulticastFilter()}
}

// Run drains the bus until the context ends or the bus closes. Runtime
// errors (reassembly, dispatch, unmatched responses) are logged and never
// stop the loop; only bus failure terminates it.
func (n *Node) Run(ctx context.Context) error {
	for {
		f, err := n.bus.Receive(ctx)
		if err != nil {
			if errors.Is(err, can.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		n.HandleFrame(ctx, f)
	}
}

// HandleFrame processes one inbound frame. It is the single-frame-path entry
// point for platforms that drain their transport themselves; Run calls it in
// arrival order. Not safe for concurrent callers.
func (n *Node) HandleFrame(ctx context.Context, f can.Frame) {
	if !f.Extended || f.Len == 0 {
		return
	}
	id := DecodeCANID(f.ID)
	if id.DestinationID != n.id && id.DestinationID != Multicast {
		return
	}
	header := DecodeFrameHeader(f.Data[0])
	t, err := n.rx.Push(id, header, f.Payload()[1:])
	if err != nil {
		n.log.Warn().Err(err).Uint16("subject", id.SubjectID).
			Uint8("source", uint8(id.SourceID)).Msg("reassembly error")
	}
	if t == nil {
		return
	}
	n.dispatch(ctx, t)
}

// dispatch routes one completed transfer through the table.
func (n *Node) dispatch(ctx context.Context, t *Transfer) {
	entry, ok := n.table.LookupInbound(t.Service, t.ServiceRequest, t.SubjectID)
	if !ok {
		n.log.Debug().Uint16("subject", t.SubjectID).
			Bool("service", t.Service).Bool("request", t.ServiceRequest).
			Err(ErrUnknownSubject).Msg("transfer ignored")
		return
	}

	// Inbound service responses carry the response type; everything else
	// carries the entry's primary type.
	codec := entry.Type
	if entry.Kind() == KindServiceResponse {
		codec = entry.Response
	}
	value, err := codec.Decode(t.Payload)
	if err != nil {
		n.log.Warn().Err(err).Str("port", entry.Name).Msg("payload decode failed")
		return
	}

	switch entry.Kind() {
	case KindMessage:
		if entry.OnMessage != nil {
			entry.OnMessage(t.CANID(), value)
		}
	case KindServiceRequest:
		n.serveRequest(ctx, entry, t, value)
	case KindServiceResponse:
		if err := n.calls.Resolve(t.SourceID, t.SubjectID, t.TransferID, value); err != nil {
			n.log.Debug().Err(err).Str("port", entry.Name).Msg("response discarded")
		}
	}
}

// serveRequest invokes the bound service handler and transmits its response.
// The response keeps the request's priority and transfer id, swaps the
// request flag off, and addresses the original source.
func (n *Node) serveRequest(ctx context.Context, entry *Entry, t *Transfer, request any) {
	if entry.OnService == nil {
		n.log.Debug().Str("port", entry.Name).Msg("no handler bound, request dropped")
		return
	}
	response, err := entry.OnService(t.CANID(), request)
	if err != nil {
		n.log.Warn().Err(err).Str("port", entry.Name).Msg("service handler failed")
		return
	}
	payload, err := entry.Response.Encode(response)
	if err != nil {
		n.log.Warn().Err(err).Str("port", entry.Name).Msg("response encode failed")
		return
	}
	id := CANID{
		Priority:       t.Priority,
		Service:        true,
		ServiceRequest: false,
		SubjectID:      t.SubjectID,
		DestinationID:  t.SourceID,
		SourceID:       n.id,
	}
	if err := n.send(ctx, id, t.TransferID, payload); err != nil {
		n.log.Warn().Err(err).Str("port", entry.Name).Msg("response send failed")
	}
}

// Publish sends a message from the transmit catalog. dest 0 is multicast.
func (n *Node) Publish(ctx context.Context, name string, dest NodeID, priority Priority, value any) error {
	entry, ok := n.table.TransmitMessage(name)
	if !ok {
		return fmt.Errorf("novacan: device %s has no transmit message %q", n.table.Device(), name)
	}
	payload, err := entry.Type.Encode(value)
	if err != nil {
		return fmt.Errorf("novacan: encode %s: %w", name, err)
	}
	id := CANID{
		Priority:      priority,
		SubjectID:     entry.SubjectID,
		DestinationID: dest,
		SourceID:      n.id,
	}
	return n.send(ctx, id, n.nextTransferID(dest, entry.SubjectID), payload)
}

// Call performs a client service round-trip: it issues a transfer id for the
// request, sends it, and suspends until the matching response or the context
// deadline. The response value is decoded with the entry's response type.
func (n *Node) Call(ctx context.Context, name string, dest NodeID, priority Priority, request any) (any, error) {
	entry, ok := n.table.ClientCall(name)
	if !ok {
		return nil, fmt.Errorf("novacan: device %s has no client service %q", n.table.Device(), name)
	}
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	payload, err := entry.Type.Encode(request)
	if err != nil {
		return nil, fmt.Errorf("novacan: encode %s request: %w", name, err)
	}

	pending := n.calls.IssueCall(dest, entry.SubjectID)
	id := CANID{
		Priority:       priority,
		Service:        true,
		ServiceRequest: true,
		SubjectID:      entry.SubjectID,
		DestinationID:  dest,
		SourceID:       n.id,
	}
	if err := n.send(ctx, id, pending.TransferID(), payload); err != nil {
		pending.Cancel()
		return nil, err
	}
	return pending.Await(ctx)
}

// nextTransferID advances the message-send sequence for one destination and
// subject, mod 32.
func (n *Node) nextTransferID(dest NodeID, subject uint16) uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	sk := seqKey{dest: dest, subject: subject}
	tid := n.txSeq[sk]
	n.txSeq[sk] = (tid + 1) & MaxTransferID
	return tid
}

// send segments a payload into frames and transmits them in order.
func (n *Node) send(ctx context.Context, id CANID, tid uint8, payload []byte) error {
	frames, err := buildFrames(id, tid, payload, n.crc)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := n.bus.Send(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// buildFrames produces the wire frames of one transfer. Payloads that fit
// next to the header byte go out as a single frame with no checksum; larger
// payloads get the transfer CRC appended and are chunked into continuations
// with an alternating toggle.
func buildFrames(id CANID, tid uint8, payload []byte, crc TransferCRC) ([]can.Frame, error) {
	raw, err := id.Encode()
	if err != nil {
		return nil, err
	}
	if tid > MaxTransferID {
		return nil, fmt.Errorf("%w: transfer id %d exceeds %d", ErrInvalidHeader, tid, MaxTransferID)
	}

	if len(payload) <= frameCapacity {
		hdr, _ := FrameHeader{StartOfTransfer: true, EndOfTransfer: true, Toggle: true, TransferID: tid}.Encode()
		f, err := can.NewFrame(raw, append([]byte{hdr}, payload...))
		if err != nil {
			return nil, err
		}
		return []can.Frame{f}, nil
	}

	sum := crc(payload)
	body := make([]byte, 0, len(payload)+transferCRCSize)
	body = append(body, payload...)
	body = append(body, byte(sum>>8), byte(sum))

	var frames []can.Frame
	toggle := true
	for off := 0; off < len(body); off += frameCapacity {
		end := off + frameCapacity
		if end > len(body) {
			end = len(body)
		}
		hdr, _ := FrameHeader{
			StartOfTransfer: off == 0,
			EndOfTransfer:   end == len(body),
			Toggle:          toggle,
			TransferID:      tid,
		}.Encode()
		f, err := can.NewFrame(raw, append([]byte{hdr}, body[off:end]...))
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
		toggle = !toggle
	}
	return frames, nil
}
