package novacan

import (
	"errors"
	"fmt"
)

// Codec encodes and decodes one payload type. The wire encoding itself is
// external to this package; the transport treats bodies as opaque bytes.
type Codec interface {
	// Name is the payload type name as written in device catalogs.
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// TypeRegistry resolves payload type names to codecs at compile time.
type TypeRegistry interface {
	Lookup(name string) (Codec, bool)
}

// RawCodec is a pass-through Codec treating every payload as raw bytes.
// It backs tooling and tests that have no structured type definitions.
type RawCodec struct {
	TypeName string
}

func (c RawCodec) Name() string { return c.TypeName }

func (c RawCodec) Encode(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("novacan: raw codec %s: want []byte, got %T", c.TypeName, v)
	}
	return b, nil
}

func (c RawCodec) Decode(data []byte) (any, error) {
	return append([]byte(nil), data...), nil
}

// RawRegistry resolves every type name to a RawCodec.
type RawRegistry struct{}

func (RawRegistry) Lookup(name string) (Codec, bool) {
	return RawCodec{TypeName: name}, true
}

// Role tags a dispatch entry with the catalog it came from.
type Role uint8

const (
	RoleTransmitMessage Role = iota
	RoleReceiveMessage
	RoleClientService
	RoleServerService
)

func (r Role) String() string {
	switch r {
	case RoleTransmitMessage:
		return "transmit_message"
	case RoleReceiveMessage:
		return "receive_message"
	case RoleClientService:
		return "client_service"
	case RoleServerService:
		return "server_service"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Kind classifies what an inbound transfer hitting an entry means.
type Kind uint8

const (
	KindMessage Kind = iota
	KindServiceRequest
	KindServiceResponse
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindServiceRequest:
		return "service_request"
	case KindServiceResponse:
		return "service_response"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MessageHandler consumes a decoded message payload.
type MessageHandler func(id CANID, value any)

// ServiceHandler consumes a decoded request and produces a response payload
// to be encoded with the entry's response type. An error suppresses the
// response entirely.
type ServiceHandler func(id CANID, request any) (any, error)

// Entry is one compiled dispatch-table row.
//
// For messages Type is the payload type and Response is nil. For services
// Type is the request type and Response the response type. Handlers are
// bound at compile time; a nil handler drops decoded payloads silently.
type Entry struct {
	Name      string
	Role      Role
	SubjectID uint16
	Type      Codec
	Response  Codec

	OnMessage MessageHandler
	OnService ServiceHandler
}

// Kind derives the inbound meaning of the entry from its role. Transmit
// messages never match inbound traffic and classify as plain messages.
func (e *Entry) Kind() Kind {
	switch e.Role {
	case RoleServerService:
		return KindServiceRequest
	case RoleClientService:
		return KindServiceResponse
	default:
		return KindMessage
	}
}

// dispatchKey is the inbound routing triple.
type dispatchKey struct {
	service bool
	request bool
	subject uint16
}

// ErrUnknownSubject reports an inbound transfer with no table entry.
// Non-fatal: the transfer is ignored.
var ErrUnknownSubject = errors.New("novacan: unknown subject")

// DispatchTable is the compiled, immutable routing map of one device.
// Built once by the interface compiler; read-only afterwards, so it needs
// no locking.
type DispatchTable struct {
	device   string
	inbound  map[dispatchKey]*Entry
	transmit map[string]*Entry
	calls    map[string]*Entry
	entries  []*Entry
}

// NewDispatchTable assembles a table from compiled entries. The compiler
// guarantees per-scope subject uniqueness and complete service codecs; this
// constructor re-checks both so a hand-built table cannot alias subjects or
// carry a service entry with no response codec.
func NewDispatchTable(device string, entries []Entry) (*DispatchTable, error) {
	t := &DispatchTable{
		device:   device,
		inbound:  make(map[dispatchKey]*Entry),
		transmit: make(map[string]*Entry),
		calls:    make(map[string]*Entry),
	}
	for i := range entries {
		e := &entries[i]
		t.entries = append(t.entries, e)
		var key dispatchKey
		switch e.Role {
		case RoleTransmitMessage:
			if _, dup := t.transmit[e.Name]; dup {
				return nil, fmt.Errorf("novacan: duplicate transmit message %q", e.Name)
			}
			t.transmit[e.Name] = e
			continue
		case RoleReceiveMessage:
			key = dispatchKey{service: false, request: false, subject: e.SubjectID}
		case RoleServerService:
			if e.Response == nil {
				return nil, fmt.Errorf("novacan: server service %q has no response codec", e.Name)
			}
			key = dispatchKey{service: true, request: true, subject: e.SubjectID}
		case RoleClientService:
			if e.Response == nil {
				return nil, fmt.Errorf("novacan: client service %q has no response codec", e.Name)
			}
			key = dispatchKey{service: true, request: false, subject: e.SubjectID}
			if _, dup := t.calls[e.Name]; dup {
				return nil, fmt.Errorf("novacan: duplicate client service %q", e.Name)
			}
			t.calls[e.Name] = e
		default:
			return nil, fmt.Errorf("novacan: entry %q has unknown role %d", e.Name, e.Role)
		}
		if prev, dup := t.inbound[key]; dup {
			return nil, fmt.Errorf("novacan: subject %d already routed to %q", e.SubjectID, prev.Name)
		}
		t.inbound[key] = e
	}
	return t, nil
}

// Device returns the device name the table was compiled for.
func (t *DispatchTable) Device() string { return t.device }

// Entries returns the table rows in catalog order.
func (t *DispatchTable) Entries() []*Entry { return t.entries }

// LookupInbound resolves the routing triple of an inbound transfer.
func (t *DispatchTable) LookupInbound(service, request bool, subject uint16) (*Entry, bool) {
	e, ok := t.inbound[dispatchKey{service: service, request: request, subject: subject}]
	return e, ok
}

// TransmitMessage resolves a transmit-catalog entry by name.
func (t *DispatchTable) TransmitMessage(name string) (*Entry, bool) {
	e, ok := t.transmit[name]
	return e, ok
}

// ClientCall resolves a client-service entry by name.
func (t *DispatchTable) ClientCall(name string) (*Entry, bool) {
	e, ok := t.calls[name]
	return e, ok
}
