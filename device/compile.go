package device

import (
	"errors"
	"fmt"

	novacan "github.com/ecthelion99/nova-can"
)

// Compiler errors. All are fatal to compilation: no partial table is ever
// produced.
var (
	// ErrDuplicateSubjectID reports two explicit subject ids colliding within
	// one catalog scope.
	ErrDuplicateSubjectID = errors.New("device: duplicate subject id")
	// ErrUnresolvedType reports a payload type name missing from the registry.
	ErrUnresolvedType = errors.New("device: unresolved payload type")
	// ErrUnboundHandler reports a handler bound to a name no catalog entry
	// declares.
	ErrUnboundHandler = errors.New("device: handler bound to unknown port")
)

// CompileOptions supplies the external collaborators of a compilation:
// the type registry resolving payload type names, and the handler bindings
// attached to the emitted entries. Handlers are optional per entry; a bound
// name that matches no entry is an error.
type CompileOptions struct {
	Registry        novacan.TypeRegistry
	MessageHandlers map[string]novacan.MessageHandler
	ServiceHandlers map[string]novacan.ServiceHandler
}

// Compile validates the interface, assigns subject ids, resolves payload
// types, and emits the immutable dispatch table. Compiling the same document
// twice yields the same table: explicit ids are reserved first, then
// unassigned entries take the lowest free id from 33 upward in catalog order.
//
// Subject-id reuse across catalog scopes is permitted and denotes independent
// subjects, never aliasing.
func Compile(iface *Interface, opts CompileOptions) (*novacan.DispatchTable, error) {
	if iface == nil {
		return nil, fmt.Errorf("%w: nil interface", ErrInvalidInterface)
	}
	if err := iface.Validate(); err != nil {
		return nil, err
	}
	if opts.Registry == nil {
		return nil, errors.New("device: compile requires a type registry")
	}

	c := &compilation{iface: iface, opts: opts}

	if err := c.messages("messages.transmit", iface.Messages.Transmit, novacan.RoleTransmitMessage); err != nil {
		return nil, err
	}
	if err := c.messages("messages.receive", iface.Messages.Receive, novacan.RoleReceiveMessage); err != nil {
		return nil, err
	}
	if err := c.services("services.client", iface.Services.Client, novacan.RoleClientService); err != nil {
		return nil, err
	}
	if err := c.services("services.server", iface.Services.Server, novacan.RoleServerService); err != nil {
		return nil, err
	}
	if err := c.checkHandlerNames(); err != nil {
		return nil, err
	}

	return novacan.NewDispatchTable(iface.Device, c.entries)
}

type compilation struct {
	iface   *Interface
	opts    CompileOptions
	entries []novacan.Entry
	named   map[string]bool
}

// assign resolves the subject id of every entry in one catalog scope.
// Explicit ids are reserved first (collisions fail); the rest get the lowest
// unused id from the custom range in catalog order.
func assign(scope string, explicit []*uint16) ([]uint16, error) {
	used := make(map[uint16]bool, len(explicit))
	for _, id := range explicit {
		if id == nil {
			continue
		}
		if used[*id] {
			return nil, fmt.Errorf("%w: %s: subject id %d", ErrDuplicateSubjectID, scope, *id)
		}
		used[*id] = true
	}
	out := make([]uint16, len(explicit))
	next := novacan.CustomSubjectMin
	for i, id := range explicit {
		if id != nil {
			out[i] = *id
			continue
		}
		for used[next] {
			next++
		}
		if next > novacan.MaxSubjectID {
			return nil, fmt.Errorf("%w: %s: subject id space exhausted", ErrInvalidInterface, scope)
		}
		out[i] = next
		used[next] = true
	}
	return out, nil
}

func (c *compilation) resolve(scope, entry, typeName string) (novacan.Codec, error) {
	codec, ok := c.opts.Registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s: %s: %s", ErrUnresolvedType, scope, entry, typeName)
	}
	return codec, nil
}

func (c *compilation) record(name string) {
	if c.named == nil {
		c.named = make(map[string]bool)
	}
	c.named[name] = true
}

func (c *compilation) messages(scope string, msgs []Message, role novacan.Role) error {
	explicit := make([]*uint16, len(msgs))
	for i := range msgs {
		explicit[i] = msgs[i].SubjectID
	}
	ids, err := assign(scope, explicit)
	if err != nil {
		return err
	}
	for i, m := range msgs {
		codec, err := c.resolve(scope, m.Name, m.Type)
		if err != nil {
			return err
		}
		c.record(m.Name)
		c.entries = append(c.entries, novacan.Entry{
			Name:      m.Name,
			Role:      role,
			SubjectID: ids[i],
			Type:      codec,
			OnMessage: c.opts.MessageHandlers[m.Name],
		})
	}
	return nil
}

func (c *compilation) services(scope string, svcs []Service, role novacan.Role) error {
	explicit := make([]*uint16, len(svcs))
	for i := range svcs {
		explicit[i] = svcs[i].SubjectID
	}
	ids, err := assign(scope, explicit)
	if err != nil {
		return err
	}
	for i, s := range svcs {
		request, err := c.resolve(scope, s.Name, s.RequestType)
		if err != nil {
			return err
		}
		response, err := c.resolve(scope, s.Name, s.ResponseType)
		if err != nil {
			return err
		}
		c.record(s.Name)
		c.entries = append(c.entries, novacan.Entry{
			Name:      s.Name,
			Role:      role,
			SubjectID: ids[i],
			Type:      request,
			Response:  response,
			OnService: c.opts.ServiceHandlers[s.Name],
		})
	}
	return nil
}

// checkHandlerNames rejects handler bindings that match no catalog entry,
// which is almost always a misspelled port name.
func (c *compilation) checkHandlerNames() error {
	for name := range c.opts.MessageHandlers {
		if !c.named[name] {
			return fmt.Errorf("%w: message handler %q", ErrUnboundHandler, name)
		}
	}
	for name := range c.opts.ServiceHandlers {
		if !c.named[name] {
			return fmt.Errorf("%w: service handler %q", ErrUnboundHandler, name)
		}
	}
	return nil
}
