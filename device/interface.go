// Package device defines the declarative device-interface document and the
// interface compiler that turns it into the dispatch table the transport
// runtime consumes.
package device

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	novacan "github.com/ecthelion99/nova-can"
)

// Message is one entry of a transmit or receive message catalog.
type Message struct {
	Name      string  `yaml:"name"`
	Type      string  `yaml:"type"`
	SubjectID *uint16 `yaml:"subject_id,omitempty"`
}

// Service is one entry of a client or server service catalog.
type Service struct {
	Name         string  `yaml:"name"`
	RequestType  string  `yaml:"request_type"`
	ResponseType string  `yaml:"response_type"`
	SubjectID    *uint16 `yaml:"subject_id,omitempty"`
}

// Messages holds the message catalogs, in document order.
type Messages struct {
	Transmit []Message `yaml:"transmit,omitempty"`
	Receive  []Message `yaml:"receive,omitempty"`
}

// Services holds the service catalogs, in document order.
type Services struct {
	Client []Service `yaml:"client,omitempty"`
	Server []Service `yaml:"server,omitempty"`
}

// Interface is a device's complete message/service catalog.
type Interface struct {
	Device   string   `yaml:"device"`
	Version  string   `yaml:"version"`
	Messages Messages `yaml:"messages,omitempty"`
	Services Services `yaml:"services,omitempty"`
}

// ErrInvalidInterface reports a structural failure of the document itself.
var ErrInvalidInterface = errors.New("device: invalid interface")

// Parse decodes a device-interface document.
func Parse(data []byte) (*Interface, error) {
	var iface Interface
	if err := yaml.Unmarshal(data, &iface); err != nil {
		return nil, fmt.Errorf("device: parse interface: %w", err)
	}
	if err := iface.Validate(); err != nil {
		return nil, err
	}
	return &iface, nil
}

// Load reads and parses a device-interface file.
func Load(path string) (*Interface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("device: read %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks structural requirements: the device is named, every entry
// has a name and type without spaces, and explicit subject ids are in range.
// Uniqueness is the compiler's concern; validation does not mutate.
func (i *Interface) Validate() error {
	if err := validateName("device", i.Device); err != nil {
		return err
	}
	for _, m := range i.Messages.Transmit {
		if err := validateMessage("messages.transmit", m); err != nil {
			return err
		}
	}
	for _, m := range i.Messages.Receive {
		if err := validateMessage("messages.receive", m); err != nil {
			return err
		}
	}
	for _, s := range i.Services.Client {
		if err := validateService("services.client", s); err != nil {
			return err
		}
	}
	for _, s := range i.Services.Server {
		if err := validateService("services.server", s); err != nil {
			return err
		}
	}
	return nil
}

func validateName(field, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidInterface, field)
	}
	if strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: %s: name %q contains whitespace", ErrInvalidInterface, field, name)
	}
	return nil
}

func validateSubjectID(field, name string, id *uint16) error {
	if id != nil && *id > novacan.MaxSubjectID {
		return fmt.Errorf("%w: %s: %s: subject id %d exceeds %d",
			ErrInvalidInterface, field, name, *id, novacan.MaxSubjectID)
	}
	return nil
}

func validateMessage(field string, m Message) error {
	if err := validateName(field, m.Name); err != nil {
		return err
	}
	if err := validateName(field+"."+m.Name+".type", m.Type); err != nil {
		return err
	}
	return validateSubjectID(field, m.Name, m.SubjectID)
}

func validateService(field string, s Service) error {
	if err := validateName(field, s.Name); err != nil {
		return err
	}
	if err := validateName(field+"."+s.Name+".request_type", s.RequestType); err != nil {
		return err
	}
	if err := validateName(field+"."+s.Name+".response_type", s.ResponseType); err != nil {
		return err
	}
	return validateSubjectID(field, s.Name, s.SubjectID)
}
