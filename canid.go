package novacan

import (
	"errors"
	"fmt"

	"github.com/ecthelion99/nova-can/can"
)

// NodeID represents a nova-can node identifier (1..127).
// Value 0 addresses all nodes and is valid only as a message destination.
type NodeID uint8

// MaxNodeID is the highest addressable node.
const MaxNodeID NodeID = 127

// Validate checks that the node identifier is in the range 1..127.
func (n NodeID) Validate() error {
	if n < 1 || n > MaxNodeID {
		return fmt.Errorf("novacan: invalid node id %d (valid 1..127)", n)
	}
	return nil
}

// Multicast is the destination addressing every node on the bus.
const Multicast NodeID = 0

// Priority is the 3-bit transfer priority. Lower values win arbitration.
type Priority uint8

// Priority mnemonics. Nominal should be the default.
const (
	PriorityCritical Priority = iota
	PriorityImmediate
	PriorityFast
	PriorityHigh
	PriorityNominal
	PriorityLow
	PrioritySlow
	PriorityOptional
)

// Subject id ranges. Ids up to ReservedSubjectMax are protocol-defined;
// device catalogs assign custom subjects from CustomSubjectMin upward.
const (
	MaxSubjectID       uint16 = 511
	ReservedSubjectMax uint16 = 32
	CustomSubjectMin   uint16 = 33
)

// CANID is the unpacked form of the 29-bit extended identifier.
//
// Bit layout, high to low:
//
//	28..26  priority
//	25      service flag
//	24      service request flag
//	23      reserved (transmitted as written, ignored on receive)
//	22..14  subject id
//	13..7   destination node id (0 = multicast)
//	6..0    source node id (never 0)
type CANID struct {
	Priority       Priority
	Service        bool
	ServiceRequest bool
	Reserved       bool
	SubjectID      uint16
	DestinationID  NodeID
	SourceID       NodeID
}

var ErrInvalidCANID = errors.New("novacan: invalid can id")

// Validate checks field ranges and the cross-field invariants:
// a request flag requires the service flag, a multicast destination forbids
// services, and the source must be a real node.
func (id CANID) Validate() error {
	if id.Priority > PriorityOptional {
		return fmt.Errorf("%w: priority %d exceeds 7", ErrInvalidCANID, id.Priority)
	}
	if id.SubjectID > MaxSubjectID {
		return fmt.Errorf("%w: subject id %d exceeds %d", ErrInvalidCANID, id.SubjectID, MaxSubjectID)
	}
	if id.DestinationID > MaxNodeID {
		return fmt.Errorf("%w: destination id %d exceeds %d", ErrInvalidCANID, id.DestinationID, MaxNodeID)
	}
	if err := id.SourceID.Validate(); err != nil {
		return fmt.Errorf("%w: source: %v", ErrInvalidCANID, err)
	}
	if id.ServiceRequest && !id.Service {
		return fmt.Errorf("%w: service_request set without service", ErrInvalidCANID)
	}
	if id.Service && id.DestinationID == Multicast {
		return fmt.Errorf("%w: service frames cannot be multicast", ErrInvalidCANID)
	}
	return nil
}

const (
	offsetPriority = 26
	offsetService  = 25
	offsetRequest  = 24
	offsetReserved = 23
	offsetSubject  = 14
	offsetDest     = 7
)

// Encode packs the identifier into its 29-bit wire form, validating first.
func (id CANID) Encode() (uint32, error) {
	if err := id.Validate(); err != nil {
		return 0, err
	}
	raw := uint32(id.Priority) << offsetPriority
	if id.Service {
		raw |= 1 << offsetService
	}
	if id.ServiceRequest {
		raw |= 1 << offsetRequest
	}
	if id.Reserved {
		raw |= 1 << offsetReserved
	}
	raw |= uint32(id.SubjectID) << offsetSubject
	raw |= uint32(id.DestinationID) << offsetDest
	raw |= uint32(id.SourceID)
	return raw, nil
}

// DecodeCANID unpacks a 29-bit identifier. The reserved bit is read but not
// validated; callers filtering inbound traffic should check Validate if they
// care about malformed senders.
func DecodeCANID(raw uint32) CANID {
	return CANID{
		Priority:       Priority((raw >> offsetPriority) & 0x07),
		Service:        (raw>>offsetService)&0x01 != 0,
		ServiceRequest: (raw>>offsetRequest)&0x01 != 0,
		Reserved:       (raw>>offsetReserved)&0x01 != 0,
		SubjectID:      uint16((raw >> offsetSubject) & 0x1FF),
		DestinationID:  NodeID((raw >> offsetDest) & 0x7F),
		SourceID:       NodeID(raw & 0x7F),
	}
}

// FilterForNode derives the destination-only acceptance filter for a node.
// Only the destination field participates in the mask, so the pair accepts
// exactly the frames addressed to this node. Callers needing multicast
// reception must also install MulticastFilter.
func FilterForNode(node NodeID) (can.AcceptanceFilter, error) {
	if err := node.Validate(); err != nil {
		return can.AcceptanceFilter{}, err
	}
	return can.AcceptanceFilter{
		Filter: uint32(node) << offsetDest,
		Mask:   0x7F << offsetDest,
	}, nil
}

// MulticastFilter accepts frames addressed to every node (destination 0).
func MulticastFilter() can.AcceptanceFilter {
	return can.AcceptanceFilter{Filter: 0, Mask: 0x7F << offsetDest}
}
