package novacan

import (
	"errors"
	"fmt"
)

// MaxTransferID is the largest value of the 5-bit cyclic transfer id.
const MaxTransferID uint8 = 31

// FrameHeader is payload byte 0 of every nova-can frame.
//
// Bit layout: start<<7 | end<<6 | toggle<<5 | transfer_id (5 bits).
//
// A single-frame transfer carries start=end=toggle=1. In a multi-frame
// transfer the first frame has start=1 and toggle=1, continuations alternate
// the toggle, and the last frame has end=1. Start/end consistency is not
// enforced here; the reassembler owns that judgement.
type FrameHeader struct {
	StartOfTransfer bool
	EndOfTransfer   bool
	Toggle          bool
	TransferID      uint8
}

var ErrInvalidHeader = errors.New("novacan: invalid frame header")

const (
	headerStartBit  = 1 << 7
	headerEndBit    = 1 << 6
	headerToggleBit = 1 << 5
	headerTIDMask   = 0x1F
)

// Encode packs the header into its wire byte.
func (h FrameHeader) Encode() (byte, error) {
	if h.TransferID > MaxTransferID {
		return 0, fmt.Errorf("%w: transfer id %d exceeds %d", ErrInvalidHeader, h.TransferID, MaxTransferID)
	}
	var b byte
	if h.StartOfTransfer {
		b |= headerStartBit
	}
	if h.EndOfTransfer {
		b |= headerEndBit
	}
	if h.Toggle {
		b |= headerToggleBit
	}
	b |= h.TransferID & headerTIDMask
	return b, nil
}

// DecodeFrameHeader unpacks a header byte.
func DecodeFrameHeader(b byte) FrameHeader {
	return FrameHeader{
		StartOfTransfer: b&headerStartBit != 0,
		EndOfTransfer:   b&headerEndBit != 0,
		Toggle:          b&headerToggleBit != 0,
		TransferID:      b & headerTIDMask,
	}
}
