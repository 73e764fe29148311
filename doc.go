// Package novacan implements the nova-can application-layer transport for
// classical CAN: point-to-point and multicast messages plus two-way services
// carried over raw frames limited to 8 payload bytes.
//
// It includes:
//   - Codecs for the 29-bit extended identifier and the in-payload frame header
//   - A multi-frame transfer reassembler with toggle-based duplicate rejection
//     and CRC validation
//   - A subject dispatcher driven by a compiled, immutable dispatch table
//   - A service call matcher pairing responses with outstanding requests
//   - A Node runtime tying the pieces to a can.Bus
//
// Dispatch tables are produced ahead of time by the device package from a
// declarative device-interface document.
package novacan
