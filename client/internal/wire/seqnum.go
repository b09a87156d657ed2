// Package wire implements the UDP datagram framing shared by every message
// the relay sends or receives: sequence numbers and the tagged-union
// ClientMessage/ServerMessage codec.
package wire

// SeqNum is a 16-bit sequence number that wraps around. Ordering between two
// sequence numbers is only meaningful for values that are "close" to each
// other; values exactly half the ring apart are ambiguous by construction.
type SeqNum uint16

// After reports whether s comes strictly after other in wraparound order,
// i.e. other+1, other+2, ... reaches s before wrapping past it again.
func (s SeqNum) After(other SeqNum) bool {
	return int16(s-other) > 0
}

// Before reports whether s comes strictly before other in wraparound order.
func (s SeqNum) Before(other SeqNum) bool {
	return other.After(s)
}

// Distance returns the signed distance from other to s, in [-32768, 32767].
// A positive distance means s is After other.
func (s SeqNum) Distance(other SeqNum) int16 {
	return int16(s - other)
}
