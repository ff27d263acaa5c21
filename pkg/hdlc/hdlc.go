// Package hdlc recovers frames from the byte-stuffed, flag-terminated
// stream spoken by DMSS diagnostic ports.
//
// Only flag delimiting and single-byte escaping are handled. There are no
// address or control fields and no FCS check: a corrupted frame comes out
// as whatever bytes were on the wire.
package hdlc

const (
	// Flag terminates a frame.
	Flag byte = 0x7E
	// Escape marks the next byte as stuffed.
	Escape byte = 0x7D
	// EscapeMask is XORed with a stuffed byte to recover its value.
	EscapeMask byte = 0x20
)

// needsEscape reports whether b must be stuffed on the wire.
func needsEscape(b byte) bool {
	return b == Flag || b == Escape
}
