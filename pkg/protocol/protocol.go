// Package protocol holds the DMSS logging wire constants and decodes log
// packets carried in deframed HDLC frames.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Handshake frames, already stuffed and flag terminated.
var (
	// ConnectRequest asks the diagnostic port to start a session.
	ConnectRequest = [8]byte{0x0C, 0x00, 0x00, 0x00, 0x00, 0x47, 0xB8, 0x7E}

	// ConnectAck is the exact reply that establishes the session.
	ConnectAck = [9]byte{0x13, 0x0C, 0x00, 0x00, 0x00, 0x00, 0x72, 0xCE, 0x7E}

	// ConfigRequest enables log message forwarding. It is sent once after
	// ConnectAck.
	ConfigRequest = [16]byte{
		0x7D, 0x5D, 0x04, 0x34, 0x21, 0x34, 0x21, 0x00,
		0x00, 0x1F, 0x00, 0x00, 0x00, 0xAB, 0xDF, 0x7E,
	}
)

// Log packet layout.
const (
	PacketMagic   byte = 0x79
	PacketVersion byte = 0x00

	MagicOffset     = 0
	VersionOffset   = 2
	TimestampOffset = 6
	LineOffset      = 12

	// HeaderLen is the fixed header in front of the message fields.
	HeaderLen = 20
	// MinPacketLen is the shortest frame accepted as a log packet.
	MinPacketLen = 24

	// FieldSeparator terminates the message and file name fields.
	FieldSeparator byte = 0x00
)

// Packet is the result of decoding one frame: a LogRecord or an Unknown.
// Packets render themselves as a single output line.
type Packet interface {
	io.WriterTo
	fmt.Stringer
}

// LogRecord is a decoded log message.
type LogRecord struct {
	Timestamp uint32
	Line      uint16
	Message   []byte
	File      []byte
}

// Unknown wraps a frame that failed the log packet checks.
type Unknown struct {
	Raw []byte
}

// Decode classifies a frame. It never fails: anything that is not a well
// formed log packet comes back as Unknown carrying the frame verbatim.
// Returned slices alias frame.
func Decode(frame []byte) Packet {
	if len(frame) < MinPacketLen ||
		frame[MagicOffset] != PacketMagic ||
		frame[VersionOffset] != PacketVersion {
		return Unknown{Raw: frame}
	}

	header, trailer := frame[:HeaderLen], frame[HeaderLen:]
	msg, rest := splitField(trailer)
	file, _ := splitField(rest)

	return LogRecord{
		Timestamp: binary.LittleEndian.Uint32(header[TimestampOffset : TimestampOffset+4]),
		Line:      binary.LittleEndian.Uint16(header[LineOffset : LineOffset+2]),
		Message:   bytes.TrimRight(msg, "\n"),
		File:      file,
	}
}

// splitField cuts s at the first FieldSeparator. Without a separator the
// whole of s is the field and rest is empty.
func splitField(s []byte) (field, rest []byte) {
	i := bytes.IndexByte(s, FieldSeparator)
	if i < 0 {
		return s, nil
	}
	return s[:i], s[i+1:]
}
