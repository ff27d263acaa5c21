package protocol

import (
	"bytes"
	"fmt"
	"io"
)

// WriteTo renders r as
//
//	<timestamp, 10 columns>: <message> (<file>:<line>)
//
// followed by a newline. Message and file bytes are written as is.
func (r LogRecord) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, "%10d: %s (%s:%d)\n", r.Timestamp, r.Message, r.File, r.Line)
	return int64(n), err
}

func (r LogRecord) String() string {
	var b bytes.Buffer
	r.WriteTo(&b)
	return string(bytes.TrimSuffix(b.Bytes(), []byte("\n")))
}

// WriteTo renders u as a hex dump of the raw frame.
func (u Unknown) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, "[unknown packet: %x]\n", u.Raw)
	return int64(n), err
}

func (u Unknown) String() string {
	return fmt.Sprintf("[unknown packet: %x]", u.Raw)
}

// Write decodes frame and renders the result to w.
func Write(w io.Writer, frame []byte) (Packet, error) {
	p := Decode(frame)
	if _, err := p.WriteTo(w); err != nil {
		return p, err
	}
	return p, nil
}
