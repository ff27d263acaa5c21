package hdlc

// Deframer splits a raw byte stream into frames. Bytes can be written in
// chunks of any size; a frame split across two writes is reassembled.
//
// The zero value is ready to use. A Deframer is not safe for concurrent use.
type Deframer struct {
	acc     []byte
	escaped bool
	ready   [][]byte
}

// NewDeframer returns an empty Deframer.
func NewDeframer() *Deframer {
	return &Deframer{}
}

// Write feeds p into the deframer. It never fails.
func (d *Deframer) Write(p []byte) (int, error) {
	for _, b := range p {
		d.push(b)
	}
	return len(p), nil
}

func (d *Deframer) push(b byte) {
	switch {
	case d.escaped:
		// a stuffed byte is data even when it is Flag or Escape
		d.acc = append(d.acc, b^EscapeMask)
		d.escaped = false
	case b == Flag:
		d.ready = append(d.ready, d.acc)
		d.acc = nil
	case b == Escape:
		d.escaped = true
	default:
		d.acc = append(d.acc, b)
	}
}

// Next pops the oldest completed frame. The returned frame may be empty
// when two flags were adjacent; callers decide whether to skip it.
func (d *Deframer) Next() ([]byte, bool) {
	if len(d.ready) == 0 {
		return nil, false
	}
	f := d.ready[0]
	d.ready[0] = nil
	d.ready = d.ready[1:]
	if len(d.ready) == 0 {
		d.ready = nil
	}
	return f, true
}

// Frames drains every completed frame.
func (d *Deframer) Frames() [][]byte {
	out := d.ready
	d.ready = nil
	return out
}

// Pending is the number of completed frames not yet drained.
func (d *Deframer) Pending() int {
	return len(d.ready)
}

// Buffered is the number of bytes accumulated for the frame in progress.
func (d *Deframer) Buffered() int {
	return len(d.acc)
}

// Flush ends the input. The unterminated frame in progress is returned if
// it has data; it is dropped if it ends in a dangling escape. The
// deframer is ready for a new stream afterwards.
func (d *Deframer) Flush() ([]byte, bool) {
	acc, escaped := d.acc, d.escaped
	d.acc, d.escaped = nil, false
	if escaped || len(acc) == 0 {
		return nil, false
	}
	return acc, true
}

// Reset discards all state, including completed frames.
func (d *Deframer) Reset() {
	d.acc = nil
	d.escaped = false
	d.ready = nil
}

// Split deframes a complete byte sequence in one call.
func Split(data []byte) [][]byte {
	var d Deframer
	d.Write(data)
	frames := d.Frames()
	if tail, ok := d.Flush(); ok {
		frames = append(frames, tail)
	}
	return frames
}
