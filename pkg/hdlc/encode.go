package hdlc

// AppendEncoded stuffs payload, terminates it with Flag and appends the
// result to dst.
func AppendEncoded(dst, payload []byte) []byte {
	for _, b := range payload {
		if needsEscape(b) {
			dst = append(dst, Escape, b^EscapeMask)
			continue
		}
		dst = append(dst, b)
	}
	return append(dst, Flag)
}

// Encode returns payload as a single wire frame.
func Encode(payload []byte) []byte {
	// worst case every byte is stuffed
	return AppendEncoded(make([]byte, 0, 2*len(payload)+1), payload)
}
