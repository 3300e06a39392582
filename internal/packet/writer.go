package packet

// A Writer is a cursor over a caller-owned byte slice. Nothing is ever
// allocated; writes past the end of the slice fail with ErrShortBuffer.
type Writer struct {
	buffer []byte
	offset int
}

func NewWriter(buffer []byte) *Writer {
	return &Writer{buffer, 0}
}

func (w *Writer) WriteUint8(v uint8) error {
	if w.Available() < 1 {
		return ErrShortBuffer
	}
	w.buffer[w.offset] = v
	w.offset++
	return nil
}

func (w *Writer) WriteUint16(v uint16) error {
	if w.Available() < 2 {
		return ErrShortBuffer
	}
	networkOrder.PutUint16(w.buffer[w.offset:], v)
	w.offset += 2
	return nil
}

func (w *Writer) WriteUint24(v uint32) error {
	if w.Available() < 3 {
		return ErrShortBuffer
	}
	w.buffer[w.offset] = byte(v >> 16)
	w.buffer[w.offset+1] = byte(v >> 8)
	w.buffer[w.offset+2] = byte(v)
	w.offset += 3
	return nil
}

func (w *Writer) WriteUint32(v uint32) error {
	if w.Available() < 4 {
		return ErrShortBuffer
	}
	networkOrder.PutUint32(w.buffer[w.offset:], v)
	w.offset += 4
	return nil
}

func (w *Writer) WriteUint64(v uint64) error {
	if w.Available() < 8 {
		return ErrShortBuffer
	}
	networkOrder.PutUint64(w.buffer[w.offset:], v)
	w.offset += 8
	return nil
}

// Append writes the given bytes, if there is enough room.
func (w *Writer) Append(p []byte) error {
	if w.Available() < len(p) {
		return ErrShortBuffer
	}
	w.offset += copy(w.buffer[w.offset:], p)
	return nil
}

// ZeroPad writes n zero bytes.
func (w *Writer) ZeroPad(n int) error {
	if w.Available() < n {
		return ErrShortBuffer
	}
	for i := 0; i < n; i++ {
		w.buffer[w.offset+i] = 0
	}
	w.offset += n
	return nil
}

// WithLen8 reserves one byte, runs body, then back-patches the reserved
// byte with the length of what body wrote. On error the cursor is
// rewound to where it was before the reservation.
func (w *Writer) WithLen8(body func(*Writer) error) error {
	return w.withLen(1, body)
}

// WithLen16 is WithLen8 with a two-byte big-endian prefix.
func (w *Writer) WithLen16(body func(*Writer) error) error {
	return w.withLen(2, body)
}

// WithLen24 is WithLen8 with a three-byte big-endian prefix.
func (w *Writer) WithLen24(body func(*Writer) error) error {
	return w.withLen(3, body)
}

func (w *Writer) withLen(width int, body func(*Writer) error) error {
	if w.Available() < width {
		return ErrShortBuffer
	}
	mark := w.offset
	w.offset += width
	if err := body(w); err != nil {
		w.offset = mark
		return err
	}
	n := w.offset - mark - width
	if n >= 1<<(8*width) {
		w.offset = mark
		return ErrLengthOverflow
	}
	switch width {
	case 1:
		w.buffer[mark] = byte(n)
	case 2:
		networkOrder.PutUint16(w.buffer[mark:], uint16(n))
	case 3:
		w.buffer[mark] = byte(n >> 16)
		w.buffer[mark+1] = byte(n >> 8)
		w.buffer[mark+2] = byte(n)
	}
	return nil
}

// Advance moves the cursor forward over n bytes without writing them.
// Used to claim room that an in-place transform (e.g. an AEAD seal)
// fills behind the cursor.
func (w *Writer) Advance(n int) error {
	if w.Available() < n {
		return ErrShortBuffer
	}
	w.offset += n
	return nil
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.offset
}

// Available returns the unwritten capacity.
func (w *Writer) Available() int {
	return len(w.buffer) - w.offset
}

// Bytes returns the bytes written so far. The slice aliases the
// underlying buffer, so callers may patch it in place.
func (w *Writer) Bytes() []byte {
	return w.buffer[:w.offset]
}

// Truncate rewinds the cursor to n bytes.
func (w *Writer) Truncate(n int) {
	if n < w.offset {
		w.offset = n
	}
}

func (w *Writer) Reset() {
	w.offset = 0
}
