package wire

import (
	"iter"

	"github.com/embertls/embertls/internal/packet"
)

// ListView is the inbound half of the list codec: a borrowed region of
// the record buffer that has been validated to be a concatenation of
// well-formed T values. Items are not materialized; iteration re-parses
// lazily. The view stays valid as long as the record buffer it borrows
// from is untouched.
type ListView[T any] struct {
	raw   []byte
	parse ParseFunc[T]
}

// ParseListView validates that the next n bytes of r are a concatenation
// of well-formed T values and returns a view over them.
func ParseListView[T any](r *packet.Reader, n int, parse ParseFunc[T]) (ListView[T], error) {
	sub, err := r.Slice(n)
	if err != nil {
		return ListView[T]{}, err
	}
	raw := sub.Bytes()
	for !sub.IsEmpty() {
		if _, err := parse(sub); err != nil {
			return ListView[T]{}, err
		}
	}
	return ListView[T]{raw, parse}, nil
}

// All re-parses the validated region item by item.
func (v ListView[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		r := packet.NewReader(v.raw)
		for !r.IsEmpty() {
			item, err := v.parse(r)
			if err != nil {
				// Validated at parse time; a failure here means the
				// record buffer was reused while the view was live.
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}

// Len counts the items by re-parsing.
func (v ListView[T]) Len() int {
	n := 0
	for range v.All() {
		n++
	}
	return n
}

// Raw exposes the borrowed wire bytes of the whole list body.
func (v ListView[T]) Raw() []byte {
	return v.raw
}

func (v ListView[T]) IsEmpty() bool {
	return len(v.raw) == 0
}

// ListBuilder is the outbound half: a sequence of T values and their
// encoder, written out exactly once.
type ListBuilder[T any] struct {
	items  iter.Seq[T]
	encode EncodeFunc[T]
}

func NewListBuilder[T any](encode EncodeFunc[T], items iter.Seq[T]) ListBuilder[T] {
	return ListBuilder[T]{items, encode}
}

// SliceBuilder is NewListBuilder over a slice.
func SliceBuilder[T any](encode EncodeFunc[T], items []T) ListBuilder[T] {
	return ListBuilder[T]{
		items: func(yield func(T) bool) {
			for _, it := range items {
				if !yield(it) {
					return
				}
			}
		},
		encode: encode,
	}
}

func (b ListBuilder[T]) EncodeTo(w *packet.Writer) error {
	var err error
	b.items(func(item T) bool {
		err = b.encode(w, item)
		return err == nil
	})
	return err
}

// The length-prefix width of a TLS list depends on the field; these
// helpers pair the prefix read/write with the view/builder.

func ParseList8[T any](r *packet.Reader, parse ParseFunc[T]) (ListView[T], error) {
	n, err := r.ReadUint8()
	if err != nil {
		return ListView[T]{}, err
	}
	return ParseListView(r, int(n), parse)
}

func ParseList16[T any](r *packet.Reader, parse ParseFunc[T]) (ListView[T], error) {
	n, err := r.ReadUint16()
	if err != nil {
		return ListView[T]{}, err
	}
	return ParseListView(r, int(n), parse)
}

func ParseList24[T any](r *packet.Reader, parse ParseFunc[T]) (ListView[T], error) {
	n, err := r.ReadUint24()
	if err != nil {
		return ListView[T]{}, err
	}
	return ParseListView(r, int(n), parse)
}

func EncodeList8[T any](w *packet.Writer, b ListBuilder[T]) error {
	return w.WithLen8(b.EncodeTo)
}

func EncodeList16[T any](w *packet.Writer, b ListBuilder[T]) error {
	return w.WithLen16(b.EncodeTo)
}

func EncodeList24[T any](w *packet.Writer, b ListBuilder[T]) error {
	return w.WithLen24(b.EncodeTo)
}
