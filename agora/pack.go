package agora

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
)

// writer packs little-endian fields. The first error sticks and later
// writes are ignored.
type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) uint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// bytes writes a uint16 length prefix followed by b.
func (w *writer) bytes(b []byte) {
	if len(b) > math.MaxUint16 {
		if w.err == nil {
			w.err = apierrors.Invalid("field", fmt.Sprintf("is %d bytes, limit is %d", len(b), math.MaxUint16))
		}

		return
	}

	w.uint16(uint16(len(b)))
	w.buf.Write(b)
}

func (w *writer) string(s string) {
	w.bytes([]byte(s))
}

// privileges writes a count followed by {id, expire} pairs in ascending
// id order.
func (w *writer) privileges(m map[uint16]uint32) {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, int(id))
	}

	sort.Ints(ids)

	w.uint16(uint16(len(ids)))

	for _, id := range ids {
		w.uint16(uint16(id))
		w.uint32(m[uint16(id)])
	}
}

// reader unpacks little-endian fields. Reading past the end sets err to
// ErrMalformedToken and returns zero values from then on.
type reader struct {
	buf []byte
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}

	if len(r.buf) < n {
		r.err = apierrors.ErrMalformedToken
		return nil
	}

	b := r.buf[:n]
	r.buf = r.buf[n:]

	return b
}

func (r *reader) uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

func (r *reader) bytes() []byte {
	n := r.uint16()
	b := r.next(int(n))

	return append([]byte(nil), b...)
}

func (r *reader) string() string {
	return string(r.bytes())
}

func (r *reader) privileges() map[uint16]uint32 {
	n := r.uint16()
	m := make(map[uint16]uint32, n)

	for i := 0; i < int(n) && r.err == nil; i++ {
		id := r.uint16()
		m[id] = r.uint32()
	}

	return m
}
