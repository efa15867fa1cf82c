// Package fuzzinput turns a byte stream into the typed, bounded primitives
// the fuzz driver needs: fixed-width integers, booleans, floats in [0,1),
// and bounded ranges. It is a direct port of rcvalle/pcifuzzer's
// src/lib/input.c: given identical bytes it must produce an identical
// sequence of derived values, in order, so that a saved corpus file
// replays exactly the same operations every time.
package fuzzinput

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// ErrExhausted is returned (and remains sticky) once the underlying reader
// has produced fewer bytes than a read needed. The C original aborts the
// process at this point, on the theory that running out of input is the
// normal end-of-run signal for a corpus-driven fuzz iteration; returning an
// error instead lets the caller decide whether that's fatal (a CLI) or
// just "this iteration is over" (a go test -fuzz harness), per spec.md §7.
var ErrExhausted = errors.New("fuzzinput: input exhausted")

// Decoder sequentially decodes primitives from an underlying byte stream.
// It holds no state beyond the stream and a sticky exhausted flag: once a
// read comes up short, every subsequent call fails the same way.
type Decoder struct {
	r         io.Reader
	exhausted bool
}

// NewDecoder wraps r for sequential derivation.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) fill(buf []byte) error {
	if d.exhausted {
		return ErrExhausted
	}
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.exhausted = true
		return ErrExhausted
	}
	return nil
}

// ReadU8 consumes one byte in host order.
func (d *Decoder) ReadU8() (uint8, error) {
	var buf [1]byte
	if err := d.fill(buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadU16 consumes two bytes in host (little-endian) order.
func (d *Decoder) ReadU16() (uint16, error) {
	var buf [2]byte
	if err := d.fill(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// ReadU32 consumes four bytes in host (little-endian) order.
func (d *Decoder) ReadU32() (uint32, error) {
	var buf [4]byte
	if err := d.fill(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadU64 consumes eight bytes in host (little-endian) order.
func (d *Decoder) ReadU64() (uint64, error) {
	var buf [8]byte
	if err := d.fill(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadBytes8/16/32 are the `rep ins`-flavored block reads from the C
// original (input_read_string{8,16,32}): they fill buf one element at a
// time from the stream, in order.
func (d *Decoder) ReadBytes8(buf []uint8) error {
	for i := range buf {
		v, err := d.ReadU8()
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

func (d *Decoder) ReadBytes16(buf []uint16) error {
	for i := range buf {
		v, err := d.ReadU16()
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

func (d *Decoder) ReadBytes32(buf []uint32) error {
	for i := range buf {
		v, err := d.ReadU32()
		if err != nil {
			return err
		}
		buf[i] = v
	}
	return nil
}

// DeriveBool returns the low bit of one input byte.
func (d *Decoder) DeriveBool() (bool, error) {
	v, err := d.ReadU8()
	if err != nil {
		return false, err
	}
	return v&1 != 0, nil
}

// DeriveFloat returns a single-precision value in [0,1): a 32-bit input
// word divided by 2^32-1 (matching the C original's division by
// (float)UINT32_MAX).
func (d *Decoder) DeriveFloat() (float32, error) {
	v, err := d.ReadU32()
	if err != nil {
		return 0, err
	}
	return float32(v) / float32(math.MaxUint32), nil
}

// DeriveDouble returns a double-precision value nominally in [0,1): a
// 64-bit input word divided by 2^64-1. Dividing by UINT64_MAX rather than
// 2^64 makes this interval closed rather than half-open — a quirk of the
// original C source (src/lib/input.c) preserved here verbatim because
// DeriveRange's formula depends on it for replay-identical results; see
// spec.md §9.
func (d *Decoder) DeriveDouble() (float64, error) {
	v, err := d.ReadU64()
	if err != nil {
		return 0, err
	}
	return float64(v) / float64(math.MaxUint64), nil
}

// DeriveRange returns floor(DeriveDouble() * (end+1)) + begin, clamped into
// [begin, end] by construction except for the boundary case noted in
// spec.md §9 (DeriveDouble's closed interval can push the result to
// end+1+begin on exactly the maximal input). Reproduced as the original
// formula, not "fixed", so that byte-for-byte corpora keep replaying.
func (d *Decoder) DeriveRange(begin, end uint64) (uint64, error) {
	v, err := d.DeriveDouble()
	if err != nil {
		return 0, err
	}
	return uint64(v*float64(end+1)) + begin, nil
}

// DeriveFermatNumber returns 2^n+1 for n drawn uniformly from [1,31].
func (d *Decoder) DeriveFermatNumber() (uint64, error) {
	n, err := d.DeriveRange(1, 31)
	if err != nil {
		return 0, err
	}
	return (uint64(1) << n) + 1, nil
}

// DeriveMersenneNumber returns 2^n-1 for n drawn uniformly from [1,32].
func (d *Decoder) DeriveMersenneNumber() (uint64, error) {
	n, err := d.DeriveRange(1, 32)
	if err != nil {
		return 0, err
	}
	return (uint64(1) << n) - 1, nil
}
