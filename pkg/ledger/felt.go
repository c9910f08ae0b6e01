package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
)

// Modulus is the prime of the ledger's base field: 2^64 - 2^32 + 1.
const Modulus uint64 = 0xFFFFFFFF00000001

// Felt is a canonical field element (always < Modulus).
type Felt uint64

// NewFelt returns v as a field element, rejecting non-canonical values.
func NewFelt(v uint64) (Felt, error) {
	if v >= Modulus {
		return 0, fmt.Errorf("value %d exceeds field modulus", v)
	}
	return Felt(v), nil
}

func (f Felt) Uint64() uint64 { return uint64(f) }

func (f Felt) String() string { return strconv.FormatUint(uint64(f), 10) }

// Felts are encoded as decimal strings so that values above 2^53 survive
// JSON consumers that parse numbers as doubles.
func (f Felt) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(f), 10))
}

func (f *Felt) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n uint64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("felt: %w", err)
		}
		s = strconv.FormatUint(n, 10)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("felt: %w", err)
	}
	out, err := NewFelt(v)
	if err != nil {
		return err
	}
	*f = out
	return nil
}

// Word is four field elements, the ledger's native digest and storage unit.
type Word [4]Felt

var EmptyWord Word

func (w Word) Felts() []Felt { return []Felt{w[0], w[1], w[2], w[3]} }

func (w Word) IsEmpty() bool { return w == EmptyWord }

// appendFelts writes each element as 8 little-endian bytes.
func appendFelts(dst []byte, fs ...Felt) []byte {
	var buf [8]byte
	for _, f := range fs {
		binary.LittleEndian.PutUint64(buf[:], uint64(f))
		dst = append(dst, buf[:]...)
	}
	return dst
}
