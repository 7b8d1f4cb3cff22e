package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// PatternKind selects how the bytes of a burst are generated.
type PatternKind int

// Pattern kinds.
const (
	PatternFixed PatternKind = iota
	PatternIncrement
	PatternRandom
)

func (k PatternKind) String() string {
	switch k {
	case PatternFixed:
		return "fixed"
	case PatternIncrement:
		return "increment"
	case PatternRandom:
		return "random"
	default:
		return fmt.Sprintf("PatternKind(%d)", int(k))
	}
}

// A Pattern describes a byte sequence that can be produced at any index
// without generating the bytes before it. The same pattern always produces
// the same bytes, which lets a read-side check regenerate the expected data
// of a write without the write's buffer.
type Pattern struct {
	Kind   PatternKind
	Start  byte
	Stride byte
	Seed   uint32
}

// FixedPattern repeats value.
func FixedPattern(value byte) Pattern {
	return Pattern{Kind: PatternFixed, Start: value}
}

// IncrementPattern counts up from start, wrapping at 8 bits.
func IncrementPattern(start byte) Pattern {
	return Pattern{Kind: PatternIncrement, Start: start, Stride: 1}
}

// RandomPattern produces pseudo-random bytes determined by seed.
func RandomPattern(seed uint32) Pattern {
	return Pattern{Kind: PatternRandom, Seed: seed}
}

// At returns the byte at index i.
func (p Pattern) At(i int) byte {
	switch p.Kind {
	case PatternFixed:
		return p.Start
	case PatternIncrement:
		return p.Start + byte(i)*p.Stride
	case PatternRandom:
		return randomByte(p.Seed, p.Start, i)
	default:
		panic(fmt.Sprintf("unknown pattern kind %d", p.Kind))
	}
}

// PatternByte returns byte i of p.
func PatternByte(p Pattern, i int) byte {
	return p.At(i)
}

// Fill writes the pattern into buf, starting at index 0.
func (p Pattern) Fill(buf []byte) {
	switch p.Kind {
	case PatternFixed:
		Sequential(buf, p.Start, 0)
	case PatternIncrement:
		Sequential(buf, p.Start, p.Stride)
	case PatternRandom:
		Random(buf, p.Seed, p.Start)
	default:
		panic(fmt.Sprintf("unknown pattern kind %d", p.Kind))
	}
}

// Sequential fills buf with start, start+stride, start+2*stride, ...
func Sequential(buf []byte, start, stride byte) {
	v := start
	for i := range buf {
		buf[i] = v
		v += stride
	}
}

// Random fills buf with the pseudo-random sequence selected by seed and start.
func Random(buf []byte, seed uint32, start byte) {
	var block uint64

	for i := range buf {
		if i%8 == 0 {
			block = randomBlock(seed, start, uint64(i/8))
		}

		buf[i] = byte(block >> (8 * uint(i%8)))
	}
}

func randomByte(seed uint32, start byte, i int) byte {
	block := randomBlock(seed, start, uint64(i/8))
	return byte(block >> (8 * uint(i%8)))
}

// randomBlock hashes (seed, start, block index) into 8 pattern bytes.
func randomBlock(seed uint32, start byte, index uint64) uint64 {
	var key [13]byte

	binary.LittleEndian.PutUint32(key[0:4], seed)
	key[4] = start
	binary.LittleEndian.PutUint64(key[5:13], index)

	return xxhash.Sum64(key[:])
}

// A BurstDescriptor describes a patterned burst before it is materialized.
type BurstDescriptor struct {
	Address uint64
	Length  int
	Pattern Pattern
}

// Materialize generates the bytes of the burst.
func (d BurstDescriptor) Materialize() []byte {
	buf := make([]byte, d.Length)
	d.Pattern.Fill(buf)

	return buf
}

// Compare checks data against the burst's pattern and returns the indices
// that differ.
func (d BurstDescriptor) Compare(data []byte) []int {
	var diff []int

	expected := d.Materialize()
	for i := range expected {
		if i >= len(data) || data[i] != expected[i] {
			diff = append(diff, i)
		}
	}

	return diff
}
