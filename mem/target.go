// Package mem provides the simulated bus targets that the transaction bridge
// executes against.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when an access falls outside a target.
var ErrOutOfRange = errors.New("access beyond the target capacity")

// ErrUnmapped is returned when no region of a Bus covers an address.
var ErrUnmapped = errors.New("no target mapped at address")

// A Target is a byte-addressed device that bus transactions execute against.
type Target interface {
	Read(address uint64, length uint64) ([]byte, error)
	Write(address uint64, data []byte) error
}

// PutScalar places the low byteSize bytes of value into a little-endian
// buffer.
func PutScalar(value uint32, byteSize int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)

	return buf[:byteSize]
}

// Scalar composes a little-endian value of up to 4 bytes.
func Scalar(data []byte) uint32 {
	var buf [4]byte

	copy(buf[:], data)

	return binary.LittleEndian.Uint32(buf[:])
}

// Region maps an address window of a Bus to a target. Addresses are
// translated so that the target sees offsets relative to Base.
type Region struct {
	Name   string
	Base   uint64
	Size   uint64
	Target Target
}

func (r Region) contains(address, length uint64) bool {
	return address >= r.Base && length <= r.Size &&
		address-r.Base <= r.Size-length
}

// A Bus routes accesses to the region that covers them.
type Bus struct {
	regions []Region
}

// NewBus creates a Bus with no region mapped.
func NewBus() *Bus {
	return &Bus{}
}

// Map adds a region to the bus. Overlapping regions are rejected.
func (b *Bus) Map(r Region) error {
	for _, existing := range b.regions {
		if r.Base < existing.Base+existing.Size &&
			existing.Base < r.Base+r.Size {
			return fmt.Errorf("region %s overlaps region %s",
				r.Name, existing.Name)
		}
	}

	b.regions = append(b.regions, r)

	return nil
}

func (b *Bus) find(address, length uint64) (Region, error) {
	for _, r := range b.regions {
		if r.contains(address, length) {
			return r, nil
		}
	}

	return Region{}, fmt.Errorf("%w: 0x%x (+%d)", ErrUnmapped, address, length)
}

// Read reads from the region that covers the access.
func (b *Bus) Read(address uint64, length uint64) ([]byte, error) {
	r, err := b.find(address, length)
	if err != nil {
		return nil, err
	}

	return r.Target.Read(address-r.Base, length)
}

// Write writes into the region that covers the access.
func (b *Bus) Write(address uint64, data []byte) error {
	r, err := b.find(address, uint64(len(data)))
	if err != nil {
		return err
	}

	return r.Target.Write(address-r.Base, data)
}

var _ Target = (*Bus)(nil)
