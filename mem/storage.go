package mem

import (
	"fmt"
	"sync"
)

// Units of storage capacity.
const (
	KB uint64 = 1 << 10
	MB uint64 = 1 << 20
	GB uint64 = 1 << 30
)

// DefaultUnitSize is the size of the lazily allocated storage units.
const DefaultUnitSize uint64 = 4096

// A Storage keeps the data of the simulated bus target.
//
// Storage is managed in units, similar to pages. A unit is only allocated when
// an address inside it is touched, so a Storage can span a full 32-bit
// address space while only holding the units that a test actually uses.
// Untouched bytes read as zero.
type Storage struct {
	sync.RWMutex

	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity.
func NewStorage(capacity uint64) *Storage {
	return NewStorageWithUnitSize(capacity, DefaultUnitSize)
}

// NewStorageWithUnitSize creates a storage object whose units are of the given
// size.
func NewStorageWithUnitSize(capacity, unitSize uint64) *Storage {
	if unitSize == 0 {
		panic("storage unit size cannot be 0")
	}

	return &Storage{
		unitSize: unitSize,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of bytes that the storage can address.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// NumAllocatedUnits returns how many storage units have been touched.
func (s *Storage) NumAllocatedUnits() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.data)
}

func (s *Storage) checkRange(address, length uint64) error {
	if address >= s.capacity || length > s.capacity-address {
		return fmt.Errorf("%w: [0x%x, 0x%x) capacity 0x%x",
			ErrOutOfRange, address, address+length, s.capacity)
	}

	return nil
}

func (s *Storage) unit(address uint64) []byte {
	baseAddr, _ := s.parseAddress(address)

	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

// Read returns length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	if err := s.checkRange(address, length); err != nil {
		return nil, err
	}

	s.RLock()
	defer s.RUnlock()

	res := make([]byte, length)
	currAddr := address
	offset := uint64(0)

	for offset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		n := min(length-offset, baseAddr+s.unitSize-currAddr)

		if unit, ok := s.data[baseAddr]; ok {
			copy(res[offset:offset+n], unit[inUnitAddr:inUnitAddr+n])
		}

		offset += n
		currAddr += n
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if err := s.checkRange(address, length); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	currAddr := address
	offset := uint64(0)

	for offset < length {
		unit := s.unit(currAddr)
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		n := min(length-offset, baseAddr+s.unitSize-currAddr)

		copy(unit[inUnitAddr:inUnitAddr+n], data[offset:offset+n])
		offset += n
		currAddr += n
	}

	return nil
}

var _ Target = (*Storage)(nil)
