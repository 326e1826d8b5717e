package vm

import "github.com/citahub/cita-sub002/common"

// Memory is the interpreter's linear, byte-addressable memory. It grows
// monotonically in 32-byte words and is never shrunk within a frame
// (spec §4.1).
type Memory struct {
	store []byte
}

// NewMemory returns a new, empty Memory.
func NewMemory() *Memory { return &Memory{} }

// Resize grows memory to at least size bytes, rounded up to a whole number
// of 32-byte words (the unit memoryGasCost charges for), zero-filling the
// extension.
func (m *Memory) Resize(size uint64) {
	size = words(size) * 32
	if uint64(len(m.store)) < size {
		m.store = append(m.store, make([]byte, size-uint64(len(m.store)))...)
	}
}

// Set copies value into memory at offset; the range [offset,offset+size)
// must already be within bounds (callers resize first).
func (m *Memory) Set(offset, size uint64, value []byte) {
	if size == 0 {
		return
	}
	copy(m.store[offset:offset+size], value)
}

// Set32 writes a 32-byte word at offset, big-endian, zero-padded.
func (m *Memory) Set32(offset uint64, val *common.U256) {
	copy(m.store[offset:offset+32], make([]byte, 32))
	b := val.Bytes()
	copy(m.store[offset+32-uint64(len(b)):offset+32], b)
}

// Get returns a copy of memory contents at [offset, offset+size).
func (m *Memory) Get(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	out := make([]byte, size)
	copy(out, m.store[offset:offset+size])
	return out
}

// GetPtr returns a direct slice reference into memory (callers must not
// retain it past the next mutation).
func (m *Memory) GetPtr(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return m.store[offset : offset+size]
}

// Len returns the current memory size in bytes.
func (m *Memory) Len() int { return len(m.store) }

// Data returns the full backing slice.
func (m *Memory) Data() []byte { return m.store }

// words returns the memory size rounded up to the next 32-byte word.
func words(size uint64) uint64 {
	return (size + 31) / 32
}
