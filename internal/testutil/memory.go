package testutil

// Memory is a bounds-checked byte slice standing in for guest linear memory.
type Memory []byte

// NewMemory allocates size bytes of guest memory.
func NewMemory(size int) Memory {
	return make(Memory, size)
}

// Read implements exchange.GuestMemory.
func (m Memory) Read(offset, n uint32) ([]byte, bool) {
	if uint64(offset)+uint64(n) > uint64(len(m)) {
		return nil, false
	}
	return m[offset : offset+n], true
}

// Write implements exchange.GuestMemory.
func (m Memory) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(m)) {
		return false
	}
	copy(m[offset:], v)
	return true
}
