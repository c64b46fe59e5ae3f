package exchange

import (
	"encoding/binary"
)

// DefaultMaxGuestArgument bounds how many bytes a single guest-supplied
// pointer/length argument may claim (1 MiB).
const DefaultMaxGuestArgument = 1 << 20

// GuestMemory is the linear memory of a guest instance. wazero's api.Memory
// satisfies it.
type GuestMemory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// ReadBytes copies length bytes at ptr out of guest memory. It fails when the
// range is out of bounds or longer than limit.
func ReadBytes(mem GuestMemory, ptr, length, limit uint32) ([]byte, bool) {
	if length > limit {
		return nil, false
	}
	if length == 0 {
		return []byte{}, true
	}
	if mem == nil {
		return nil, false
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, false
	}
	// the view aliases guest memory, which the guest may overwrite
	return clone(view), true
}

// ReadString is ReadBytes returning a string.
func ReadString(mem GuestMemory, ptr, length, limit uint32) (string, bool) {
	b, ok := ReadBytes(mem, ptr, length, limit)
	if !ok {
		return "", false
	}
	return string(b), true
}

// ReadInt32s reads count little-endian i32 values at ptr.
func ReadInt32s(mem GuestMemory, ptr, count, limit uint32) ([]int32, bool) {
	if uint64(count)*4 > uint64(limit) {
		return nil, false
	}
	b, ok := ReadBytes(mem, ptr, count*4, limit)
	if !ok {
		return nil, false
	}
	out := make([]int32, count)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}
