// Package wireformat implements the binary framing used to move ordered
// header maps and string lists across the host/guest boundary. These layouts
// are part of the guest ABI and must remain stable.
//
// A header map is encoded as a little-endian u32 string count followed by that
// many (u32 length, bytes) frames. The count is twice the number of pairs.
// Plain string lists use the same frames with a count equal to the number of
// strings.
package wireformat
