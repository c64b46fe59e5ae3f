package wireformat

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a payload ends before the declared frames.
var ErrTruncated = errors.New("wireformat: truncated payload")

// ErrOddCount is returned when a header payload declares an odd string count.
var ErrOddCount = errors.New("wireformat: odd string count in header map")

const frameLen = 4

// Pair is a single header entry. Names and values are arbitrary bytes held in
// Go strings.
type Pair struct {
	Name  string
	Value string
}

// EncodePairs encodes pairs in order, keeping duplicates.
//
// NOTE: each pair is written as (value, name), not (name, value). Guest
// bindings decode by filing the string read at an odd counter as the key
// for the string read just before it, so the value must come first.
func EncodePairs(pairs []Pair) []byte {
	size := frameLen
	for _, p := range pairs {
		size += 2*frameLen + len(p.Name) + len(p.Value)
	}

	out := make([]byte, frameLen, size)
	binary.LittleEndian.PutUint32(out, uint32(2*len(pairs)))
	for _, p := range pairs {
		out = appendFrame(out, p.Value)
		out = appendFrame(out, p.Name)
	}
	return out
}

// EncodeMap encodes a map. Iteration order of the result is unspecified.
func EncodeMap(m map[string]string) []byte {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{Name: k, Value: v})
	}
	return EncodePairs(pairs)
}

// DecodePairs decodes a header payload into its wire-ordered entries.
func DecodePairs(b []byte) ([]Pair, error) {
	count, rest, err := readCount(b)
	if err != nil {
		return nil, err
	}
	if count%2 != 0 {
		return nil, ErrOddCount
	}

	pairs := make([]Pair, 0, count/2)
	var value string
	// The counter runs down from count. Even: value candidate. Odd: the key
	// the pending value is filed under.
	for counter := count; counter > 0; counter-- {
		var s string
		s, rest, err = readFrame(rest)
		if err != nil {
			return nil, fmt.Errorf("string %d of %d: %w", count-counter+1, count, err)
		}
		if counter%2 == 0 {
			value = s
			continue
		}
		pairs = append(pairs, Pair{Name: s, Value: value})
	}
	return pairs, nil
}

// DecodeMap decodes a header payload into a map. When a name repeats, the
// last entry on the wire wins.
func DecodeMap(b []byte) (map[string]string, error) {
	pairs, err := DecodePairs(b)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.Name] = p.Value
	}
	return m, nil
}

// EncodeStrings frames a plain list of strings (for example an argument
// vector). The count is the number of strings.
func EncodeStrings(list []string) []byte {
	size := frameLen
	for _, s := range list {
		size += frameLen + len(s)
	}
	out := make([]byte, frameLen, size)
	binary.LittleEndian.PutUint32(out, uint32(len(list)))
	for _, s := range list {
		out = appendFrame(out, s)
	}
	return out
}

// DecodeStrings is the inverse of EncodeStrings.
func DecodeStrings(b []byte) ([]string, error) {
	count, rest, err := readCount(b)
	if err != nil {
		return nil, err
	}
	list := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		var s string
		s, rest, err = readFrame(rest)
		if err != nil {
			return nil, fmt.Errorf("string %d of %d: %w", i+1, count, err)
		}
		list = append(list, s)
	}
	return list, nil
}

func appendFrame(out []byte, s string) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(s)))
	return append(out, s...)
}

func readCount(b []byte) (uint32, []byte, error) {
	if len(b) < frameLen {
		return 0, nil, ErrTruncated
	}
	count := binary.LittleEndian.Uint32(b)
	rest := b[frameLen:]
	// every frame needs at least its length prefix
	if uint64(count)*frameLen > uint64(len(rest)) {
		return 0, nil, ErrTruncated
	}
	return count, rest, nil
}

func readFrame(b []byte) (string, []byte, error) {
	if len(b) < frameLen {
		return "", nil, ErrTruncated
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[frameLen:]
	if uint64(n) > uint64(len(b)) {
		return "", nil, ErrTruncated
	}
	return string(b[:n]), b[n:], nil
}
