package wireformat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePairs_ValueBeforeName(t *testing.T) {
	b := EncodePairs([]Pair{{Name: "k", Value: "vv"}})

	require.Len(t, b, 4+4+2+4+1)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(b[0:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(b[4:]))
	assert.Equal(t, "vv", string(b[8:10]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(b[10:]))
	assert.Equal(t, "k", string(b[14:15]))
}

func TestDecodeMap_RoundTrip(t *testing.T) {
	in := map[string]string{
		"content-type": "application/json",
		"x-moc-method": "POST",
		"empty":        "",
		"bin":          "\x00\xff\x01",
	}

	out, err := DecodeMap(EncodeMap(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeMap_DuplicateLastWins(t *testing.T) {
	b := EncodePairs([]Pair{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2"},
		{Name: "a", Value: "3"},
	})

	pairs, err := DecodePairs(b)
	require.NoError(t, err)
	assert.Len(t, pairs, 3, "all entries survive on the wire")

	m, err := DecodeMap(b)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "3", "b": "2"}, m)
}

func TestDecodePairs_Empty(t *testing.T) {
	pairs, err := DecodePairs(EncodePairs(nil))
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestDecodePairs_Malformed(t *testing.T) {
	valid := EncodePairs([]Pair{{Name: "name", Value: "value"}})

	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{"empty", nil, ErrTruncated},
		{"short count", []byte{1, 0}, ErrTruncated},
		{"cut inside frame", valid[:len(valid)-2], ErrTruncated},
		{"cut before last frame", valid[:4+4+5], ErrTruncated},
		{"huge count", []byte{0xff, 0xff, 0xff, 0xff}, ErrTruncated},
		{"odd count", EncodeStrings([]string{"lonely"}), ErrOddCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePairs(tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStrings_RoundTrip(t *testing.T) {
	args := []string{"guest.wasm", "--verbose", "", "x y"}

	out, err := DecodeStrings(EncodeStrings(args))
	require.NoError(t, err)
	assert.Equal(t, args, out)

	_, err = DecodeStrings([]byte{3, 0, 0, 0})
	assert.ErrorIs(t, err, ErrTruncated)
}
