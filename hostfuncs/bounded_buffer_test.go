package hostfuncs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedBuffer(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		writes  []string
		want    string
		dropped int64
	}{
		{name: "under limit", limit: 64, writes: []string{"HTTP/1.1 200 OK\r\n"}, want: "HTTP/1.1 200 OK\r\n"},
		{name: "exactly at limit", limit: 4, writes: []string{"abcd"}, want: "abcd"},
		{name: "single write over", limit: 8, writes: []string{"status: 201"}, want: "status: ", dropped: 3},
		{name: "split across writes", limit: 6, writes: []string{"abc", "def", "ghi"}, want: "abcdef", dropped: 3},
		{name: "boundary inside write", limit: 4, writes: []string{"ab", "cdef", "gh"}, want: "abcd", dropped: 4},
		{name: "zero limit", limit: 0, writes: []string{"x", "yz"}, want: "", dropped: 3},
		{name: "negative limit", limit: -5, writes: []string{"abc"}, want: "", dropped: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewBoundedBuffer(tt.limit)
			for _, w := range tt.writes {
				n, err := buf.Write([]byte(w))
				require.NoError(t, err)
				// io.Writer contract: report the full length even when dropped
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, string(buf.Bytes()))
			assert.Equal(t, len(tt.want), buf.Len())
			assert.Equal(t, tt.dropped, buf.Dropped)
			assert.Equal(t, tt.dropped > 0, buf.Truncated())
		})
	}
}
