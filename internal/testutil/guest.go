package testutil

import (
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/wireformat"
)

const guestMemorySize = 64 * 1024

// Guest wraps a capability table with the helpers a guest binding would
// offer. Reads go through guest memory with the two-phase read protocol.
type Guest struct {
	API *hostfuncs.API
	Mem Memory
}

// NewGuest binds a guest to api with a fresh memory.
func NewGuest(api *hostfuncs.API) *Guest {
	return &Guest{API: api, Mem: NewMemory(guestMemorySize)}
}

// ReadBuffer returns the payload of h, or nil when h is not readable.
func (g *Guest) ReadBuffer(h uint32) []byte {
	n := g.API.ReadBuffer(h, g.Mem, 0, 0)
	if n == 0 {
		return nil
	}
	if int(n) >= len(g.Mem) {
		g.Mem = NewMemory(int(n) + 1)
	}
	// offset 0 means "size only", so payloads land at 1.
	written := g.API.ReadBuffer(h, g.Mem, 1, n)
	out := make([]byte, written)
	copy(out, g.Mem[1:1+written])
	return out
}

// Headers decodes the headers of h.
func (g *Guest) Headers(h uint32) map[string]string {
	hh := g.API.ReadBufferHeaders(h)
	if hh == hostfuncs.StatusFailed {
		return nil
	}
	defer g.API.FreeBuffer(hh)
	m, err := wireformat.DecodeMap(g.ReadBuffer(hh))
	if err != nil {
		return nil
	}
	return m
}

// Input returns the input payload.
func (g *Guest) Input() []byte {
	return g.ReadBuffer(g.API.GetInputBufferID())
}

// InputHeaders returns the input headers.
func (g *Guest) InputHeaders() map[string]string {
	return g.Headers(g.API.GetInputBufferID())
}

// Respond sets the output payload and headers.
func (g *Guest) Respond(body []byte, headers ...string) {
	out := g.API.GetOutputBufferID()
	for i := 0; i+1 < len(headers); i += 2 {
		g.API.WriteBufferHeader(out, headers[i], headers[i+1])
	}
	g.API.WriteBuffer(out, body)
}
