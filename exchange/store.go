package exchange

import (
	"sync"

	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
	"github.com/moc-dev/moc-runtime/wireformat"
)

// Handle addresses a buffer inside one Store.
type Handle = uint32

// Sentinel is returned by every handle-producing operation that fails.
const Sentinel Handle = 0xFFFFFFFF

// Observer receives buffer lifecycle events, for metrics.
type Observer interface {
	BufferCreated()
	BufferFreed()
}

type buffer struct {
	payload []byte
	headers []wireformat.Pair
}

// Store owns the buffers of one invocation. It is safe for concurrent use,
// although a guest instance is never re-entered concurrently.
type Store struct {
	buffers  map[Handle]*buffer
	observer Observer
	next     Handle
	mu       sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithObserver reports lifecycle events to o.
func WithObserver(o Observer) StoreOption {
	return func(s *Store) {
		s.observer = o
	}
}

// NewStore creates an empty Store. Handles start at 1.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		buffers: make(map[Handle]*buffer),
		next:    1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates an empty buffer.
func (s *Store) Create() Handle {
	return s.CreateWith(nil)
}

// CreateWith allocates a buffer holding a copy of payload and headers.
func (s *Store) CreateWith(payload []byte, headers ...wireformat.Pair) Handle {
	b := &buffer{payload: clone(payload)}
	if len(headers) > 0 {
		b.headers = append([]wireformat.Pair(nil), headers...)
	}

	s.mu.Lock()
	h := s.allocLocked()
	s.buffers[h] = b
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.BufferCreated()
	}
	return h
}

// allocLocked returns the next handle that is neither live nor the sentinel.
func (s *Store) allocLocked() Handle {
	for {
		h := s.next
		s.next++
		if h == Sentinel {
			continue
		}
		if _, live := s.buffers[h]; !live {
			return h
		}
	}
}

// Write replaces the payload of h.
func (s *Store) Write(h Handle, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[h]
	if !ok {
		return &domainerrors.UnknownBufferError{Handle: h}
	}
	b.payload = clone(payload)
	return nil
}

// Append adds bytes to the end of the payload of h.
func (s *Store) Append(h Handle, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[h]
	if !ok {
		return &domainerrors.UnknownBufferError{Handle: h}
	}
	b.payload = append(b.payload, p...)
	return nil
}

// WriteHeader appends a header entry to h. Duplicate names are kept.
func (s *Store) WriteHeader(h Handle, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[h]
	if !ok {
		return &domainerrors.UnknownBufferError{Handle: h}
	}
	b.headers = append(b.headers, wireformat.Pair{Name: name, Value: value})
	return nil
}

// Size returns the payload length of h, or 0 if h is unknown.
func (s *Store) Size(h Handle) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[h]
	if !ok {
		return 0
	}
	return uint32(len(b.payload))
}

// Bytes returns a copy of the payload of h.
func (s *Store) Bytes(h Handle) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[h]
	if !ok {
		return nil, false
	}
	return clone(b.payload), true
}

// Headers returns a copy of the header entries of h in insertion order.
func (s *Store) Headers(h Handle) ([]wireformat.Pair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[h]
	if !ok {
		return nil, false
	}
	return append([]wireformat.Pair(nil), b.headers...), true
}

// Header returns the last value written for name on h.
func (s *Store) Header(h Handle, name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[h]
	if !ok {
		return "", false
	}
	for i := len(b.headers) - 1; i >= 0; i-- {
		if b.headers[i].Name == name {
			return b.headers[i].Value, true
		}
	}
	return "", false
}

// Read copies the payload of h into guest memory at dest, writing at most
// destLen bytes, and returns the number of bytes written. With dest == 0 it
// only reports the payload length. Unknown handles and out-of-range
// destinations copy nothing and return 0.
func (s *Store) Read(h Handle, mem GuestMemory, dest, destLen uint32) uint32 {
	s.mu.Lock()
	b, ok := s.buffers[h]
	var payload []byte
	if ok {
		payload = b.payload
	}
	s.mu.Unlock()
	if !ok {
		return 0
	}

	if dest == 0 {
		return uint32(len(payload))
	}
	n := uint32(len(payload))
	if destLen < n {
		n = destLen
	}
	if n == 0 {
		return 0
	}
	if mem == nil || !mem.Write(dest, payload[:n]) {
		return 0
	}
	return n
}

// ReadHeaders creates a new buffer holding the wire encoding of the headers
// of h. It returns Sentinel if h is unknown.
func (s *Store) ReadHeaders(h Handle) Handle {
	headers, ok := s.Headers(h)
	if !ok {
		return Sentinel
	}
	return s.CreateWith(wireformat.EncodePairs(headers))
}

// CopyInto replaces the payload of dst with the payload of src (which may
// live in another Store) and appends src's headers.
func (s *Store) CopyInto(dst Handle, from *Store, src Handle) error {
	payload, ok := from.Bytes(src)
	if !ok {
		return &domainerrors.UnknownBufferError{Handle: src}
	}
	headers, _ := from.Headers(src)

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[dst]
	if !ok {
		return &domainerrors.UnknownBufferError{Handle: dst}
	}
	b.payload = payload
	b.headers = append(b.headers, headers...)
	return nil
}

// Free releases h. Freeing an unknown or already freed handle is a no-op.
func (s *Store) Free(h Handle) {
	s.mu.Lock()
	_, ok := s.buffers[h]
	delete(s.buffers, h)
	s.mu.Unlock()

	if ok && s.observer != nil {
		s.observer.BufferFreed()
	}
}

// Len returns the number of live buffers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// Close frees every live buffer.
func (s *Store) Close() {
	s.mu.Lock()
	n := len(s.buffers)
	s.buffers = make(map[Handle]*buffer)
	s.mu.Unlock()

	if s.observer != nil {
		for i := 0; i < n; i++ {
			s.observer.BufferFreed()
		}
	}
}

// Writer returns an io.Writer that appends to h. Writes to a freed buffer
// fail with UnknownBufferError.
func (s *Store) Writer(h Handle) *BufferWriter {
	return &BufferWriter{store: s, handle: h}
}

// BufferWriter appends to a buffer payload.
type BufferWriter struct {
	store  *Store
	handle Handle
}

// Write implements io.Writer.
func (w *BufferWriter) Write(p []byte) (int, error) {
	if err := w.store.Append(w.handle, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
