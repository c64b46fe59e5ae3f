// Package exchange implements the Buffer Store: the per-invocation table of
// exchange buffers addressed by opaque 32-bit handles, and the only code that
// copies bytes in and out of guest memory.
//
// Guest misuse never panics here. Unknown handles read as empty, failed
// handle-returning operations return Sentinel, and out-of-range guest memory
// copies nothing.
package exchange
