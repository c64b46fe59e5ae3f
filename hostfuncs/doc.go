// Package hostfuncs implements the capabilities the runtime grants to guest
// modules, independent of any WebAssembly engine.
//
// API is the per-invocation capability table. Engine adapters translate guest
// calls (pointers, lengths and handles) into API method calls; every method
// degrades to a zero value or exchange.Sentinel instead of failing the guest.
//
// HandlerRegistry exposes named JSON operations (register a blob, plug a
// route, call a function, ...) to the admin HTTP API, wrapped in middleware
// for panic recovery and logging.
package hostfuncs
