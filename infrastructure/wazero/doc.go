// Package wazero runs guest modules on the wazero WebAssembly runtime.
//
// Engine implements ports.Engine. It owns one runtime with WASI preview 1
// and the "moc" capability host module instantiated, compiles each module
// once per technical id and gives every call a fresh instance:
//
//   - direct mode calls a named export with i32 arguments and returns its
//     i32 result
//   - POSIX mode runs _start with argv, stdin and stdout wired to the call,
//     and returns the exit code
//
// Capability functions find the invocation's hostfuncs.API in the call
// context, so one runtime serves every invocation concurrently.
//
// # Basic Usage
//
//	engine, err := wazero.NewEngine(ctx, logger,
//	    wazero.WithMemoryLimitPages(256),
//	)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close(ctx)
//
//	d := dispatch.New(services, dispatch.WithEngine(wazero.ContentType, engine))
//
// # Admin Operations
//
// WithRegistry exports the operations of a hostfuncs.HandlerRegistry from a
// second host module ("moc_admin"). Those functions use the packed i64
// ptr+len convention and JSON payloads; the guest must export "allocate".
package wazero
