// Package dispatch drives the invocation state machine. It resolves inbound
// requests against the route table, materializes the input and output
// exchange buffers, runs filters and the guest entry point through an
// engine, and turns the guest status and output buffer into a response.
//
// Nested call_function requests from guests are served by the same
// Dispatcher, each in a child buffer store.
package dispatch
