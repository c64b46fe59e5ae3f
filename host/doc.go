// Package host assembles the runtime: storage, the blob registry, routes,
// filters, the sandbox engines and the dispatcher that ties them together.
//
// A Runtime is created once per process with New and released with Close.
// It also exposes the administration operations (register blobs, plug and
// unplug routes and filters, call functions, report status, export the
// database) as a hostfuncs.HandlerRegistry, shared by the HTTP admin API and
// by guests importing the admin host module.
package host
