// Package entities provides the core domain types of the runtime: routes,
// blobs, filters and invocation states. They carry no behavior beyond
// validation and are shared by every other package.
package entities
