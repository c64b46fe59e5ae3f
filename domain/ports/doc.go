// Package ports defines the interfaces the runtime core depends on. Storage,
// sandbox engines and outbound HTTP are provided by adapters under
// infrastructure/.
package ports
