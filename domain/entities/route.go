package entities

import (
	"fmt"
	"strings"
)

// HandlerKind selects what a route resolves to.
type HandlerKind string

const (
	// HandlerFunction routes invoke an entry point of a guest module.
	HandlerFunction HandlerKind = "function"
	// HandlerStaticBlob routes serve a registered blob as-is.
	HandlerStaticBlob HandlerKind = "static_blob"
)

// RouteHandler is the target of a route.
type RouteHandler struct {
	Kind HandlerKind `json:"kind"`

	// Module is a blob reference (name or techID://<id>) holding the module
	// code. Function routes only.
	Module string `json:"module,omitempty"`

	// EntryPoint is the exported function to call. Function routes only.
	EntryPoint string `json:"entry_point,omitempty"`

	// Blob is a blob reference served by static routes.
	Blob string `json:"blob,omitempty"`

	// Data is an opaque string handed to the guest as x-moc-plug-data.
	Data string `json:"data,omitempty"`

	Tags []string `json:"tags,omitempty"`
}

// Validate checks that the handler fields required by its kind are present.
func (h RouteHandler) Validate() error {
	switch h.Kind {
	case HandlerFunction:
		if h.Module == "" || h.EntryPoint == "" {
			return fmt.Errorf("function handler requires module and entry point")
		}
	case HandlerStaticBlob:
		if h.Blob == "" {
			return fmt.Errorf("static handler requires a blob reference")
		}
	default:
		return fmt.Errorf("unknown handler kind %q", h.Kind)
	}
	return nil
}

// Route binds a method and a path pattern to a handler. Patterns are
// slash-separated; a segment written as :name binds that segment.
type Route struct {
	Method  string       `json:"method"`
	Pattern string       `json:"pattern"`
	Handler RouteHandler `json:"handler"`
}

// NormalizeMethod upper-cases a method so lookups are case-insensitive.
func NormalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}
