package ports

import (
	"context"
	"io"

	"github.com/moc-dev/moc-runtime/domain/entities"
)

// ModuleCall describes one entry into a sandboxed module.
type ModuleCall struct {
	// TechID identifies the code bytes; engines may cache compilations by it.
	TechID string
	Name   string
	Code   []byte

	Mode       entities.CallMode
	EntryPoint string
	Args       []int32

	// POSIX mode only.
	Argv   []string
	Stdin  io.Reader
	Stdout io.Writer
}

// Engine executes guest modules of one content type. Capability calls made by
// the guest reach the host through values carried in ctx.
type Engine interface {
	// Execute runs the call to completion and returns the guest's result:
	// the entry point's i32 return in direct mode or the exit code in POSIX
	// mode.
	Execute(ctx context.Context, call ModuleCall) (int32, error)

	Close(ctx context.Context) error
}
