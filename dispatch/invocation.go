package dispatch

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/domain/entities"
	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
)

// invocation tracks one run of the state machine.
type invocation struct {
	logger *zap.Logger
	id     string
	trace  bool
	state  entities.InvocationState
}

func newInvocation(logger *zap.Logger, trace bool) *invocation {
	id := uuid.NewString()
	return &invocation{
		id:     id,
		state:  entities.StateReceived,
		logger: logger.With(zap.String("invocation", id)),
		trace:  trace,
	}
}

func (i *invocation) advance(next entities.InvocationState) error {
	if !i.state.CanTransition(next) {
		return domainerrors.Internal("dispatch", fmt.Errorf("illegal transition %s -> %s", i.state, next))
	}
	if i.trace {
		i.logger.Info("state", zap.Stringer("from", i.state), zap.Stringer("to", next))
	}
	i.state = next
	return nil
}

// reject moves to REJECTED. It is a no-op past ROUTED.
func (i *invocation) reject() {
	if i.state.CanTransition(entities.StateRejected) {
		_ = i.advance(entities.StateRejected)
	}
}

// fail ends an invocation that hit an error. Before buffers are prepared that
// is a rejection; afterwards the invocation completes with an error status.
func (i *invocation) fail() {
	switch i.state {
	case entities.StateReceived, entities.StateRouted:
		i.reject()
	case entities.StateBuffersPrepared:
		_ = i.advance(entities.StateExecuting)
		_ = i.advance(entities.StateCompleted)
	case entities.StateExecuting:
		_ = i.advance(entities.StateCompleted)
	}
}
