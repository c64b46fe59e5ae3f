package dispatch

import (
	"time"

	"github.com/moc-dev/moc-runtime/domain/entities"
)

// Recorder receives dispatch and buffer events, for metrics.
type Recorder interface {
	BufferCreated()
	BufferFreed()
	RequestCompleted(method string, status int, state entities.InvocationState, elapsed time.Duration)
	InvocationCompleted(module string, mode entities.CallMode, failed bool, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) BufferCreated()                                                        {}
func (nopRecorder) BufferFreed()                                                          {}
func (nopRecorder) RequestCompleted(string, int, entities.InvocationState, time.Duration) {}
func (nopRecorder) InvocationCompleted(string, entities.CallMode, bool, time.Duration)    {}
