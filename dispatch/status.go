package dispatch

import (
	"github.com/moc-dev/moc-runtime/domain/entities"
)

// Statistics returns the dispatch counters.
func (d *Dispatcher) Statistics() entities.Statistics {
	return entities.Statistics{
		Requests:       d.requests.Load(),
		Invocations:    d.invocations.Load(),
		Rejected:       d.rejected.Load(),
		InternalErrors: d.internalErrors.Load(),
		StartedAt:      d.startedAt.UnixMilli(),
	}
}

// Status assembles the runtime status document.
func (d *Dispatcher) Status() (entities.Status, error) {
	st := entities.Status{
		Plugs:      d.svc.Routes.List(),
		Filters:    d.filters(),
		Statistics: d.Statistics(),
	}
	if d.svc.Blobs == nil {
		return st, nil
	}

	names, err := d.svc.Blobs.Names()
	if err != nil {
		return st, err
	}
	blobs, err := d.svc.Blobs.List()
	if err != nil {
		return st, err
	}
	st.BlobNames = names
	st.Blobs = blobs
	return st, nil
}
