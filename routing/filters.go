package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/domain/entities"
	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
	"github.com/moc-dev/moc-runtime/domain/ports"
)

const filtersKey = "/filters"

// Filters is the ordered list of global request filters.
type Filters struct {
	kv      ports.KVStore
	logger  *zap.Logger
	filters []entities.Filter
	mu      sync.RWMutex
}

// NewFilters returns an empty list. When kv is non-nil, changes are persisted.
func NewFilters(kv ports.KVStore, logger *zap.Logger) *Filters {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filters{kv: kv, logger: logger.Named("filters")}
}

// Plug appends a filter and returns its id. Plugging an identical filter
// again returns the existing id.
func (f *Filters) Plug(module, entryPoint, data string) (string, error) {
	if module == "" || entryPoint == "" {
		return "", &domainerrors.DecodeError{What: "filter", Err: errors.New("module and entry point are required")}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.filters {
		if existing.Module == module && existing.EntryPoint == entryPoint && existing.Data == data {
			return existing.ID, nil
		}
	}

	filter := entities.Filter{
		ID:         uuid.NewString(),
		Module:     module,
		EntryPoint: entryPoint,
		Data:       data,
	}
	next := append(append([]entities.Filter(nil), f.filters...), filter)
	if err := f.persistLocked(next); err != nil {
		return "", err
	}
	f.filters = next
	f.logger.Info("filter plugged", zap.String("id", filter.ID), zap.String("module", module), zap.String("entry_point", entryPoint))
	return filter.ID, nil
}

// Unplug removes the filter with id. It reports whether one was removed.
func (f *Filters) Unplug(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := make([]entities.Filter, 0, len(f.filters))
	for _, filter := range f.filters {
		if filter.ID != id {
			next = append(next, filter)
		}
	}
	if len(next) == len(f.filters) {
		return false, nil
	}
	if err := f.persistLocked(next); err != nil {
		return false, err
	}
	f.filters = next
	f.logger.Info("filter unplugged", zap.String("id", id))
	return true, nil
}

// List returns a snapshot of the filters in execution order.
func (f *Filters) List() []entities.Filter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]entities.Filter(nil), f.filters...)
}

// Load replaces the in-memory list with the persisted one.
func (f *Filters) Load() error {
	if f.kv == nil {
		return nil
	}
	v, err := f.kv.Get([]byte(filtersKey))
	if errors.Is(err, ports.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return domainerrors.Internal("load filters", err)
	}
	var filters []entities.Filter
	if err := json.Unmarshal(v, &filters); err != nil {
		return domainerrors.Internal("load filters", err)
	}

	f.mu.Lock()
	f.filters = filters
	f.mu.Unlock()
	return nil
}

func (f *Filters) persistLocked(filters []entities.Filter) error {
	if f.kv == nil {
		return nil
	}
	b, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("marshal filters: %w", err)
	}
	if err := f.kv.Put([]byte(filtersKey), b); err != nil {
		return domainerrors.Internal("persist filters", err)
	}
	return nil
}
