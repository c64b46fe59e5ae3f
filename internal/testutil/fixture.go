package testutil

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/blobs"
	"github.com/moc-dev/moc-runtime/hostfuncs"
	"github.com/moc-dev/moc-runtime/infrastructure/levelstore"
	"github.com/moc-dev/moc-runtime/persistence"
	"github.com/moc-dev/moc-runtime/routing"
)

// FixedTime is the time the fixture clock starts at.
var FixedTime = time.Unix(1700000000, 250*int64(time.Millisecond))

// Fixture is a set of runtime services over an in-memory database.
type Fixture struct {
	Services *hostfuncs.Services
	KV       *levelstore.Store
	Clock    *clock.Mock
	Engine   *NativeEngine
}

// NewFixture builds services backed by in-memory storage, a mock clock set
// to FixedTime and an empty native engine. Storage is closed with the test.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()

	kv, err := levelstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	mock := clock.NewMock()
	mock.Set(FixedTime)

	logger := zap.NewNop()
	return &Fixture{
		Services: &hostfuncs.Services{
			Persistence: persistence.New(kv),
			Routes:      routing.NewTable(kv, logger),
			Filters:     routing.NewFilters(kv, logger),
			Blobs:       blobs.NewRegistry(kv, logger),
			KV:          kv,
			Clock:       mock,
			Logger:      logger,
		},
		KV:     kv,
		Clock:  mock,
		Engine: NewNativeEngine(),
	}
}

// Install defines m on the fixture engine and registers it as a named
// module blob.
func (f *Fixture) Install(t *testing.T, name string, m NativeModule) string {
	t.Helper()
	f.Engine.Define(name, m)
	id, err := f.Services.Blobs.RegisterWithName(name, NativeContentType, []byte(name))
	require.NoError(t, err)
	return id
}
