package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_Disabled(t *testing.T) {
	assert.Nil(t, newLimiter(0, 10, 0))
	assert.Nil(t, newLimiter(1, 0, 0))

	var l *limiter
	assert.True(t, l.allow("anyone"))
}

func TestLimiter_PerKey(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))
	assert.True(t, l.allow(" "), "empty keys are not limited")

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"))
}

func TestLimiter_EvictsIdle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := newLimiter(1000, 1000, time.Minute)
	l.now = func() time.Time { return now }

	l.allow("idle")
	now = now.Add(time.Hour)
	for i := 0; i < 511; i++ {
		l.allow("busy")
	}
	assert.NotContains(t, l.byKey, "idle")
	assert.Contains(t, l.byKey, "busy")
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientKey(r))

	r.RemoteAddr = "unix"
	assert.Equal(t, "unix", clientKey(r))
}
