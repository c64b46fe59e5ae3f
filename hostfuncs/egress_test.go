package hostfuncs

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEgressPolicy_Check(t *testing.T) {
	policy := DefaultEgressPolicy()
	policy.lookup = func(host string) ([]net.IP, error) {
		switch host {
		case "public.example":
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		case "internal.example":
			return []net.IP{net.ParseIP("10.1.2.3")}, nil
		}
		return nil, errors.New("no such host")
	}

	tests := []struct {
		name       string
		address    string
		allowed    bool
		reason     string
		resolvedIP string
	}{
		{"public name", "public.example", true, "", "93.184.216.34"},
		{"public name with port", "public.example:8080", true, "", "93.184.216.34"},
		{"rebinding to private", "internal.example", false, "private addresses blocked (RFC 1918)", ""},
		{"loopback", "127.0.0.1", false, "localhost/loopback addresses blocked", ""},
		{"ipv6 loopback", "[::1]:80", false, "localhost/loopback addresses blocked", ""},
		{"link local", "169.254.169.254", false, "link-local addresses blocked", ""},
		{"multicast", "224.0.0.1", false, "multicast addresses blocked", ""},
		{"unspecified", "0.0.0.0", false, "unspecified address blocked", ""},
		{"unresolvable", "nowhere.example", false, "DNS resolution failed: no such host", ""},
		{"empty", "", false, "empty host", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Check(tt.address)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.resolvedIP, d.ResolvedIP)
		})
	}
}

func TestEgressPolicy_Lists(t *testing.T) {
	policy := DefaultEgressPolicy()
	policy.ResolveDNS = false
	policy.Allowlist = []string{"10.0.0.0/8", "*.trusted.internal"}
	policy.Blocklist = []string{"evil.example", "203.0.113.0/24"}

	assert.True(t, policy.Check("10.4.4.4").Allowed, "allowlist bypasses private block")
	assert.True(t, policy.Check("api.trusted.internal").Allowed)
	assert.False(t, policy.Check("evil.example").Allowed)
	assert.False(t, policy.Check("203.0.113.9").Allowed)
	assert.False(t, policy.Check("[::ffff:203.0.113.9]:443").Allowed, "mapped addresses match IPv4 prefixes")
	assert.True(t, policy.Check("hostname-only").Allowed)
}

func TestPermissiveEgressPolicy(t *testing.T) {
	d := PermissiveEgressPolicy().Check("127.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, "127.0.0.1", d.ResolvedIP)
}

func TestEgressPolicy_MulticastBeforeLinkLocal(t *testing.T) {
	policy := DefaultEgressPolicy()

	// 224.0.0.0/24 and ff02::/16 are link-local multicast
	assert.Equal(t, "multicast addresses blocked", policy.Check("224.0.0.251").Reason)
	assert.Equal(t, "multicast addresses blocked", policy.Check("[ff02::1]:5353").Reason)

	policy.BlockMulticast = false
	assert.Equal(t, "link-local addresses blocked", policy.Check("224.0.0.251").Reason)
	assert.Equal(t, "link-local addresses blocked", policy.Check("fe80::1").Reason)

	policy.BlockLinkLocal = false
	assert.True(t, policy.Check("224.0.0.251").Allowed)
}
