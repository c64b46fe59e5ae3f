package hostfuncs

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// EgressDecision is the outcome of checking an outbound address.
type EgressDecision struct {
	// Reason explains a refusal.
	Reason string `json:"reason,omitempty"`

	// ResolvedIP is the address the connection must be pinned to.
	ResolvedIP string `json:"resolved_ip,omitempty"`

	Allowed bool `json:"allowed"`
}

// EgressPolicy decides which hosts guests may reach through get_url. The
// zero value allows nothing private; use DefaultEgressPolicy for the usual
// rules.
type EgressPolicy struct {
	Allowlist      []string // hosts, *.suffix wildcards or CIDRs that bypass the checks
	Blocklist      []string // hosts, *.suffix wildcards or CIDRs always refused
	BlockPrivate   bool
	BlockLocalhost bool
	BlockLinkLocal bool
	BlockMulticast bool
	ResolveDNS     bool

	// lookup is swapped in tests.
	lookup func(host string) ([]net.IP, error)
}

// DefaultEgressPolicy blocks loopback, private, link-local and multicast
// destinations and resolves names before checking.
func DefaultEgressPolicy() EgressPolicy {
	return EgressPolicy{
		BlockPrivate:   true,
		BlockLocalhost: true,
		BlockLinkLocal: true,
		BlockMulticast: true,
		ResolveDNS:     true,
	}
}

// PermissiveEgressPolicy allows every destination. Local development only.
func PermissiveEgressPolicy() EgressPolicy {
	return EgressPolicy{}
}

// Check validates host (a name or IP, optionally with a port).
func (p EgressPolicy) Check(address string) EgressDecision {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return EgressDecision{Reason: "empty host"}
	}

	for _, pattern := range p.Allowlist {
		if matchesHostPattern(host, pattern) {
			return EgressDecision{Allowed: true}
		}
	}
	for _, pattern := range p.Blocklist {
		if matchesHostPattern(host, pattern) {
			return EgressDecision{Reason: "address in blocklist"}
		}
	}

	ip, err := netip.ParseAddr(host)
	if err != nil && p.ResolveDNS {
		lookup := p.lookup
		if lookup == nil {
			lookup = net.LookupIP
		}
		ips, lerr := lookup(host)
		if lerr != nil || len(ips) == 0 {
			reason := "DNS resolution failed"
			if lerr != nil {
				reason += ": " + lerr.Error()
			}
			return EgressDecision{Reason: reason}
		}
		resolved, ok := netip.AddrFromSlice(ips[0])
		if !ok {
			return EgressDecision{Reason: "DNS resolution failed: invalid address"}
		}
		ip = resolved
	}
	ip = ip.Unmap()
	if !ip.IsValid() {
		// hostname-only mode
		return EgressDecision{Allowed: true}
	}

	for _, pattern := range p.Blocklist {
		if matchesHostPattern(ip.String(), pattern) {
			return EgressDecision{Reason: "IP in blocklist"}
		}
	}
	if reason := p.ipRestriction(ip); reason != "" {
		return EgressDecision{Reason: reason}
	}
	return EgressDecision{Allowed: true, ResolvedIP: ip.String()}
}

// ipRestriction checks multicast before link-local: 224.0.0.0/24 is both.
func (p EgressPolicy) ipRestriction(ip netip.Addr) string {
	switch {
	case p.BlockLocalhost && ip.IsLoopback():
		return "localhost/loopback addresses blocked"
	case p.BlockPrivate && ip.IsPrivate():
		return "private addresses blocked (RFC 1918)"
	case p.BlockMulticast && ip.IsMulticast():
		return "multicast addresses blocked"
	case p.BlockLinkLocal && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()):
		return "link-local addresses blocked"
	case p.BlockPrivate && ip.IsUnspecified():
		return "unspecified address blocked"
	}
	return ""
}

// matchesHostPattern matches an exact host, a *.suffix wildcard or a CIDR.
func matchesHostPattern(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") && strings.HasSuffix(host, pattern[1:]) {
		return true
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		if prefix, err := netip.ParsePrefix(pattern); err == nil && prefix.Contains(ip.Unmap()) {
			return true
		}
	}
	return false
}

func defaultPort(scheme, port string) string {
	if port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			return port
		}
	}
	if scheme == "https" {
		return "443"
	}
	return "80"
}
