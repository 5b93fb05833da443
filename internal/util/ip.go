package util

import "net"

// IPClassification is the security class of an IP address, used for SSRF
// protection when validating registered redirect URIs.
type IPClassification int

const (
	// IPClassificationPublic is a publicly routable address
	IPClassificationPublic IPClassification = iota
	// IPClassificationLoopback is 127.0.0.0/8 or ::1
	IPClassificationLoopback
	// IPClassificationPrivate is RFC 1918 or fc00::/7 ULA
	IPClassificationPrivate
	// IPClassificationLinkLocal is 169.254.0.0/16 or fe80::/10
	IPClassificationLinkLocal
	// IPClassificationUnspecified is 0.0.0.0 or ::
	IPClassificationUnspecified
)

// String returns the classification name used in logs and metrics
func (c IPClassification) String() string {
	switch c {
	case IPClassificationPublic:
		return "public"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationLinkLocal:
		return "link_local"
	case IPClassificationUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyIP is the single source of truth for IP classification.
//
// Unspecified addresses are always dangerous. Loopback is permitted for
// native apps per RFC 8252 Section 7.3. Link-local matters in cloud
// environments because 169.254.169.254 is the instance metadata service.
// Private covers internal networks an attacker could probe through a
// registered redirect URI.
func ClassifyIP(ip net.IP) IPClassification {
	switch {
	case ip == nil, ip.IsUnspecified():
		return IPClassificationUnspecified
	case ip.IsLoopback():
		return IPClassificationLoopback
	case IsLinkLocal(ip):
		return IPClassificationLinkLocal
	case ip.IsPrivate():
		return IPClassificationPrivate
	default:
		return IPClassificationPublic
	}
}

// IsLinkLocal reports whether ip is link-local unicast or multicast.
// Covers 169.254.0.0/16 (including the cloud metadata address), fe80::/10,
// and ff02::/16.
func IsLinkLocal(ip net.IP) bool {
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
