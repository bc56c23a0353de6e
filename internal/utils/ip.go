package utils

import (
	"net"
	"net/http"
)

// IsAllowedIP checking if the IP address enters the allowed CIDR subnetwork.
// An empty list allows nothing.
func IsAllowedIP(ip string, allowedCIDRs []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, cidr := range allowedCIDRs {
		_, netblock, err := net.ParseCIDR(cidr)
		if err != nil {
			// Skip invalid CIDR
			continue
		}
		if netblock.Contains(parsed) {
			return true
		}
	}
	return false
}

// RemoteIP returns the peer address of the request without the port.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
