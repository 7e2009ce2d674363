// Package privacy masks client network addresses before they reach logs.
package privacy

import (
	"net"
	"net/netip"
)

// AnonymizeIP keeps only the network part of ip: the /24 for IPv4 and the /48
// for IPv6. It returns "unknown" for an empty value and "invalid" when ip does
// not parse.
func AnonymizeIP(ip string) string {
	if ip == "" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.WithZone("").Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// RemoteAddrPrefix anonymizes an http.Request RemoteAddr, which may carry a port.
func RemoteAddrPrefix(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	return AnonymizeIP(host)
}
