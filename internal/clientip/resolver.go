// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

// Package clientip resolves a stable client key from an inbound request.
//
// The key is a normalized IP address used as the unit of throttling. It
// is not a verified identity: NAT can put many users behind one key and
// a mobile user can present several keys over time.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// UnknownKey is the sentinel client key for requests whose address
// cannot be determined. All such requests share this single key, so
// they contend for one lock bucket and are effectively serialized.
const UnknownKey = "unknown"

// forwardingHeaders are consulted in order when the direct peer is a
// trusted proxy. The first header yielding a valid address wins.
var forwardingHeaders = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
}

// Resolver resolves client keys, honoring forwarding headers only when
// the direct peer is inside a trusted proxy range.
type Resolver struct {
	trusted []*net.IPNet
}

// NewResolver creates a resolver. trustedProxies is a list of CIDRs
// (single addresses are accepted and widened to /32 or /128). With no
// trusted proxies, forwarding headers are never honored.
func NewResolver(trustedProxies []string) (*Resolver, error) {
	r := &Resolver{}
	for _, cidr := range trustedProxies {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil {
				if ip.To4() != nil {
					cidr += "/32"
				} else {
					cidr += "/128"
				}
			}
		}
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		r.trusted = append(r.trusted, network)
	}
	return r, nil
}

// Resolve returns the client key for a request. It never fails: when no
// address can be determined it returns UnknownKey.
func (r *Resolver) Resolve(req *http.Request) string {
	remote := remoteIP(req)

	if remote != nil && r.isTrustedProxy(remote) {
		for _, header := range forwardingHeaders {
			if ip := parseHeaderIP(req.Header.Get(header)); ip != nil {
				return ip.String()
			}
		}
	}

	if remote != nil {
		return remote.String()
	}
	return UnknownKey
}

// isTrustedProxy reports whether ip falls in a trusted proxy range.
func (r *Resolver) isTrustedProxy(ip net.IP) bool {
	for _, network := range r.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// remoteIP parses the connection address of a request.
func remoteIP(req *http.Request) net.IP {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		// RemoteAddr may already be a bare IP in tests or unusual setups.
		host = req.RemoteAddr
	}
	return net.ParseIP(strings.TrimSpace(host))
}

// parseHeaderIP extracts the originating client address from a
// forwarding header value. For X-Forwarded-For chains the left-most
// entry is the original client; proxies append their own addresses.
func parseHeaderIP(value string) net.IP {
	if value == "" {
		return nil
	}
	first := value
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		first = value[:idx]
	}
	return net.ParseIP(strings.TrimSpace(first))
}
