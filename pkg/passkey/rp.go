// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"net"
	"net/http"
	"strings"
)

// ResolveRelyingParty derives the relying party context from an inbound
// request. Deterministic and I/O-free: the RPID is the request host without
// its port, and the origin is scheme://host with the port kept only when it
// differs from the scheme default.
//
// Malformed host headers are handled defensively: the port is stripped when
// present and the remainder is used as-is. The function never fails.
func ResolveRelyingParty(r *http.Request) RelyingParty {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return resolveRelyingParty(scheme, r.Host)
}

func resolveRelyingParty(scheme, hostport string) RelyingParty {
	host, port := splitHostPort(hostport)

	origin := scheme + "://" + host
	if port != "" && port != defaultPort(scheme) {
		origin += ":" + port
	}

	// IPv6 literals keep their brackets in the origin but not in the RPID.
	rpid := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	return RelyingParty{ID: rpid, Origin: origin}
}

// splitHostPort separates a host header into host and port. Unlike
// net.SplitHostPort it tolerates a missing port and returns bracketed IPv6
// hosts with brackets intact.
func splitHostPort(hostport string) (host, port string) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return "", ""
	}

	if h, p, err := net.SplitHostPort(hostport); err == nil {
		if strings.Contains(h, ":") {
			h = "[" + h + "]"
		}
		return h, p
	}

	return hostport, ""
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// Equal reports whether two relying party contexts are identical. Ceremony
// completion compares the context resolved from the live request against the
// one captured at begin.
func (rp RelyingParty) Equal(other RelyingParty) bool {
	return rp.ID == other.ID && rp.Origin == other.Origin
}
