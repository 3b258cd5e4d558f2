// Package resolve produces the identity a request is rate limited under when
// no upstream validator has supplied one.
//
// The fallback chain is, first match wins:
//
//  1. the connection peer address (RemoteAddr)
//  2. the first X-Forwarded-For entry
//  3. X-Real-IP
//  4. a synthetic "local:<method>:<path>" key for requests with no network
//     origin at all (loopback testing, in-process handlers)
//
// Routes that declare a typed JSON payload can instead extract the identity
// from the request body via JSON; decode failures degrade to the chain.
package resolve

import (
	"net"
	"net/http"
	"strings"

	"github.com/gatekit/gatekit"
)

// Resolver produces the identity for a request.
type Resolver interface {
	Resolve(r *http.Request) gatekit.Identity
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(r *http.Request) gatekit.Identity

func (f ResolverFunc) Resolve(r *http.Request) gatekit.Identity { return f(r) }

// Chain is the default resolver. It never returns a zero identity: requests
// with no usable network origin fall through to a synthetic per-route key so
// loopback traffic is still counted.
func Chain() Resolver {
	return ResolverFunc(FromRequest)
}

// FromRequest walks the fallback chain for r.
func FromRequest(r *http.Request) gatekit.Identity {
	if ip := peerIP(r); ip != "" {
		return gatekit.IP(ip)
	}

	if ip := forwardedIP(r.Header.Get("X-Forwarded-For")); ip != "" {
		return gatekit.IP(ip)
	}

	if ip := headerIP(r.Header.Get("X-Real-IP")); ip != "" {
		return gatekit.IP(ip)
	}

	return gatekit.Custom("local:" + r.Method + ":" + r.URL.Path)
}

func peerIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// forwardedIP takes the first comma-separated X-Forwarded-For entry, the
// client the nearest proxy saw.
func forwardedIP(header string) string {
	first, _, _ := strings.Cut(header, ",")
	return headerIP(first)
}

func headerIP(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "unknown" {
		return ""
	}
	return v
}
