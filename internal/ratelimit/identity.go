package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"pulse/internal/auth"
)

// Kind discriminates anonymous identifiers from authenticated ones.
type Kind string

const (
	KindIP  Kind = "ip"
	KindKey Kind = "key"
)

// Identifier names the caller a window record belongs to. The kind prefix in
// String keeps address and key namespaces disjoint.
type Identifier struct {
	Kind  Kind
	Value string
}

func (id Identifier) String() string {
	return string(id.Kind) + ":" + id.Value
}

// Resolve derives the identifier for a request. The full API key wins when
// one was attached by authentication; otherwise the network address is used.
func Resolve(apiKey, addr string) Identifier {
	if apiKey != "" {
		return Identifier{Kind: KindKey, Value: apiKey}
	}
	return Identifier{Kind: KindIP, Value: addr}
}

// ResolveRequest resolves the identifier of an HTTP request using the API key
// stored in its context by the key validator.
func ResolveRequest(r *http.Request, trustProxyHeaders bool) Identifier {
	key, _ := auth.APIKeyFromContext(r.Context())
	return Resolve(key, ClientIP(r, trustProxyHeaders))
}

// ClientIP extracts the client address. Proxy headers are only honoured when
// the gateway runs behind a trusted reverse proxy, since any caller can set them.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
