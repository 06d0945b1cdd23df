package ratelimit

import (
	"net"
	"net/http"
)

// KeyFunc derives the throttling key for a request. Endpoint classes can use
// different granularity without changing the limiter core.
type KeyFunc func(*http.Request) string

// KeyByIP keys on the client network address alone.
func KeyByIP(request *http.Request) string {
	return ClientIP(request)
}

// KeyByIPPath keys on address plus request path, so hot paths get their own
// budget per client.
func KeyByIPPath(request *http.Request) string {
	return ClientIP(request) + ":" + request.URL.Path
}

// KeyByIPIdentity keys on address plus a caller-supplied identity header,
// for endpoints where authenticated identity matters.
func KeyByIPIdentity(header string) KeyFunc {
	return func(request *http.Request) string {
		identity := request.Header.Get(header)
		if identity == "" {
			return ClientIP(request)
		}
		return ClientIP(request) + ":" + identity
	}
}

// ClientIP extracts the real client IP from the request.
func ClientIP(request *http.Request) string {
	if forwarded := request.Header.Get("X-Forwarded-For"); forwarded != "" {
		if ip := net.ParseIP(forwarded); ip != nil {
			return ip.String()
		}
		if host, _, err := net.SplitHostPort(forwarded); err == nil {
			if ip := net.ParseIP(host); ip != nil {
				return ip.String()
			}
		}
	}
	if realIP := request.Header.Get("X-Real-IP"); realIP != "" {
		if ip := net.ParseIP(realIP); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(request.RemoteAddr)
	if err != nil {
		return request.RemoteAddr
	}
	return host
}
