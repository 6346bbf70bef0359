// Package requestutil extracts caller details from requests: request ids,
// access tokens and the client address used for logs and rate limits.
package requestutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// AccessTokenParam carries the token for websocket clients that cannot set
// headers.
const AccessTokenParam = "access_token"

const redacted = "REDACTED"

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
var useFallback atomic.Bool

type clientIPKey struct{}

// SanitizeRequestID keeps a well-formed incoming request id and generates a
// new one otherwise.
func SanitizeRequestID(incoming string) string {
	if incoming != "" && requestIDPattern.MatchString(incoming) {
		return incoming
	}
	return NewRequestID()
}

// NewRequestID generates a random request ID with a time-based fallback.
func NewRequestID() string {
	var b [8]byte
	if !useFallback.Load() {
		if _, err := rand.Read(b[:]); err == nil {
			return hex.EncodeToString(b[:])
		}
	}
	return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
}

// BearerToken returns the token from the Authorization header, or from the
// access_token query parameter on GET requests such as websocket upgrades.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get(AccessTokenParam)
	}
	return ""
}

// RedactedQuery returns the raw query of u with access tokens masked.
func RedactedQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	if !strings.Contains(u.RawQuery, AccessTokenParam) {
		return u.RawQuery
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return redacted
	}
	if _, ok := values[AccessTokenParam]; !ok {
		return u.RawQuery
	}
	values.Set(AccessTokenParam, redacted)
	return values.Encode()
}

// ResolveClientIP returns the peer address of r without its port. When
// trustForwarded is set the service sits behind a proxy that appends the
// peer it saw to X-Forwarded-For, so the right-most entry is used; earlier
// entries come from the client and are ignored.
func ResolveClientIP(r *http.Request, trustForwarded bool) string {
	if r == nil {
		return ""
	}
	if trustForwarded {
		if forwarded := r.Header.Values("X-Forwarded-For"); len(forwarded) > 0 {
			last := forwarded[len(forwarded)-1]
			if i := strings.LastIndex(last, ","); i >= 0 {
				last = last[i+1:]
			}
			if ip := strings.TrimSpace(last); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithClientIP stores the resolved client address on ctx.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address stored by WithClientIP, or the peer address
// when none was stored.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return ResolveClientIP(r, false)
}

// CallerKey names the rate-limit bucket for a request: the user id when the
// caller is signed in, the client address otherwise.
func CallerKey(r *http.Request, userID string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "ip:" + ClientIP(r)
}
