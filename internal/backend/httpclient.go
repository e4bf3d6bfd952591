package backend

import (
	"net"
	"net/http"
	"time"

	"github.com/tokligence/tokligence-relay/internal/version"
)

// HTTPConfig sizes the transport behind one backend handle.
type HTTPConfig struct {
	// DialTimeout bounds connection setup. Local servers answer fast.
	DialTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for response headers; 0 waits
	// indefinitely, which covers model load time on first use.
	ResponseHeaderTimeout time.Duration
	// MaxConns caps connections opened by this handle.
	MaxConns int
}

const (
	defaultDialTimeout     = 5 * time.Second
	defaultIdleConnTimeout = 120 * time.Second
)

// NewHTTPClient builds an *http.Client with its own transport so every handle in
// a pool owns its connections. No overall client timeout is set: streamed
// completions may legitimately run for minutes and are bounded by context.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 2
	}
	return &http.Client{
		Transport: userAgent{next: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   dial,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			MaxIdleConns:          maxConns,
			MaxIdleConnsPerHost:   maxConns,
			MaxConnsPerHost:       maxConns,
			IdleConnTimeout:       defaultIdleConnTimeout,
			ForceAttemptHTTP2:     true,
		}},
	}
}

// userAgent tags outgoing backend requests unless the caller already set one.
type userAgent struct{ next http.RoundTripper }

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", version.UserAgent())
	}
	return u.next.RoundTrip(req)
}
