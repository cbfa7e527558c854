package keyserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/s4u/pgpverify-go/internal/keyid"
)

const (
	// defaultHKPPort is the well-known HKP port used when a scheme-"hkp"
	// server URI names no port, per spec.md §4.3.
	defaultHKPPort = "11371"
	// defaultMaxRetries, defaultBaseDelay and defaultRetryCap set the retry
	// policy: up to 10 retries, linear back-off of BASE_DELAY * attempt with
	// a 750ms base. defaultRetryCap caps each single back-off delay at 30s;
	// the total time spent across all retries is not capped.
	defaultMaxRetries = 10
	defaultBaseDelay  = 750 * time.Millisecond
	defaultRetryCap   = 30 * time.Second

	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 20 * time.Second
)

// ServerOptions configures a single key server endpoint.
type ServerOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Proxy          *ProxyConfig
	MaxRetries     int
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	return o
}

// httpServer is the single Client implementation for both hkp (plain
// HTTP) and hkps (HTTPS) servers, the scheme having already been
// normalized at construction time (spec.md §9 Design Note).
type httpServer struct {
	baseURL *url.URL
	client  *retryablehttp.Client
	router  *roundRobinRouter
}

// NewHTTPServer builds a Client for rawURL, which must have scheme hkp,
// hkps, http or https. hkp is rewritten to http (defaulting the port to
// 11371); hkps is rewritten to https.
func NewHTTPServer(rawURL string, opts ServerOptions) (Client, error) {
	opts = opts.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing key server URL %q: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "hkp", "http":
		if strings.EqualFold(u.Scheme, "hkp") && u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), defaultHKPPort)
		}
		u.Scheme = "http"
	case "hkps", "https":
		u.Scheme = "https"
	default:
		return nil, ErrUnsupportedProtocol(fmt.Sprintf("unsupported key server protocol %q", u.Scheme))
	}

	router := newRoundRobinRouter()
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := &http.Transport{
		Proxy: proxyFunc(opts.Proxy),
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip, err := router.Next(ctx, host)
			if err != nil {
				return nil, err
			}
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
			if err != nil {
				router.MarkBad(host, ip)
				return nil, err
			}
			return conn, nil
		},
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Transport: transport, Timeout: opts.ReadTimeout}
	client.RetryMax = opts.MaxRetries
	client.RetryWaitMin = defaultBaseDelay
	client.RetryWaitMax = defaultRetryCap
	client.Backoff = linearBackoff(defaultBaseDelay, defaultRetryCap)
	client.CheckRetry = retryPolicy
	client.Logger = logrusAdapter{}

	return &httpServer{baseURL: u, client: client, router: router}, nil
}

// GetKeyRing implements spec.md §4.3's key request:
// GET /pks/lookup?op=get&options=mr&search=0x<16-hex>.
func (s *httpServer) GetKeyRing(ctx context.Context, id keyid.KeyID) ([]byte, error) {
	u := *s.baseURL
	u.Path = "/pks/lookup"
	q := url.Values{}
	q.Set("op", "get")
	q.Set("options", "mr")
	q.Set("search", "0x"+id.HexLongID())
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building key server request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching key %s from %s: %w", id, s.baseURL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound(fmt.Sprintf("key %s not found on %s", id, s.baseURL.Host))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching key %s from %s", resp.StatusCode, id, s.baseURL.Host)
	}
	return io.ReadAll(resp.Body)
}

// linearBackoff implements "BASE_DELAY * attempt, capped".
func linearBackoff(base, maxDelay time.Duration) retryablehttp.Backoff {
	return func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		d := base * time.Duration(attemptNum+1)
		if d > maxDelay {
			return maxDelay
		}
		return d
	}
}

// retryPolicy implements spec.md §4.3's retryable predicate: connect/read
// timeouts and HTTP 408/500/502/503/504 are retried; other 4xx and TLS
// handshake failures are not.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		if isTLSHandshakeError(err) {
			return false, err
		}
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	default:
		return false, nil
	}
}

func isTLSHandshakeError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "remote error" || strings.Contains(opErr.Err.Error(), "tls:")
	}
	return strings.Contains(err.Error(), "tls:")
}

// logrusAdapter routes retryablehttp's internal retry-attempt logging
// through logrus at Debug, matching the ambient narration style used
// throughout the rest of the module.
type logrusAdapter struct{}

func (logrusAdapter) Printf(format string, args ...interface{}) {
	logrus.Debugf(format, args...)
}
