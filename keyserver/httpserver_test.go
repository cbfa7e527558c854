package keyserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s4u/pgpverify-go/internal/keyid"
)

func TestNewHTTPServerRejectsUnsupportedScheme(t *testing.T) {
	_, err := NewHTTPServer("ftp://example.com", ServerOptions{})
	require.Error(t, err)
	assert.IsType(t, ErrUnsupportedProtocol(""), err)
}

func TestNewHTTPServerDefaultsHKPPort(t *testing.T) {
	c, err := NewHTTPServer("hkp://keys.example.com", ServerOptions{})
	require.NoError(t, err)
	s := c.(*httpServer)
	assert.Equal(t, "http", s.baseURL.Scheme)
	assert.Equal(t, "keys.example.com:11371", s.baseURL.Host)
}

func TestNewHTTPServerHKPSBecomesHTTPS(t *testing.T) {
	c, err := NewHTTPServer("hkps://keys.example.com:443", ServerOptions{})
	require.NoError(t, err)
	s := c.(*httpServer)
	assert.Equal(t, "https", s.baseURL.Scheme)
}

func TestHTTPServerGetKeyRingSuccess(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/pks/lookup", r.URL.Path)
		assert.Equal(t, "get", r.URL.Query().Get("op"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("armored key data"))
	}))
	defer srv.Close()

	client := httpServerForTestURL(t, srv.URL)

	data, err := client.GetKeyRing(context.Background(), keyid.FromLongID(0x1122334455667788))
	require.NoError(t, err)
	assert.Equal(t, "armored key data", string(data))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestHTTPServerGetKeyRingNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := httpServerForTestURL(t, srv.URL)
	_, err := client.GetKeyRing(context.Background(), keyid.FromLongID(0x1122334455667788))
	require.Error(t, err)
	assert.IsType(t, ErrNotFound(""), err)
}

func TestHTTPServerRetriesOn503ThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("key data"))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	c, err := NewHTTPServer("hkp://"+u.Host, ServerOptions{MaxRetries: 5, ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second})
	require.NoError(t, err)
	s := c.(*httpServer)
	s.baseURL.Scheme = "http"
	s.client.RetryWaitMin = time.Millisecond
	s.client.RetryWaitMax = 5 * time.Millisecond
	s.client.Backoff = linearBackoff(time.Millisecond, 5*time.Millisecond)
	s.baseURL.Host = u.Host
	s.client.HTTPClient.Transport = http.DefaultTransport

	data, err := s.GetKeyRing(context.Background(), keyid.FromLongID(0x1122334455667788))
	require.NoError(t, err)
	assert.Equal(t, "key data", string(data))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

// httpServerForTestURL builds an *httpServer pointed directly at an
// httptest server, bypassing the dial-by-resolved-IP round robin so unit
// tests can talk to 127.0.0.1 without DNS.
func httpServerForTestURL(t *testing.T, rawURL string) Client {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	c, err := NewHTTPServer("hkp://"+u.Host, ServerOptions{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second})
	require.NoError(t, err)
	s := c.(*httpServer)
	s.baseURL.Host = u.Host
	s.client.HTTPClient.Transport = http.DefaultTransport
	return s
}
