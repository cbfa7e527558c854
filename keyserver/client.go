// Package keyserver implements the HKP/HKPS key-server client of
// spec.md §4.3: URI scheme normalization, round-robin DNS failover per
// host, multi-server load-balancing/fallback, and retry with back-off
// delegated to github.com/hashicorp/go-retryablehttp.
package keyserver

import (
	"context"

	"github.com/s4u/pgpverify-go/internal/keyid"
)

// Client fetches a key ring's ASCII-armored bytes for a key id from one
// or more key servers. It is the single sealed interface spec.md §9 calls
// for "exactly the HTTP and HTTPS variants" — realized here as one
// implementation (httpServer) parameterized by scheme, not two types.
type Client interface {
	GetKeyRing(ctx context.Context, id keyid.KeyID) ([]byte, error)
}

// ErrNotFound is returned when a server responds 404 to a key lookup,
// spec.md §4.3's canonical negative result.
type ErrNotFound string

func (e ErrNotFound) Error() string { return string(e) }

// ErrUnsupportedProtocol is returned for any key-server URI scheme other
// than hkp/hkps/http/https.
type ErrUnsupportedProtocol string

func (e ErrUnsupportedProtocol) Error() string { return string(e) }
