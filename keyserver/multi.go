package keyserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/s4u/pgpverify-go/internal/keyid"
)

// MultiClient implements spec.md §4.3's multi-server load balancing: an
// ordered list of server clients, either round-robin distributed
// (loadBalance=true) or used as a primary-plus-fallbacks chain in
// declared order.
type MultiClient struct {
	servers     []Client
	loadBalance bool

	mu   sync.Mutex
	next int
}

// NewMultiClient builds a MultiClient over servers, which must be
// non-empty.
func NewMultiClient(servers []Client, loadBalance bool) (*MultiClient, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("at least one key server is required")
	}
	return &MultiClient{servers: servers, loadBalance: loadBalance}, nil
}

// GetKeyRing tries servers in order (rotated when loadBalance is set)
// until one succeeds or returns a 404; a 404 terminates the attempt
// immediately without trying remaining servers, per spec.md §4.3's state
// machine: "A 404 from any server terminates with KeyNotFound".
func (m *MultiClient) GetKeyRing(ctx context.Context, id keyid.KeyID) ([]byte, error) {
	var lastErr error
	for _, s := range m.order() {
		data, err := s.GetKeyRing(ctx, id)
		if err == nil {
			return data, nil
		}
		var notFound ErrNotFound
		if errors.As(err, &notFound) {
			return nil, err
		}
		logrus.Debugf("key server attempt failed for %s: %v", id, err)
		lastErr = err
	}
	return nil, fmt.Errorf("all key servers failed for %s: %w", id, lastErr)
}

func (m *MultiClient) order() []Client {
	if !m.loadBalance || len(m.servers) == 1 {
		return m.servers
	}
	m.mu.Lock()
	start := m.next
	m.next = (m.next + 1) % len(m.servers)
	m.mu.Unlock()

	ordered := make([]Client, len(m.servers))
	for i := range m.servers {
		ordered[i] = m.servers[(start+i)%len(m.servers)]
	}
	return ordered
}
