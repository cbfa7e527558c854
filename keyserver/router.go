package keyserver

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// roundRobinRouter implements spec.md §4.3's round-robin planner: for a
// given host, resolve all addresses once, then hand out the next one on
// each call; an address that failed the last dial is skipped until every
// other address has been tried, at which point the in-error set resets.
type roundRobinRouter struct {
	resolver *net.Resolver

	mu    sync.Mutex
	addrs map[string][]net.IP
	next  map[string]int
	bad   map[string]map[int]bool
}

func newRoundRobinRouter() *roundRobinRouter {
	return &roundRobinRouter{
		resolver: net.DefaultResolver,
		addrs:    map[string][]net.IP{},
		next:     map[string]int{},
		bad:      map[string]map[int]bool{},
	}
}

// Next returns the next address to try for host, resolving it on first
// use.
func (r *roundRobinRouter) Next(ctx context.Context, host string) (net.IP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addrs, ok := r.addrs[host]
	if !ok {
		resolved, err := r.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("resolving key server host %q: %w", host, err)
		}
		for _, a := range resolved {
			addrs = append(addrs, a.IP)
		}
		r.addrs[host] = addrs
		r.next[host] = 0
		r.bad[host] = map[int]bool{}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses resolved for key server host %q", host)
	}

	bad := r.bad[host]
	if len(bad) >= len(addrs) {
		bad = map[int]bool{}
		r.bad[host] = bad
	}

	start := r.next[host]
	for i := 0; i < len(addrs); i++ {
		cand := (start + i) % len(addrs)
		if !bad[cand] {
			r.next[host] = (cand + 1) % len(addrs)
			return addrs[cand], nil
		}
	}
	// Unreachable given the reset above, but fall back to the first
	// address rather than failing outright.
	r.next[host] = (start + 1) % len(addrs)
	return addrs[start], nil
}

// MarkBad records that ip failed to connect for host, so Next skips it
// until every other resolved address has also been tried.
func (r *roundRobinRouter) MarkBad(host string, ip net.IP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs := r.addrs[host]
	for i, a := range addrs {
		if a.Equal(ip) {
			if r.bad[host] == nil {
				r.bad[host] = map[int]bool{}
			}
			r.bad[host][i] = true
			return
		}
	}
}
