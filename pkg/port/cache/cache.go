// Package cache implements a kernel.Port decorator that remembers the
// strings read from target memory for the duration of one snapshot.
package cache

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/kview/kview/pkg/kernel"
)

// DefaultSize is the number of strings kept when New is called with a
// non positive size.
const DefaultSize = 256

type stringKey struct {
	addr   kernel.Address
	maxLen int
}

// Port forwards every request to the wrapped port, memoizing ReadCString.
// The cache is emptied by Flush, which the kernel.Inspector calls at the
// start of every read operation.
type Port struct {
	kernel.Port
	strs *lru.Cache

	hits, misses int
}

// New wraps p.
func New(p kernel.Port, size int) (*Port, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Port{Port: p, strs: c}, nil
}

// ReadCString implements kernel.Port. Failed reads are not cached.
func (p *Port) ReadCString(addr kernel.Address, maxLen int) (string, error) {
	k := stringKey{addr, maxLen}
	if v, ok := p.strs.Get(k); ok {
		p.hits++
		return v.(string), nil
	}
	p.misses++
	s, err := p.Port.ReadCString(addr, maxLen)
	if err != nil {
		return "", err
	}
	p.strs.Add(k, s)
	return s, nil
}

// Flush implements kernel.Flusher. The wrapped port is flushed too.
func (p *Port) Flush() {
	p.strs.Purge()
	if f, ok := p.Port.(kernel.Flusher); ok {
		f.Flush()
	}
}

// Stats returns the number of cache hits and misses since p was created.
func (p *Port) Stats() (hits, misses int) {
	return p.hits, p.misses
}
