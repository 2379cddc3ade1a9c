package adapters

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// EndpointPool is the ordered set of legacy backend base URLs plus the one
// currently preferred. Rotation picks a random different URL.
type EndpointPool struct {
	mu      sync.Mutex
	urls    []string
	current int
	rnd     *rand.Rand
}

// NewEndpointPool builds a pool preferring the first URL.
func NewEndpointPool(urls []string) (*EndpointPool, error) {
	if len(urls) == 0 {
		return nil, errors.New("endpoint pool needs at least one url")
	}
	cp := make([]string, len(urls))
	copy(cp, urls)
	return &EndpointPool{urls: cp, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
}

// Len is the number of URLs.
func (p *EndpointPool) Len() int { return len(p.urls) }

// Current returns the preferred URL.
func (p *EndpointPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urls[p.current]
}

// SetCurrent makes url the preferred URL if it belongs to the pool.
func (p *EndpointPool) SetCurrent(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, u := range p.urls {
		if u == url {
			p.current = i
			return
		}
	}
}

// Rotate switches to a random URL other than the current one and returns it.
// A single-URL pool keeps its URL.
func (p *EndpointPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.urls) > 1 {
		next := p.rnd.Intn(len(p.urls) - 1)
		if next >= p.current {
			next++
		}
		p.current = next
	}
	return p.urls[p.current]
}

// Candidates lists every URL, the preferred one first, then the rest in
// pool order.
func (p *EndpointPool) Candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.urls))
	out = append(out, p.urls[p.current])
	for i, u := range p.urls {
		if i != p.current {
			out = append(out, u)
		}
	}
	return out
}

// PickDifferent returns a random URL not in tried and makes it current. ok
// is false once every URL has been tried.
func (p *EndpointPool) PickDifferent(tried map[string]bool) (url string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var left []int
	for i, u := range p.urls {
		if !tried[u] {
			left = append(left, i)
		}
	}
	if len(left) == 0 {
		return "", false
	}
	p.current = left[p.rnd.Intn(len(left))]
	return p.urls[p.current], true
}
