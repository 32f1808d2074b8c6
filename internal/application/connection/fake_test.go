package connection

import (
	"context"
	"errors"
	"sync"

	"chain-calendar/internal/domain/entity"
	domainService "chain-calendar/internal/domain/service"
)

// fakeAdapter connects instantly to reachable URLs and fails on every other one.
type fakeAdapter struct {
	reachable func(url string) bool

	mu       sync.Mutex
	url      string
	h        domainService.AdapterHandlers
	ready    chan struct{}
	connects []string
}

func newFakeAdapter(reachable func(string) bool) *fakeAdapter {
	return &fakeAdapter{reachable: reachable, ready: make(chan struct{})}
}

func (f *fakeAdapter) SetURL(url string) {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
}

func (f *fakeAdapter) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *fakeAdapter) SetHandlers(h domainService.AdapterHandlers) {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
}

func (f *fakeAdapter) Connect(context.Context) error {
	f.mu.Lock()
	select {
	case <-f.ready:
		f.ready = make(chan struct{})
	default:
	}
	url := f.url
	f.connects = append(f.connects, url)
	h := f.h
	ok := f.reachable(url)
	if ok {
		close(f.ready)
	}
	f.mu.Unlock()

	if !ok {
		err := errors.New("connection refused")
		if h.OnError != nil {
			h.OnError(err)
		}
		return err
	}
	if h.OnConnected != nil {
		h.OnConnected()
	}
	return nil
}

func (f *fakeAdapter) WaitReady(ctx context.Context) error {
	f.mu.Lock()
	ready := f.ready
	f.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAdapter) SubscribeNewHeads(context.Context) (<-chan entity.Header, func(), error) {
	ch := make(chan entity.Header)
	return ch, func() {}, nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.ready:
		f.ready = make(chan struct{})
	default:
	}
	return nil
}

func (f *fakeAdapter) Connects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

// fakeNetwork tracks reachability of URLs and the adapters built for it.
type fakeNetwork struct {
	mu        sync.Mutex
	reachable map[string]bool
	adapters  map[string]*fakeAdapter
}

func newFakeNetwork(reachable ...string) *fakeNetwork {
	n := &fakeNetwork{reachable: make(map[string]bool), adapters: make(map[string]*fakeAdapter)}
	for _, u := range reachable {
		n.reachable[u] = true
	}
	return n
}

func (n *fakeNetwork) isReachable(url string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reachable[url]
}

func (n *fakeNetwork) factory(d entity.NetworkDescriptor) domainService.ChainAdapter {
	n.mu.Lock()
	defer n.mu.Unlock()
	a := newFakeAdapter(n.isReachable)
	n.adapters[d.ID] = a
	return a
}

func (n *fakeNetwork) adapter(id string) *fakeAdapter {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapters[id]
}
