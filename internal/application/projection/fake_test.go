package projection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"chain-calendar/internal/domain"
	domainService "chain-calendar/internal/domain/service"
)

// fakeQuerier serves canned chain state keyed by "pallet.item".
type fakeQuerier struct {
	consts  map[string]string
	storage map[string]string
	derive  map[string]string
	entries map[string][]domainService.StorageEntry
	pallets map[string]bool
	fail    map[string]error

	calls atomic.Int32

	// When gate is set every call blocks on it after signalling entered once.
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		consts:  make(map[string]string),
		storage: make(map[string]string),
		derive:  make(map[string]string),
		entries: make(map[string][]domainService.StorageEntry),
		pallets: make(map[string]bool),
		fail:    make(map[string]error),
	}
}

func (q *fakeQuerier) hold() {
	q.calls.Add(1)
	if q.gate == nil {
		return
	}
	q.once.Do(func() { close(q.entered) })
	<-q.gate
}

func (q *fakeQuerier) lookup(m map[string]string, key string) (json.RawMessage, error) {
	q.hold()
	if err, ok := q.fail[key]; ok {
		return nil, err
	}
	v, ok := m[key]
	if !ok {
		return nil, domain.ErrNotPresent
	}
	return json.RawMessage(v), nil
}

func (q *fakeQuerier) Constant(_ context.Context, pallet, name string) (json.RawMessage, error) {
	return q.lookup(q.consts, pallet+"."+name)
}

func (q *fakeQuerier) Storage(_ context.Context, _ uint64, pallet, item string) (json.RawMessage, error) {
	return q.lookup(q.storage, pallet+"."+item)
}

func (q *fakeQuerier) Derive(_ context.Context, _ uint64, section, method string) (json.RawMessage, error) {
	return q.lookup(q.derive, section+"."+method)
}

func (q *fakeQuerier) Entries(_ context.Context, _ uint64, pallet, item string) ([]domainService.StorageEntry, error) {
	q.hold()
	key := pallet + "." + item
	if err, ok := q.fail[key]; ok {
		return nil, err
	}
	e, ok := q.entries[key]
	if !ok {
		return nil, domain.ErrNotPresent
	}
	return e, nil
}

func (q *fakeQuerier) HasPallet(_ context.Context, pallet string) (bool, error) {
	q.hold()
	if err, ok := q.fail[pallet]; ok {
		return false, err
	}
	return q.pallets[pallet], nil
}

var errBoom = errors.New("boom")

func entry(value string, keys ...string) domainService.StorageEntry {
	raw := make([]json.RawMessage, len(keys))
	for i, k := range keys {
		raw[i] = json.RawMessage(k)
	}
	return domainService.StorageEntry{Keys: raw, Value: json.RawMessage(value)}
}
