package service

import (
	"context"

	"chain-calendar/internal/domain/entity"
)

// AdapterHandlers are the connection lifecycle callbacks of a ChainAdapter.
// Nil handlers are skipped.
type AdapterHandlers struct {
	OnConnected    func()
	OnDisconnected func()
	OnError        func(err error)
}

// ChainAdapter is a protocol client bound to one RPC endpoint of one network.
type ChainAdapter interface {
	// SetURL repoints the adapter. It takes effect on the next Connect.
	SetURL(url string)
	URL() string

	// SetHandlers replaces the lifecycle handlers. Passing the zero value detaches them.
	SetHandlers(h AdapterHandlers)

	// Connect closes any current connection and dials the current URL.
	Connect(ctx context.Context) error

	// WaitReady blocks until the adapter is connected or ctx is done.
	WaitReady(ctx context.Context) error

	// SubscribeNewHeads streams new block headers. The subscription survives reconnects.
	SubscribeNewHeads(ctx context.Context) (<-chan entity.Header, func(), error)

	// Close drops the connection without invoking handlers.
	Close() error
}

// AdapterFactory builds the adapter for a network.
type AdapterFactory func(d entity.NetworkDescriptor) ChainAdapter
