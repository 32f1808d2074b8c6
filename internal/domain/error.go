package domain

import "errors"

var (
	// ErrConnectionTimeout means a network activation did not become ready within its time budget.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrRegistrationFailure means the chain adapter could not be registered with the connection pool.
	ErrRegistrationFailure = errors.New("adapter registration failed")

	// ErrSourceUnavailable means a schedule source's constant or query was missing, malformed or failed.
	ErrSourceUnavailable = errors.New("schedule source unavailable")

	// ErrMalformedPersistedState means a persisted value could not be parsed and a default was used instead.
	ErrMalformedPersistedState = errors.New("malformed persisted state")

	// ErrAllEndpointsExhausted means every candidate RPC URL of a network was blacklisted.
	ErrAllEndpointsExhausted = errors.New("all endpoints exhausted")

	// ErrNetworkNotFound means the requested network id is not known to the registry.
	ErrNetworkNotFound = errors.New("network not found")

	// ErrNotCustomNetwork means a custom-network operation targeted a configured network.
	ErrNotCustomNetwork = errors.New("network is not a custom network")

	// ErrNotPresent means the chain does not expose the requested constant, storage item or pallet.
	ErrNotPresent = errors.New("chain item not present")
)
