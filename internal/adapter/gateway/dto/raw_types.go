package gateway_dto

import "encoding/json"

// ValueRaw is the envelope of constant, storage and derive responses.
type ValueRaw struct {
	At    *AtRaw          `json:"at,omitempty"`
	Value json.RawMessage `json:"value"`
}

// AtRaw identifies the block a response was read at.
type AtRaw struct {
	Hash   string `json:"hash"`
	Height string `json:"height"`
}

// EntriesRaw is the envelope of storage map iteration responses.
type EntriesRaw struct {
	At      *AtRaw     `json:"at,omitempty"`
	Entries []EntryRaw `json:"entries"`
}

// EntryRaw is one key/value pair of a storage map.
type EntryRaw struct {
	Keys  []json.RawMessage `json:"keys"`
	Value json.RawMessage   `json:"value"`
}
