package projection

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"chain-calendar/internal/domain"
	domainService "chain-calendar/internal/domain/service"
)

// ValueState tags the outcome of a chain read.
type ValueState int

const (
	ValueOK ValueState = iota
	ValueAbsent
	ValueMalformed
	ValueFailed
)

func (s ValueState) String() string {
	switch s {
	case ValueOK:
		return "ok"
	case ValueAbsent:
		return "absent"
	case ValueMalformed:
		return "malformed"
	default:
		return "failed"
	}
}

// Value is a validated chain read. Only ValueOK carries a usable value.
type Value[T any] struct {
	val   T
	state ValueState
	err   error
}

func okValue[T any](v T) Value[T] {
	return Value[T]{val: v, state: ValueOK}
}

// failedValue classifies err: missing items are absent, decode errors malformed.
func failedValue[T any](err error) Value[T] {
	state := ValueFailed
	switch {
	case errors.Is(err, domain.ErrNotPresent):
		state = ValueAbsent
	case errors.Is(err, errMalformed):
		state = ValueMalformed
	}
	return Value[T]{state: state, err: err}
}

func (v Value[T]) Get() (T, bool) {
	return v.val, v.state == ValueOK
}

func (v Value[T]) State() ValueState {
	return v.state
}

// Err explains a non-OK value. It wraps domain.ErrSourceUnavailable.
func (v Value[T]) Err() error {
	if v.state == ValueOK {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrSourceUnavailable, v.state, v.err)
}

var errMalformed = errors.New("malformed value")

// Uint is an unsigned chain number. It accepts JSON integers, decimal strings and hex strings.
type Uint uint64

func (u *Uint) UnmarshalJSON(b []byte) error {
	n, err := decodeUint(b)
	if err != nil {
		return err
	}
	*u = Uint(n)
	return nil
}

// decodeUint decodes a chain number. Numbers must fit in int64 so block arithmetic stays signed.
func decodeUint(raw json.RawMessage) (uint64, error) {
	n, err := parseUint(raw)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d is out of range", errMalformed, n)
	}
	return n, nil
}

func parseUint(raw json.RawMessage) (uint64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("%w: empty number", errMalformed)
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %v", errMalformed, err)
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if h, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
			n, err := strconv.ParseUint(h, 16, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: hex %q: %v", errMalformed, s, err)
			}
			return n, nil
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", errMalformed, s, err)
		}
		return n, nil
	}

	if n, err := strconv.ParseUint(string(raw), 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %s is not a non-negative integer", errMalformed, raw)
	}
	return uint64(f), nil
}

func decodeJSON[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", errMalformed, err)
	}
	return v, nil
}

// constUint reads an unsigned runtime constant.
func constUint(ctx context.Context, q domainService.ChainQuerier, pallet, name string) Value[uint64] {
	raw, err := q.Constant(ctx, pallet, name)
	if err != nil {
		return failedValue[uint64](fmt.Errorf("%s.%s: %w", pallet, name, err))
	}
	n, err := decodeUint(raw)
	if err != nil {
		return failedValue[uint64](fmt.Errorf("%s.%s: %w", pallet, name, err))
	}
	return okValue(n)
}

// storageAs reads and decodes a plain storage item.
func storageAs[T any](ctx context.Context, q domainService.ChainQuerier, at uint64, pallet, item string) Value[T] {
	raw, err := q.Storage(ctx, at, pallet, item)
	if err != nil {
		return failedValue[T](fmt.Errorf("%s.%s: %w", pallet, item, err))
	}
	v, err := decodeJSON[T](raw)
	if err != nil {
		return failedValue[T](fmt.Errorf("%s.%s: %w", pallet, item, err))
	}
	return okValue(v)
}

// deriveAs runs and decodes a derived query.
func deriveAs[T any](ctx context.Context, q domainService.ChainQuerier, at uint64, section, method string) Value[T] {
	raw, err := q.Derive(ctx, at, section, method)
	if err != nil {
		return failedValue[T](fmt.Errorf("%s.%s: %w", section, method, err))
	}
	v, err := decodeJSON[T](raw)
	if err != nil {
		return failedValue[T](fmt.Errorf("%s.%s: %w", section, method, err))
	}
	return okValue(v)
}

// decodeTaskID renders a scheduler task id: printable ASCII as text, anything else as hex.
func decodeTaskID(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	h, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return s, true
	}
	b, err := hex.DecodeString(h)
	if err != nil || len(b) == 0 {
		return s, true
	}
	for _, c := range b {
		if c > unicode.MaxASCII || !unicode.IsPrint(rune(c)) {
			return s, true
		}
	}
	return string(b), true
}
