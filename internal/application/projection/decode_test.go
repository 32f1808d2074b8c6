package projection

import (
	"encoding/json"
	"errors"
	"testing"

	"chain-calendar/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUint(t *testing.T) {
	tests := []struct {
		raw     string
		want    uint64
		wantErr bool
	}{
		{raw: `42`, want: 42},
		{raw: `"42"`, want: 42},
		{raw: `"0x2a"`, want: 42},
		{raw: `"1,000"`, want: 1000},
		{raw: `1e3`, want: 1000},
		{raw: `"9223372036854775807"`, want: 9223372036854775807},
		{raw: `"9300000000000000000"`, wantErr: true},
		{raw: `"0xffffffffffffffff"`, wantErr: true},
		{raw: `-1`, wantErr: true},
		{raw: `1.5`, wantErr: true},
		{raw: `"abc"`, wantErr: true},
		{raw: `"NaN"`, wantErr: true},
		{raw: `"Infinity"`, wantErr: true},
		{raw: `null`, wantErr: true},
		{raw: `true`, wantErr: true},
		{raw: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := decodeUint(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errMalformed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueStates(t *testing.T) {
	q := newFakeQuerier()
	q.consts["babe.expectedBlockTime"] = `6000`
	q.consts["society.rotationPeriod"] = `"abc"`
	q.fail["democracy.launchPeriod"] = errBoom

	ok := constUint(t.Context(), q, "babe", "expectedBlockTime")
	v, present := ok.Get()
	assert.True(t, present)
	assert.Equal(t, uint64(6000), v)
	assert.NoError(t, ok.Err())

	absent := constUint(t.Context(), q, "treasury", "spendPeriod")
	assert.Equal(t, ValueAbsent, absent.State())
	assert.True(t, errors.Is(absent.Err(), domain.ErrSourceUnavailable))

	malformed := constUint(t.Context(), q, "society", "rotationPeriod")
	assert.Equal(t, ValueMalformed, malformed.State())

	failed := constUint(t.Context(), q, "democracy", "launchPeriod")
	assert.Equal(t, ValueFailed, failed.State())
	assert.True(t, errors.Is(failed.Err(), domain.ErrSourceUnavailable))
}

func TestDecodeTaskID(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{name: "ascii", raw: `"0x6e616d6564"`, want: "named", wantOK: true},
		{name: "binary", raw: `"0x0001ff"`, want: "0x0001ff", wantOK: true},
		{name: "plain text", raw: `"plain"`, want: "plain", wantOK: true},
		{name: "null", raw: `null`, wantOK: false},
		{name: "empty", raw: ``, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeTaskID(json.RawMessage(tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
