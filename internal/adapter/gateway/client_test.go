package gateway

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"chain-calendar/internal/domain"
	"chain-calendar/internal/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	go func() {
		_ = fasthttp.Serve(ln, handler)
	}()
	t.Cleanup(func() { _ = ln.Close() })

	c := NewClient("http://gateway.local/", time.Second, zap.NewNop())
	c.client.Dial = func(string) (net.Conn, error) { return ln.Dial() }
	return c
}

func TestClient_Constant(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		gotPath = string(ctx.Path())
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"value":"2400"}`)
	})

	v, err := c.Constant(context.Background(), "babe", "expectedBlockTime")
	require.NoError(t, err)
	assert.JSONEq(t, `"2400"`, string(v))
	assert.Equal(t, "/pallets/babe/consts/expectedBlockTime", gotPath)
}

func TestClient_StorageAt(t *testing.T) {
	var gotAt string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		gotAt = string(ctx.QueryArgs().Peek("at"))
		ctx.SetBodyString(`{"at":{"hash":"0x01","height":"150"},"value":[100,20]}`)
	})

	v, err := c.Storage(context.Background(), 150, "auctions", "auctionInfo")
	require.NoError(t, err)
	assert.JSONEq(t, `[100,20]`, string(v))
	assert.Equal(t, "150", gotAt)
}

func TestClient_NullValueIsNotPresent(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"value":null}`)
	})

	_, err := c.Storage(context.Background(), 1, "auctions", "auctionInfo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotPresent))
}

func TestClient_NotFound(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})

	_, err := c.Constant(context.Background(), "society", "rotationPeriod")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotPresent))

	ok, err := c.HasPallet(context.Background(), "parachainSystem")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_ServerError(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	})

	_, err := c.Derive(context.Background(), 10, "session", "progress")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrExternalServiceFailure))
	assert.False(t, errors.Is(err, domain.ErrNotPresent))
}

func TestClient_Entries(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		gotPath = string(ctx.Path())
		ctx.SetBodyString(`{"entries":[{"keys":["160"],"value":[null,{"maybeId":"0x61"}]},{"keys":["170"],"value":[]}]}`)
	})

	entries, err := c.Entries(context.Background(), 150, "scheduler", "agenda")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.JSONEq(t, `"160"`, string(entries[0].Keys[0]))
	assert.JSONEq(t, `[]`, string(entries[1].Value))
	assert.Equal(t, "/pallets/scheduler/storage/agenda/entries", gotPath)
}

func TestClient_HasPallet(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"name":"ParachainSystem"}`)
	})

	ok, err := c.HasPallet(context.Background(), "parachainSystem")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClient_ExpiredContext(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"value":1}`)
	})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := c.Constant(ctx, "babe", "expectedBlockTime")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTimeout))
}

func TestNopQuerier(t *testing.T) {
	var q NopQuerier

	_, err := q.Constant(context.Background(), "babe", "expectedBlockTime")
	assert.True(t, errors.Is(err, domain.ErrNotPresent))

	ok, err := q.HasPallet(context.Background(), "parachainSystem")
	require.NoError(t, err)
	assert.False(t, ok)
}
