package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	dto "chain-calendar/internal/adapter/gateway/dto"
	"chain-calendar/internal/domain"
	domainService "chain-calendar/internal/domain/service"
	"chain-calendar/internal/pkg/apperrors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Compile-time check
var _ domainService.ChainQuerier = (*Client)(nil)

// Client implements ChainQuerier against a sidecar-style HTTP gateway.
type Client struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates a gateway client for baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		client: &fasthttp.Client{
			ReadTimeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger.Named("GatewayClient"),
	}
}

// Constant reads a runtime constant.
func (c *Client) Constant(ctx context.Context, pallet, name string) (json.RawMessage, error) {
	return c.value(ctx, c.path("pallets", pallet, "consts", name), nil)
}

// Storage reads a plain storage item at block at.
func (c *Client) Storage(ctx context.Context, at uint64, pallet, item string) (json.RawMessage, error) {
	return c.value(ctx, c.path("pallets", pallet, "storage", item), &at)
}

// Entries iterates a storage map at block at.
func (c *Client) Entries(ctx context.Context, at uint64, pallet, item string) ([]domainService.StorageEntry, error) {
	body, err := c.get(ctx, c.path("pallets", pallet, "storage", item, "entries"), &at)
	if err != nil {
		return nil, err
	}

	var raw dto.EntriesRaw
	if err := json.Unmarshal(body, &raw); err != nil {
		c.logger.Debug("Failed to unmarshal gateway entries response",
			zap.Error(err), zap.ByteString("bodySample", body[:min(512, len(body))]),
		)
		return nil, fmt.Errorf("%w: failed to parse gateway entries response: %v",
			apperrors.ErrExternalServiceFailure, err,
		)
	}

	entries := make([]domainService.StorageEntry, 0, len(raw.Entries))
	for _, e := range raw.Entries {
		entries = append(entries, domainService.StorageEntry{Keys: e.Keys, Value: e.Value})
	}
	return entries, nil
}

// Derive runs a derived query at block at.
func (c *Client) Derive(ctx context.Context, at uint64, section, method string) (json.RawMessage, error) {
	return c.value(ctx, c.path("derive", section, method), &at)
}

// HasPallet reports whether the runtime exposes pallet.
func (c *Client) HasPallet(ctx context.Context, pallet string) (bool, error) {
	_, err := c.get(ctx, c.path("pallets", pallet), nil)
	if errors.Is(err, domain.ErrNotPresent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// value fetches a {"value": ...} envelope. A null value means the item is not present.
func (c *Client) value(ctx context.Context, uri string, at *uint64) (json.RawMessage, error) {
	body, err := c.get(ctx, uri, at)
	if err != nil {
		return nil, err
	}

	var raw dto.ValueRaw
	if err := json.Unmarshal(body, &raw); err != nil {
		c.logger.Debug("Failed to unmarshal gateway value response",
			zap.String("url", uri),
			zap.Error(err), zap.ByteString("bodySample", body[:min(512, len(body))]),
		)
		return nil, fmt.Errorf("%w: failed to parse gateway response from %s: %v",
			apperrors.ErrExternalServiceFailure, uri, err,
		)
	}

	if len(raw.Value) == 0 || bytes.Equal(bytes.TrimSpace(raw.Value), []byte("null")) {
		return nil, fmt.Errorf("%w: %s has no value", domain.ErrNotPresent, uri)
	}
	return raw.Value, nil
}

func (c *Client) get(ctx context.Context, uri string, at *uint64) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	if at != nil {
		uri += "?at=" + strconv.FormatUint(*at, 10)
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	req.Header.Set(fasthttp.HeaderAcceptEncoding, "gzip")

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		requestTimeout := time.Until(deadline)
		if requestTimeout <= 0 {
			return nil, fmt.Errorf("%w: gateway request to %s: %v", apperrors.ErrTimeout, uri, ctx.Err())
		}
		if requestTimeout < timeout {
			timeout = requestTimeout
		}
	}

	c.logger.Debug("Querying gateway", zap.String("url", uri), zap.Duration("timeout", timeout))

	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, fmt.Errorf("%w: gateway request to %s timed out after %v: %v",
				apperrors.ErrTimeout, uri, timeout, err,
			)
		}
		return nil, fmt.Errorf("%w: gateway request to %s failed: %v",
			apperrors.ErrExternalServiceFailure, uri, err,
		)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrNotPresent, uri)
	default:
		c.logger.Debug("Gateway returned non-OK status",
			zap.String("url", uri),
			zap.Int("statusCode", resp.StatusCode()),
			zap.ByteString("body", resp.Body()),
		)
		return nil, fmt.Errorf("%w: gateway returned status %d for %s",
			apperrors.ErrExternalServiceFailure, resp.StatusCode(), uri,
		)
	}

	contentEncoding := resp.Header.Peek(fasthttp.HeaderContentEncoding)
	if bytes.EqualFold(contentEncoding, []byte("gzip")) {
		body, err := resp.BodyGunzip()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decompress gateway response: %v",
				apperrors.ErrExternalServiceFailure, err,
			)
		}
		return body, nil
	}

	// resp is released on return.
	return append([]byte(nil), resp.Body()...), nil
}
