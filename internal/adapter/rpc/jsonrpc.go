package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"chain-calendar/internal/domain/entity"
	"chain-calendar/internal/pkg/apperrors"

	"go.uber.org/zap"
)

// JSONRPCRequest defines the structure of an outgoing JSON-RPC call.
type JSONRPCRequest struct {
	ID      uint64 `json:"id"`
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// JSONRPCResponse defines the basic structure for a JSON-RPC response.
type JSONRPCResponse struct {
	ID      interface{}     `json:"id"`
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError defines the structure for a JSON-RPC error.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// incomingMessage covers both call responses and subscription notifications.
type incomingMessage struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *struct {
		Subscription json.RawMessage `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

// rawHeader is the header payload of chain_newHead notifications.
type rawHeader struct {
	Number     string `json:"number"`
	Hash       string `json:"hash,omitempty"`
	ParentHash string `json:"parentHash"`
}

// validateJSONRPCResponse checks if the response body is a valid, successful JSON-RPC response.
func validateJSONRPCResponse(logger *zap.Logger, rpcURL string, body []byte) (JSONRPCResponse, error) {
	var rpcResp JSONRPCResponse
	err := json.Unmarshal(body, &rpcResp)
	if err != nil {
		logger.Debug(
			"RPC failed to unmarshal JSON response",
			zap.String("url", rpcURL),
			zap.ByteString("body", body),
			zap.Error(err),
		)
		return rpcResp, fmt.Errorf("%w: rpc %s returned invalid JSON response: %v",
			apperrors.ErrExternalServiceFailure, rpcURL, err,
		)
	}

	if rpcResp.Error != nil {
		logger.Debug(
			"RPC returned JSON-RPC error",
			zap.String("url", rpcURL),
			zap.Int("errorCode", rpcResp.Error.Code),
			zap.String("errorMessage", rpcResp.Error.Message),
		)
		return rpcResp, fmt.Errorf("%w: rpc %s returned json-rpc error: %d %s",
			apperrors.ErrExternalServiceFailure, rpcURL, rpcResp.Error.Code, rpcResp.Error.Message,
		)
	}

	if rpcResp.Jsonrpc != "2.0" || rpcResp.Result == nil {
		logger.Debug(
			"RPC returned invalid JSON-RPC structure",
			zap.String("url", rpcURL),
			zap.ByteString("body", body),
		)
		return rpcResp, fmt.Errorf("%w: rpc %s returned invalid JSON-RPC structure",
			apperrors.ErrExternalServiceFailure, rpcURL,
		)
	}

	return rpcResp, nil
}

// parseHeader decodes a chain_newHead payload. Block numbers arrive hex encoded.
func parseHeader(raw json.RawMessage) (entity.Header, error) {
	var h rawHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return entity.Header{}, fmt.Errorf("%w: invalid header: %v", apperrors.ErrExternalServiceFailure, err)
	}

	s := strings.TrimPrefix(strings.TrimPrefix(h.Number, "0x"), "0X")
	base := 16
	if s == h.Number {
		base = 10
	}
	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return entity.Header{}, fmt.Errorf("%w: invalid header number %q: %v",
			apperrors.ErrExternalServiceFailure, h.Number, err,
		)
	}
	return entity.Header{Number: n, Hash: h.Hash}, nil
}

// parseID reads a numeric JSON-RPC id.
func parseID(raw json.RawMessage) (uint64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.Trim(string(raw), `"`), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
