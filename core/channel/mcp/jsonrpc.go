package mcp

import (
	"encoding/json"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
)

// JSON-RPC error codes. The -320xx range is platform specific.
const (
	CodeParseError            = -32700
	CodeInvalidRequest        = -32600
	CodeMethodNotFound        = -32601
	CodeInvalidParams         = -32602
	CodeInternalError         = -32603
	CodeUnauthorized          = -32001
	CodeForbidden             = -32002
	CodeToolNotFound          = -32003
	CodeToolExecutionFailed   = -32004
	CodeSessionNotFound       = -32005
	CodeCapabilityUnsupported = -32006
	CodeProtocolMismatch      = -32007
	CodeAuthenticationFailed  = -32008
	CodeRateLimited           = -32009
	CodeConnectionLost        = -32010
)

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// errorCode maps a handler or middleware error onto the tool error codes.
func errorCode(err error) int {
	switch apperr.From(err).Code {
	case codes.InvalidArgument:
		return CodeInvalidParams
	case codes.Unauthenticated:
		return CodeUnauthorized
	case codes.PermissionDenied:
		return CodeForbidden
	case codes.ResourceExhausted:
		return CodeRateLimited
	case codes.Unavailable:
		return CodeConnectionLost
	default:
		return CodeToolExecutionFailed
	}
}

// toRPCError renders err for an agent. Unmapped errors carry the generic
// message unless a details payload was surfaced.
func toRPCError(err error) *RPCError {
	var rerr *RPCError
	if errors.As(err, &rerr) {
		return rerr
	}
	e := apperr.From(err)
	out := &RPCError{Code: errorCode(err), Message: e.Message}
	if _, known := apperr.HTTP(e.Code); !known && !e.Surfaced {
		out.Message = apperr.GenericMessage
	}
	if e.ConduitCode != "" {
		out.Data = map[string]string{"conduitCode": e.ConduitCode}
	}
	return out
}

func nullID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func writeRPC(w http.ResponseWriter, resp rpcResponse) {
	resp.JSONRPC = "2.0"
	resp.ID = nullID(resp.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, rerr *RPCError) {
	writeRPC(w, rpcResponse{ID: id, Error: rerr})
}
