package jsonrpc

import "fmt"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Implementation-defined server error range.
const (
	CodeServerErrorMax = -32000
	CodeServerErrorMin = -32099

	// CodeRateLimited is returned by a peer whose ingress limiter rejected a message.
	CodeRateLimited = -32000
)

// Error is the JSON-RPC error object. It is also a Go error so that domain
// failures can be returned to callers unchanged.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds an error object with an arbitrary code.
func NewError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

func NewParseError(data any) *Error {
	return &Error{Code: CodeParseError, Message: "parse error", Data: data}
}

func NewInvalidRequest(data any) *Error {
	return &Error{Code: CodeInvalidRequest, Message: "invalid request", Data: data}
}

func NewMethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
}

func NewInvalidParams(data any) *Error {
	return &Error{Code: CodeInvalidParams, Message: "invalid params", Data: data}
}

func NewInternalError(data any) *Error {
	return &Error{Code: CodeInternalError, Message: "internal error", Data: data}
}

// NewServerError builds an error in the implementation-defined range.
// Codes outside the range are clamped to CodeServerErrorMax.
func NewServerError(code int, message string, data any) *Error {
	if !IsServerError(code) {
		code = CodeServerErrorMax
	}
	return &Error{Code: code, Message: message, Data: data}
}

// IsServerError reports whether code falls in the implementation-defined range.
func IsServerError(code int) bool {
	return code >= CodeServerErrorMin && code <= CodeServerErrorMax
}

// CodeName returns a short label for well-known codes, used in logs and span attributes.
func CodeName(code int) string {
	switch code {
	case CodeParseError:
		return "parse_error"
	case CodeInvalidRequest:
		return "invalid_request"
	case CodeMethodNotFound:
		return "method_not_found"
	case CodeInvalidParams:
		return "invalid_params"
	case CodeInternalError:
		return "internal_error"
	}
	if IsServerError(code) {
		return "server_error"
	}
	return "application_error"
}
