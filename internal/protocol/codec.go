package protocol

import (
	"encoding/json"
	"fmt"
)

// ParseRequest decodes a raw request envelope. A decode failure or a missing
// method is reported as an error value so the caller can map it onto the
// matching protocol error; the raw bytes are never partially applied.
func ParseRequest(raw []byte) (*Request, *Error) {
	if len(raw) == 0 {
		return nil, &Error{Code: CodeParseError, Message: "empty request body"}
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &Error{Code: CodeParseError, Message: fmt.Sprintf("malformed request: %v", err)}
	}
	if req.Method == "" {
		// The envelope parsed, so the ID (if any) can be echoed.
		return &req, &Error{Code: CodeInvalidRequest, Message: "request is missing required field: method"}
	}
	return &req, nil
}

// NewResult builds a success response echoing the request ID.
func NewResult(id *string, result any) *Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewError(id, &Error{
			Code:    CodeInternalError,
			Message: fmt.Sprintf("marshal result: %v", err),
		})
	}
	return &Response{ID: id, Result: raw}
}

// NewError builds an error response echoing the request ID.
func NewError(id *string, perr *Error) *Response {
	return &Response{ID: id, Error: perr}
}

// Encode serializes a response. Encoding a response must not fail from the
// caller's point of view; if it somehow does, a minimal internal error
// envelope is returned instead.
func Encode(resp *Response) []byte {
	raw, err := json.Marshal(resp)
	if err != nil {
		fallback := fmt.Sprintf(`{"error":{"code":%d,"message":"encode response: %s"}}`, CodeInternalError, err)
		return []byte(fallback)
	}
	return raw
}

// Errorf builds a protocol error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RecoverableError builds a protocol error marked recoverable, with an
// optional retry hint in milliseconds (0 means no hint).
func RecoverableError(code int, message string, retryMS int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    &ErrorData{Recoverable: true, SuggestedRetryMS: retryMS},
	}
}
