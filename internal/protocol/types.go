package protocol

import "encoding/json"

// Request is the envelope submitted to the bridge. ID is optional: a request
// without an ID has notification semantics and its response carries no ID.
type Request struct {
	ID     *string         `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope returned for every request. Exactly one of Result
// or Error is set.
type Response struct {
	ID     *string         `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is a structured protocol error.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries machine-readable hints alongside an error.
type ErrorData struct {
	Recoverable      bool   `json:"recoverable,omitempty"`
	SuggestedRetryMS int    `json:"suggested_retry_ms,omitempty"`
	Field            string `json:"field,omitempty"`
}

// Error codes. The -32700..-32600 range follows the JSON-RPC convention;
// -32000 and below are bridge extensions.
const (
	CodeParseError          = -32700
	CodeInvalidRequest      = -32600
	CodeMethodNotFound      = -32601
	CodeInvalidParams       = -32602
	CodeInternalError       = -32603
	CodeHandlerError        = -32000
	CodeTimeout             = -32001
	CodeExecutorUnavailable = -32002
	CodeJobConflict         = -32010
	CodeJobNotFound         = -32011
)

func (e *Error) Error() string {
	return e.Message
}

// Recoverable reports whether the caller may retry the same request shortly.
func (e *Error) Recoverable() bool {
	return e.Data != nil && e.Data.Recoverable
}

// InvokeParams are the parameters of the capability/invoke method.
type InvokeParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// JobStatusParams are the parameters of the job/status method.
type JobStatusParams struct {
	JobID string `json:"job_id"`
}

// ResourceReadParams are the parameters of the resource/read method.
type ResourceReadParams struct {
	Name string `json:"name"`
}

// Built-in method names routed by the bridge.
const (
	MethodCapabilityList   = "capability/list"
	MethodCapabilitySchema = "capability/schema"
	MethodCapabilityInvoke = "capability/invoke"
	MethodResourceList     = "resource/list"
	MethodResourceRead     = "resource/read"
	MethodJobStatus        = "job/status"
	MethodJobList          = "job/list"
)
