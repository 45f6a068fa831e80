// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"github.com/go-json-experiment/json/jsontext"
)

// Version is the JSON-RPC protocol version used by every envelope.
const Version = "2.0"

// A2A RPC method names.
const (
	// MethodTasksSend is the method name for initiating or continuing a task.
	MethodTasksSend = "tasks/send"
	// MethodTasksGet is the method name for fetching a task snapshot.
	MethodTasksGet = "tasks/get"
	// MethodTasksCancel is the method name for canceling a task.
	MethodTasksCancel = "tasks/cancel"
	// MethodTasksSendSubscribe is the method name for sending a task and
	// subscribing to its event stream.
	MethodTasksSendSubscribe = "tasks/sendSubscribe"
)

// Request represents a JSON-RPC 2.0 request. ID is kept as raw JSON so the
// server can echo it verbatim, including non-numeric ids.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  jsontext.Value `json:"params,omitzero"`
	ID      jsontext.Value `json:"id,omitzero"`
}

// NewRequest creates a new [Request] for the given method with an encoded
// params payload.
func NewRequest(id jsontext.Value, method string, params jsontext.Value) *Request {
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
		ID:      id,
	}
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitzero"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Response represents a JSON-RPC 2.0 response. Result and Error are
// mutually exclusive; ID echoes the request id verbatim.
type Response struct {
	JSONRPC string         `json:"jsonrpc"`
	Result  jsontext.Value `json:"result,omitzero"`
	Error   *Error         `json:"error,omitzero"`
	ID      jsontext.Value `json:"id"`
}

// TaskSendParams are the parameters of tasks/send and tasks/sendSubscribe.
// A null or absent ID requests a new server-generated task.
type TaskSendParams struct {
	ID         *string        `json:"id"`
	Message    Message        `json:"message"`
	MCPContext jsontext.Value `json:"mcp_context,omitzero"`
}

// TaskIDParams are the parameters of tasks/get and tasks/cancel.
type TaskIDParams struct {
	ID string `json:"id"`
}

// SendTaskResult is the result of tasks/send.
type SendTaskResult struct {
	ID string `json:"id"`
}

// CancelTaskResult is the result of tasks/cancel.
type CancelTaskResult struct {
	Success bool `json:"success"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	// ParseErrorCode indicates the request body is not valid JSON.
	ParseErrorCode = -32700
	// InvalidRequestErrorCode indicates an invalid JSON-RPC envelope.
	InvalidRequestErrorCode = -32600
	// MethodNotFoundErrorCode indicates the method does not exist.
	MethodNotFoundErrorCode = -32601
	// InvalidParamsErrorCode indicates structurally invalid parameters.
	InvalidParamsErrorCode = -32602
	// InternalErrorCode indicates an internal server error.
	InternalErrorCode = -32603
)

// A2A specific error codes.
const (
	// AppErrorCode carries agent-specific handler failures.
	AppErrorCode = -32000
	// TaskNotFoundErrorCode indicates the referenced task id does not exist.
	TaskNotFoundErrorCode = -32001
)

// NewParseError creates a PARSE_ERROR object.
func NewParseError(msg string) *Error {
	return &Error{Code: ParseErrorCode, Message: "Invalid JSON payload", Data: msg}
}

// NewInvalidRequestError creates an INVALID_REQUEST object.
func NewInvalidRequestError(msg string) *Error {
	return &Error{Code: InvalidRequestErrorCode, Message: "Invalid Request", Data: msg}
}

// NewMethodNotFoundError creates a METHOD_NOT_FOUND object for method.
func NewMethodNotFoundError(method string) *Error {
	return &Error{Code: MethodNotFoundErrorCode, Message: "Method not found", Data: method}
}

// NewInvalidParamsError creates an INVALID_PARAMS object naming the
// missing or invalid field.
func NewInvalidParamsError(field string) *Error {
	return &Error{Code: InvalidParamsErrorCode, Message: "Invalid params: " + field}
}

// NewInternalError creates an INTERNAL_ERROR object.
func NewInternalError(msg string) *Error {
	return &Error{Code: InternalErrorCode, Message: "Internal error", Data: msg}
}

// NewAppError creates an APP_ERROR object for an agent handler failure.
func NewAppError(msg string) *Error {
	return &Error{Code: AppErrorCode, Message: msg}
}

// NewTaskNotFoundError creates a TASK_NOT_FOUND object for the given id.
func NewTaskNotFoundError(taskID string) *Error {
	return &Error{Code: TaskNotFoundErrorCode, Message: "Task not found", Data: taskID}
}
