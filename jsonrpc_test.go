// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package a2a_test

import (
	"strings"
	"testing"

	"github.com/go-json-experiment/json"

	a2a "github.com/ruFFaa/agentvault"
)

func TestResponse_EchoesIDVerbatim(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		id string
	}{
		"numeric": {id: `42`},
		"string":  {id: `"req-7"`},
		"null":    {id: `null`},
		"uuid":    {id: `"6f1c9f2e-8e5f-4f7a-9a39-0b54a70e9f01"`},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			resp := &a2a.Response{
				JSONRPC: a2a.Version,
				Result:  []byte(`{"id":"t1"}`),
				ID:      []byte(tt.id),
			}

			data, err := json.Marshal(resp)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if !strings.Contains(string(data), `"id":`+tt.id) {
				t.Errorf("Marshal() = %s, want id echoed as %s", data, tt.id)
			}
		})
	}
}

func TestRequest_RoundTrip(t *testing.T) {
	t.Parallel()

	body := `{"jsonrpc":"2.0","method":"tasks/send","params":{"id":null,"message":{"role":"user","content":"hi"}},"id":"c1"}`

	var req a2a.Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if req.Method != a2a.MethodTasksSend {
		t.Errorf("Method = %q, want %q", req.Method, a2a.MethodTasksSend)
	}

	var params a2a.TaskSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("Unmarshal(params) error = %v", err)
	}
	if params.ID != nil {
		t.Errorf("params.ID = %v, want nil for new task", *params.ID)
	}
	if params.Message.Content != "hi" {
		t.Errorf("params.Message.Content = %q, want %q", params.Message.Content, "hi")
	}
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err  *a2a.Error
		code int
	}{
		"parse":            {err: a2a.NewParseError("bad json"), code: -32700},
		"invalid_request":  {err: a2a.NewInvalidRequestError("no envelope"), code: -32600},
		"method_not_found": {err: a2a.NewMethodNotFoundError("tasks/list"), code: -32601},
		"invalid_params":   {err: a2a.NewInvalidParamsError("message"), code: -32602},
		"internal":         {err: a2a.NewInternalError("boom"), code: -32603},
		"app":              {err: a2a.NewAppError("handler failed"), code: -32000},
		"task_not_found":   {err: a2a.NewTaskNotFoundError("t404"), code: -32001},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			if tt.err.Code != tt.code {
				t.Errorf("Code = %d, want %d", tt.err.Code, tt.code)
			}
			if tt.err.Error() == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

func TestInvalidParamsError_NamesField(t *testing.T) {
	t.Parallel()

	err := a2a.NewInvalidParamsError("message.role")
	if !strings.Contains(err.Message, "message.role") {
		t.Errorf("Message = %q, want it to name the invalid field", err.Message)
	}
}
