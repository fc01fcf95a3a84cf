// Package executor implements the contract.Executor interface over the
// sandbox service's HTTP JSON endpoints. The sandbox runs out of process;
// this client is the node's only view of it.
package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// Client talks to the executor sandbox.
type Client struct {
	host   string
	client http.Client
}

// New constructs a client for the sandbox at the given host.
func New(host string) *Client {
	return &Client{
		host:   host,
		client: http.Client{Timeout: 60 * time.Second},
	}
}

type byteCodeObject struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func encodeByteCode(code []contract.ByteCodeObject) []byteCodeObject {
	out := make([]byteCodeObject, len(code))
	for i, o := range code {
		out[i] = byteCodeObject{Name: o.Name, Code: base64.StdEncoding.EncodeToString(o.Code)}
	}
	return out
}

func decodeByteCode(code []byteCodeObject) ([]contract.ByteCodeObject, error) {
	out := make([]contract.ByteCodeObject, len(code))
	for i, o := range code {
		raw, err := base64.StdEncoding.DecodeString(o.Code)
		if err != nil {
			return nil, err
		}
		out[i] = contract.ByteCodeObject{Name: o.Name, Code: raw}
	}
	return out, nil
}

// ExecuteByteCode runs a method against a contract state in the sandbox.
func (c *Client) ExecuteByteCode(ctx context.Context, caller, target pool.Address, code []contract.ByteCodeObject, state string, method string, params []string, timeout time.Duration) (contract.ExecResult, error) {
	req := struct {
		Caller    string           `json:"caller"`
		Contract  string           `json:"contract"`
		ByteCode  []byteCodeObject `json:"bytecode"`
		State     string           `json:"state"`
		Method    string           `json:"method"`
		Params    []string         `json:"params"`
		TimeoutMS int64            `json:"timeout_ms"`
	}{
		Caller:    caller.String(),
		Contract:  target.String(),
		ByteCode:  encodeByteCode(code),
		State:     state,
		Method:    method,
		Params:    params,
		TimeoutMS: timeout.Milliseconds(),
	}

	var resp struct {
		NewState    string `json:"new_state"`
		ReturnValue string `json:"return_value"`
		Status      struct {
			Code    int32  `json:"code"`
			Message string `json:"message"`
		} `json:"status"`
	}

	if err := c.post(ctx, "/executor/v1/execute", req, &resp); err != nil {
		return contract.ExecResult{}, err
	}

	return contract.ExecResult{
		NewState:    resp.NewState,
		ReturnValue: resp.ReturnValue,
		Status:      contract.ExecStatus{Code: resp.Status.Code, Message: resp.Status.Message},
	}, nil
}

// ContractMethods lists the callable methods of a bytecode set.
func (c *Client) ContractMethods(ctx context.Context, code []contract.ByteCodeObject) ([]contract.MethodDescription, error) {
	req := struct {
		ByteCode []byteCodeObject `json:"bytecode"`
	}{
		ByteCode: encodeByteCode(code),
	}

	var resp struct {
		Methods []struct {
			Name       string   `json:"name"`
			ReturnType string   `json:"return_type"`
			Arguments  []string `json:"arguments"`
		} `json:"methods"`
	}

	if err := c.post(ctx, "/executor/v1/methods", req, &resp); err != nil {
		return nil, err
	}

	out := make([]contract.MethodDescription, len(resp.Methods))
	for i, m := range resp.Methods {
		out[i] = contract.MethodDescription{Name: m.Name, ReturnType: m.ReturnType, Arguments: m.Arguments}
	}
	return out, nil
}

// ContractVariables reads the variables of a contract state.
func (c *Client) ContractVariables(ctx context.Context, code []contract.ByteCodeObject, state string) (map[string]string, error) {
	req := struct {
		ByteCode []byteCodeObject `json:"bytecode"`
		State    string           `json:"state"`
	}{
		ByteCode: encodeByteCode(code),
		State:    state,
	}

	var resp struct {
		Variables map[string]string `json:"variables"`
	}

	if err := c.post(ctx, "/executor/v1/variables", req, &resp); err != nil {
		return nil, err
	}
	return resp.Variables, nil
}

// CompileSourceCode compiles contract source in the sandbox.
func (c *Client) CompileSourceCode(ctx context.Context, source string) ([]contract.ByteCodeObject, contract.ExecStatus, error) {
	req := struct {
		Source string `json:"source"`
	}{
		Source: source,
	}

	var resp struct {
		ByteCode []byteCodeObject `json:"bytecode"`
		Status   struct {
			Code    int32  `json:"code"`
			Message string `json:"message"`
		} `json:"status"`
	}

	if err := c.post(ctx, "/executor/v1/compile", req, &resp); err != nil {
		return nil, contract.ExecStatus{}, err
	}

	code, err := decodeByteCode(resp.ByteCode)
	if err != nil {
		return nil, contract.ExecStatus{}, err
	}
	return code, contract.ExecStatus{Code: resp.Status.Code, Message: resp.Status.Message}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s%s", c.host, path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("executor returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
