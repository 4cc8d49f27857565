package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// kind returns the ledger error kind carried in error.data, if any.
func (e *rpcError) kind() string {
	if e == nil || len(e.Data) == 0 {
		return ""
	}
	var data struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ""
	}
	return data.Kind
}

// tokenConfigured reports whether a bearer token is available for optional
// authorization.
func tokenConfigured() bool {
	return strings.TrimSpace(os.Getenv(rpcTokenEnv)) != ""
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func callRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		token := strings.TrimSpace(os.Getenv(rpcTokenEnv))
		if token == "" {
			return nil, nil, fmt.Errorf("privileged RPC call requires %s to be set", rpcTokenEnv)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read RPC response: %w", err)
	}
	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

// query performs a call and prints its result, returning the exit code.
func query(stdout, stderr io.Writer, method string, params interface{}, requireAuth bool) int {
	result, rpcErr, err := rpcCall(method, params, requireAuth)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	if kind := err.kind(); kind != "" {
		fmt.Fprintf(w, "RPC error %d: %s (%s)\n", err.Code, err.Message, kind)
		return 1
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err == nil {
		result = pretty.Bytes()
	}
	if _, err := w.Write(result); err == nil && result[len(result)-1] != '\n' {
		fmt.Fprintln(w)
	}
}
