// Package anki talks to the AnkiConnect addon API (JSON-RPC over HTTP)
// and exposes it as the flashcard port.
package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/longregen/recite/internal/adapters/retry"
)

const apiVersion = 6

// Error is a failure reported by AnkiConnect itself, as opposed to a
// transport failure.
type Error struct {
	Action  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ankiconnect: %s: %s", e.Action, e.Message)
}

type client struct {
	httpClient  *http.Client
	url         string
	retryConfig retry.BackoffConfig
}

func newClient(url string, timeout time.Duration) *client {
	return &client{
		httpClient:  &http.Client{Timeout: timeout},
		url:         url,
		retryConfig: retry.HTTPConfig(),
	}
}

type rpcRequest struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// invoke calls one AnkiConnect action and unmarshals the result into
// out (which may be nil for actions with no useful result).
func (c *client) invoke(ctx context.Context, action string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{Action: action, Version: apiVersion, Params: params})
	if err != nil {
		return fmt.Errorf("ankiconnect: marshal %s: %w", action, err)
	}

	var respBody []byte
	err = retry.WithBackoffHTTP(ctx, c.retryConfig, func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("ankiconnect: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("ankiconnect: %s: %w", action, err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("ankiconnect: read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, fmt.Errorf("ankiconnect: %s: status %d", action, resp.StatusCode)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return err
	}

	var rpc rpcResponse
	if err := json.Unmarshal(respBody, &rpc); err != nil {
		return fmt.Errorf("ankiconnect: decode %s response: %w", action, err)
	}
	if rpc.Error != nil && *rpc.Error != "" {
		return &Error{Action: action, Message: *rpc.Error}
	}
	if out != nil && len(rpc.Result) > 0 && string(rpc.Result) != "null" {
		if err := json.Unmarshal(rpc.Result, out); err != nil {
			return fmt.Errorf("ankiconnect: decode %s result: %w", action, err)
		}
	}
	return nil
}
