package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/AgentPulse/internal/resilience"
)

// RPC is the request/response client for gateway tool invocations,
// authenticated by bearer token. Independent of the push channel: the
// session poller uses it as a durable supplement.
type RPC struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewRPC creates an RPC client for the given base URL and bearer token.
func NewRPC(baseURL, token string) *RPC {
	return &RPC{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (r *RPC) SetBreaker(b *resilience.Breaker) {
	r.breaker = b
}

// invokeEnvelope is the wire shape of an RPC response.
type invokeEnvelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Invoke calls tool with args and returns the raw result. Non-2xx status or
// an ok:false envelope is an error.
func (r *RPC) Invoke(ctx context.Context, tool string, args any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{"tool": tool, "args": args})
	if err != nil {
		return nil, fmt.Errorf("marshal invoke %s: %w", tool, err)
	}

	var result json.RawMessage
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rpc", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+r.token)

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("gateway rpc %s: status %d: %s", tool, resp.StatusCode, string(data))
		}

		var env invokeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("unmarshal envelope: %w", err)
		}
		if !env.OK {
			return fmt.Errorf("gateway rpc %s: %s", tool, env.Error)
		}
		result = env.Result
		return nil
	}

	if r.breaker != nil {
		if err := r.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
