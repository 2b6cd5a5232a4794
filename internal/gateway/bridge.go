package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// bridgeClient is the shared HTTP transport for all HTTP-bridge gateway
// adapters in this package. Each talks to its own sidecar bridge process (Modbus/serial on
// the other side) with a small JSON-RPC-shaped envelope, the same style the
// teacher's internal/mcpgw gateway uses to call out to tools over HTTP.
type bridgeClient struct {
	baseURL string
	client  *http.Client
}

func newBridgeClient(baseURL string, timeout time.Duration) *bridgeClient {
	return &bridgeClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type bridgeRequest struct {
	ID     string                 `json:"id"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type bridgeResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// call POSTs a method+params envelope to the bridge and decodes the result
// into out (if non-nil).
func (b *bridgeClient) call(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	reqBody := bridgeRequest{
		ID:     uuid.New().String(),
		Method: method,
		Params: params,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal bridge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create bridge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return &TransientTransportError{Op: method, Cause: err}
	}
	defer resp.Body.Close()

	var br bridgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return &TransientTransportError{Op: method, Cause: err}
	}
	if !br.OK {
		return &TransientTransportError{Op: method, Cause: fmt.Errorf("%s", br.Error)}
	}
	if out != nil && len(br.Result) > 0 {
		if err := json.Unmarshal(br.Result, out); err != nil {
			return fmt.Errorf("decode bridge result for %s: %w", method, err)
		}
	}
	return nil
}

// TransientTransportError wraps a single failed gateway call, per spec §7:
// no auto-retry at the core level; the current task fails and fail-safe runs.
type TransientTransportError struct {
	Op    string
	Cause error
}

func (e *TransientTransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Cause)
}

func (e *TransientTransportError) Unwrap() error { return e.Cause }
