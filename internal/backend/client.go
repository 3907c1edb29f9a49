package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OperationError is a structured error declared by a skill backend in its
// response body. It is a completed invocation from the bridge's point of
// view, not a transport failure.
type OperationError struct {
	Message string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("backend operation error: %s", e.Message)
}

// Client dispatches operation calls to skill backend endpoints.
type Client struct {
	httpc  *http.Client
	logger *zap.Logger
}

// NewClient creates a backend dispatch client. The timeout bounds every
// dispatch unless the caller context expires first.
func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		httpc:  &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type dispatchRequest struct {
	Operation string                 `json:"operation"`
	Arguments map[string]interface{} `json:"arguments"`
}

type dispatchResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Dispatch POSTs {operation, arguments} to the backend endpoint and returns
// the result payload. A backend-declared error comes back as
// *OperationError; transport failures, timeouts, and malformed responses
// come back as plain errors (with context errors preserved for the caller
// to classify).
func (c *Client) Dispatch(ctx context.Context, endpoint, operation string, args map[string]interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(dispatchRequest{Operation: operation, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Preserve context.DeadlineExceeded / context.Canceled for the bridge.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("dispatch %s: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read dispatch response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("backend returned non-success status",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("dispatch %s: backend status %d", operation, resp.StatusCode)
	}

	var dr dispatchResponse
	if err := json.Unmarshal(raw, &dr); err != nil {
		return nil, fmt.Errorf("parse dispatch response: %w", err)
	}
	if dr.Error != "" {
		return nil, &OperationError{Message: dr.Error}
	}
	return dr.Result, nil
}
