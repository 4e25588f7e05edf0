// Package dune implements the analytics reward source: block reward totals
// served by a hosted Dune query, executed and polled over the Dune API.
package dune

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/validatorlabs/rewardshare/internal/retry"
)

// DefaultBaseURL is the public Dune API endpoint.
const DefaultBaseURL = "https://api.dune.com"

// Execution states reported by the Dune API.
const (
	StatePending   = "QUERY_STATE_PENDING"
	StateExecuting = "QUERY_STATE_EXECUTING"
	StateCompleted = "QUERY_STATE_COMPLETED"
	StateFailed    = "QUERY_STATE_FAILED"
	StateCancelled = "QUERY_STATE_CANCELLED"
	StateExpired   = "QUERY_STATE_EXPIRED"
)

type ClientConfig struct {
	Logger *slog.Logger
	APIKey string
	// BaseURL overrides the Dune API endpoint, for tests.
	BaseURL string
	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
	// Retry applies to each individual API call.
	Retry retry.Config
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.APIKey == "" {
		return errors.New("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// newHTTPClient builds a client with a dial timeout so connection issues
// fail fast instead of hanging a poll cycle.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   time.Minute,
	}
}

// Client is an HTTP client for the Dune API.
type Client struct {
	log        *slog.Logger
	cfg        ClientConfig
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		log:        cfg.Logger,
		cfg:        cfg,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}, nil
}

// ExecutionStatus is the state of one query execution.
type ExecutionStatus struct {
	ExecutionID         string `json:"execution_id"`
	QueryID             int64  `json:"query_id"`
	State               string `json:"state"`
	IsExecutionFinished bool   `json:"is_execution_finished"`
}

// ExecutionResults carries the rows produced by a completed execution.
type ExecutionResults struct {
	ExecutionID string `json:"execution_id"`
	State       string `json:"state"`
	Result      struct {
		Rows []ResultRow `json:"rows"`
	} `json:"result"`
}

// ResultRow is one row of the block rewards query.
type ResultRow struct {
	Epoch             uint64 `json:"epoch"`
	TotalBlockRewards uint64 `json:"total_block_rewards"`
}

type executeResponse struct {
	ExecutionID string `json:"execution_id"`
	State       string `json:"state"`
}

type executeRequest struct {
	QueryParameters map[string]any `json:"query_parameters"`
	Performance     string         `json:"performance,omitempty"`
}

// ExecuteQuery starts an execution of the query with the given parameters
// and returns its execution ID.
func (c *Client) ExecuteQuery(ctx context.Context, queryID int64, params map[string]any) (string, error) {
	body, err := json.Marshal(executeRequest{QueryParameters: params, Performance: "medium"})
	if err != nil {
		return "", fmt.Errorf("failed to marshal query parameters: %w", err)
	}

	var out executeResponse
	url := fmt.Sprintf("%s/api/v1/query/%d/execute", c.baseURL, queryID)
	if err := c.do(ctx, http.MethodPost, url, body, &out); err != nil {
		return "", fmt.Errorf("failed to execute query %d: %w", queryID, err)
	}
	if out.ExecutionID == "" {
		return "", fmt.Errorf("query %d execution response carried no execution id", queryID)
	}

	c.log.Debug("dune: started query execution",
		"queryID", queryID,
		"executionID", out.ExecutionID,
		"state", out.State,
	)
	return out.ExecutionID, nil
}

// GetExecutionStatus fetches the current state of an execution.
func (c *Client) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	var out ExecutionStatus
	url := fmt.Sprintf("%s/api/v1/execution/%s/status", c.baseURL, executionID)
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch execution %s status: %w", executionID, err)
	}
	return &out, nil
}

// GetExecutionResults fetches the rows of a completed execution.
func (c *Client) GetExecutionResults(ctx context.Context, executionID string) (*ExecutionResults, error) {
	var out ExecutionResults
	url := fmt.Sprintf("%s/api/v1/execution/%s/results", c.baseURL, executionID)
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch execution %s results: %w", executionID, err)
	}
	return &out, nil
}

// do performs one API call with retries on transient failures. 5xx and 429
// responses are retried; other non-200 statuses fail fast.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	return retry.Do(ctx, c.cfg.Retry, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("X-Dune-API-Key", c.cfg.APIKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Warn("dune: request failed, will retry if retryable", "url", url, "error", err)
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			msg, _ := io.ReadAll(resp.Body)
			return &apiError{statusCode: resp.StatusCode, message: string(msg)}
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("dune API error: %s (status %d)", string(msg), resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

// apiError carries an HTTP status code so retry.IsRetryable can classify it.
type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("dune API error: %s (status %d)", e.message, e.statusCode)
}

func (e *apiError) StatusCode() int {
	return e.statusCode
}
