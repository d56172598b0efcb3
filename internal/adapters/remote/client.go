// Package remote is the HTTP client for the deployment and transfer platform API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/dxpops/conductor/internal/util"
)

const maxErrorBody = 2 << 10

// ClientOptions configures a Client.
type ClientOptions struct {
	// Required: API root, e.g. https://platform.example.com.
	BaseURL string
	// Optional: sent as a bearer token.
	APIKey string
	// Optional: per-request timeout, defaults to 30s.
	Timeout time.Duration
	// Optional: throttle hint used when a 429 carries no Retry-After header.
	DefaultRetryAfter time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client implements core.RemoteOperationClient over JSON/HTTP.
type Client struct {
	base              *url.URL
	apiKey            string
	defaultRetryAfter time.Duration
	hc                *http.Client
	logger            *slog.Logger
}

var _ core.RemoteOperationClient = (*Client)(nil)

// NewClient validates opts and builds a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("remote base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid remote base url %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	retryAfter := opts.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:              base,
		apiKey:            strings.TrimSpace(opts.APIKey),
		defaultRetryAfter: retryAfter,
		hc:                hc,
		logger:            logger.With("component", "remote_client"),
	}, nil
}

type chunkResponse struct {
	BytesWritten int64 `json:"bytes_written"`
}

type deploymentResponse struct {
	State string `json:"state"`
}

func (c *Client) PerformTransferChunk(ctx context.Context, tenant string, req model.ChunkRequest) (int64, error) {
	var out chunkResponse
	if err := c.do(ctx, http.MethodPost, c.path(tenant, "transfers", "chunks"), req, &out); err != nil {
		return 0, err
	}
	if out.BytesWritten < 0 {
		return 0, apperrors.Permanent(fmt.Errorf("remote reported negative bytes written (%d)", out.BytesWritten))
	}
	return out.BytesWritten, nil
}

func (c *Client) GetDeploymentStatus(ctx context.Context, tenant, deploymentID string) (model.DeploymentState, error) {
	var out deploymentResponse
	if err := c.do(ctx, http.MethodGet, c.path(tenant, "deployments", deploymentID), nil, &out); err != nil {
		return model.DeploymentUnknown, err
	}
	state, err := model.ParseDeploymentState(out.State)
	if err != nil {
		// A state we do not know yet is worth another poll rather than ending the watch.
		return model.DeploymentUnknown, apperrors.Transient(err)
	}
	return state, nil
}

func (c *Client) StartCompletion(ctx context.Context, tenant, deploymentID string) error {
	return c.do(ctx, http.MethodPost, c.path(tenant, "deployments", deploymentID, "complete"), struct{}{}, nil)
}

func (c *Client) StartReset(ctx context.Context, tenant, deploymentID string) error {
	return c.do(ctx, http.MethodPost, c.path(tenant, "deployments", deploymentID, "reset"), struct{}{}, nil)
}

func (c *Client) path(tenant string, parts ...string) string {
	segs := append([]string{"v1", "tenants", tenant}, parts...)
	return c.base.JoinPath(segs...).String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return apperrors.Permanent(fmt.Errorf("encode remote request: %w", err))
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return apperrors.Permanent(fmt.Errorf("create remote request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return apperrors.Transient(fmt.Errorf("%s %s: %w", method, req.URL.Path, err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Transient(fmt.Errorf("decode %s %s response: %w", method, req.URL.Path, err))
		}
		return nil
	}
	return c.classify(ctx, req, resp)
}

func (c *Client) classify(ctx context.Context, req *http.Request, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(msg)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := util.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if wait <= 0 {
			wait = c.defaultRetryAfter
		}
		c.logger.DebugContext(ctx, "remote throttled", "path", req.URL.Path, "retry_after", wait)
		return apperrors.Throttled(wait, cause)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout:
		return apperrors.Transient(cause)
	default:
		return apperrors.Permanent(cause)
	}
}
