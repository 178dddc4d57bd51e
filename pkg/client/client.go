package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/zstd"
	"github.com/lgulliver/stowaway/pkg/types"
	"github.com/lgulliver/stowaway/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client talks to a stowaway server. Control-plane calls (init, complete,
// status) go through a retrying HTTP client; chunk sends are single
// attempts because the Scheduler owns chunk retries.
type Client struct {
	baseURL  string
	api      *retryablehttp.Client
	http     *http.Client
	encoder  *zstd.Encoder
	compress bool
	logger   zerolog.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for chunk transfers
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCompression sends chunk bodies zstd-compressed
func WithCompression(enabled bool) Option {
	return func(c *Client) { c.compress = enabled }
}

// WithControlRetries sets how often control-plane calls are retried
func WithControlRetries(n int) Option {
	return func(c *Client) { c.api.RetryMax = n }
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}

	api := retryablehttp.NewClient()
	api.RetryMax = 4
	api.RetryWaitMin = 500 * time.Millisecond
	api.RetryWaitMax = 10 * time.Second
	api.CheckRetry = checkRetry
	api.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     api,
		http:    &http.Client{},
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	api.Logger = leveledLogger{c.logger}

	if c.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.encoder = enc
	}

	return c, nil
}

// checkRetry retries transport failures and transient gateway statuses.
// Classified server errors are final: retrying a failed finalize cannot
// succeed.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

// Init opens or resumes the session described by req
func (c *Client) Init(ctx context.Context, req types.InitRequest) (*types.InitResponse, error) {
	var resp types.InitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload/init", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Complete asks the server to finalize uploadID
func (c *Client) Complete(ctx context.Context, uploadID string) (*types.FinalizeResult, error) {
	var resp types.FinalizeResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload/complete", types.CompleteRequest{UploadID: uploadID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the server view of uploadID
func (c *Client) Status(ctx context.Context, uploadID string) (*types.StatusResponse, error) {
	var resp types.StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/upload/"+url.PathEscape(uploadID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendChunk transfers one chunk in a single attempt
func (c *Client) SendChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	body := data
	if c.encoder != nil {
		body = c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload/chunk", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(types.HeaderUploadID, uploadID)
	req.Header.Set(types.HeaderChunkIndex, strconv.Itoa(index))
	req.Header.Set(types.HeaderChunkChecksum, utils.ChunkChecksum(data))
	if c.encoder != nil {
		req.Header.Set("Content-Encoding", "zstd")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send chunk %d: %w", index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close releases compression resources
func (c *Client) Close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body interface{}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = data
	}

	req, err := retryablehttp.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
