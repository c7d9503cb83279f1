// Package httptransport connects boxsync to the remote authoritative store
// over its bulk HTTP endpoints. Client implements synckit.Gateway; Handler
// is a reference implementation of the remote side.
package httptransport

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

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/logging"
	"github.com/boxboard/boxsync/synckit"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Client implements synckit.Gateway against
// GET {base}/export-bulk/{collection} and POST {base}/import-bulk/{collection}.
type Client struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	options *ClientOptions
	logger  *logging.Logger
}

var _ synckit.Gateway = (*Client)(nil)

// newHTTPClient creates an HTTP client that leaves decompression to us so
// both size limits can be enforced.
func newHTTPClient(opts *ClientOptions) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableCompression = true
	return &http.Client{Transport: tr, Timeout: opts.RequestTimeout}
}

// NewClient creates a gateway client. tokens may be nil when the remote
// does not require authentication.
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, syncErrors.NewConfigError(fmt.Errorf("invalid base URL %q", baseURL))
	}
	options := applyClientOptions(opts...)
	if err := ValidateClientOptions(options); err != nil {
		return nil, syncErrors.NewConfigError(err)
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	client := options.HTTPClient
	if client == nil {
		client = newHTTPClient(options)
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  client,
		options: options,
		logger:  logger.WithComponent("gateway"),
	}, nil
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) endpoint(kind, collection string) string {
	return c.baseURL + "/" + kind + "/" + url.PathEscape(collection)
}

// Export fetches the full remote content of a collection.
func (c *Client) Export(ctx context.Context, collection string) ([]synckit.Record, error) {
	target := c.endpoint("export-bulk", collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, syncErrors.NewIOError(syncErrors.OpExport, collection, fmt.Errorf("failed to create request: %w", err))
	}

	body, err := c.do(req, syncErrors.OpExport, collection)
	if err != nil {
		return nil, err
	}

	var records []synckit.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, syncErrors.NewIOError(syncErrors.OpExport, collection, fmt.Errorf("failed to decode response: %w", err))
	}

	c.logger.Debug("Export completed",
		slog.String("collection", collection),
		slog.Int("record_count", len(records)))
	return records, nil
}

// Import sends the full local content of a collection. The acknowledgement
// is returned verbatim; an empty body yields a nil acknowledgement.
func (c *Client) Import(ctx context.Context, collection string, records []synckit.Record) (json.RawMessage, error) {
	if records == nil {
		records = []synckit.Record{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, syncErrors.NewIOError(syncErrors.OpImport, collection, fmt.Errorf("failed to marshal records: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("import-bulk", collection), bytes.NewReader(payload))
	if err != nil {
		return nil, syncErrors.NewIOError(syncErrors.OpImport, collection, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	if c.options.CompressionEnabled && len(payload) > c.options.GzipMinBytes {
		compressed, err := gzipPayload(payload)
		if err != nil {
			return nil, syncErrors.NewIOError(syncErrors.OpImport, collection, err)
		}
		req.Body = io.NopCloser(bytes.NewReader(compressed))
		req.ContentLength = int64(len(compressed))
		req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(compressed)), nil }
		req.Header.Set("Content-Encoding", "gzip")

		c.logger.Debug("Compressed import request",
			slog.String("collection", collection),
			slog.Int("original_size", len(payload)),
			slog.Int("compressed_size", len(compressed)))
	}

	body, err := c.do(req, syncErrors.OpImport, collection)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Import completed",
		slog.String("collection", collection),
		slog.Int("record_count", len(records)))

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, syncErrors.NewIOError(syncErrors.OpImport, collection, errors.New("acknowledgement is not valid JSON"))
	}
	return json.RawMessage(body), nil
}

// do sends req with auth and compression headers and returns the body of a
// 2xx response.
func (c *Client) do(req *http.Request, op syncErrors.Operation, collection string) ([]byte, error) {
	token, err := c.tokens.Token(req.Context())
	if err != nil {
		return nil, syncErrors.NewIOError(op, collection, fmt.Errorf("failed to obtain token: %w", err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if c.options.CompressionEnabled {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Gateway request failed",
			slog.String("error", err.Error()),
			slog.String("url", req.URL.String()))
		ioErr := syncErrors.NewIOError(op, collection, fmt.Errorf("network error: %w", err))
		ioErr.Retryable = req.Context().Err() == nil
		return nil, ioErr
	}
	defer resp.Body.Close()

	reader, cleanup, err := createSafeResponseReader(resp, c.options)
	if err != nil {
		return nil, syncErrors.NewIOError(op, collection, fmt.Errorf("failed to create safe response reader: %w", err))
	}
	defer cleanup()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(reader, maxErrorBody))
		c.logger.Error("Gateway request returned error status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(snippet)),
			slog.String("url", req.URL.String()))
		ioErr := syncErrors.NewIOError(op, collection,
			fmt.Errorf("server error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
		ioErr.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		ioErr.Metadata = map[string]interface{}{"status_code": resp.StatusCode}
		return nil, ioErr
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		if errors.Is(err, errDecompressedTooLarge) || errors.Is(err, errCompressedTooLarge) {
			return nil, syncErrors.NewIOError(op, collection, fmt.Errorf("response size exceeds limit: %w", err))
		}
		return nil, syncErrors.NewIOError(op, collection, fmt.Errorf("failed to read response: %w", err))
	}
	return body, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
