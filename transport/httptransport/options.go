package httptransport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/boxboard/boxsync/logging"
)

// ServerOptions configures the reference Handler.
type ServerOptions struct {
	// MaxRequestSize is the maximum allowed size of incoming request bodies in bytes (compressed)
	// If 0, defaults to 10MB
	MaxRequestSize int64

	// MaxDecompressedSize is the maximum allowed size of decompressed request bodies in bytes.
	// Bounds gzip-compressed imports.
	// If 0, defaults to 20MB
	MaxDecompressedSize int64

	// CompressionEnabled enables gzip compression for responses
	// Responses larger than CompressionThreshold will be compressed
	CompressionEnabled bool

	// CompressionThreshold is the minimum size in bytes before responses are compressed
	CompressionThreshold int64

	// Collections is the allowlist of served collections. Empty serves the
	// whole catalogue.
	Collections []string

	// ValidateRecords rejects imports whose records fail the collection schema.
	ValidateRecords bool

	// Verifier authenticates requests. Nil disables authentication.
	Verifier Verifier

	Logger *logging.Logger
}

// DefaultServerOptions returns the handler defaults.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize:       10 * 1024 * 1024, // 10MB
		MaxDecompressedSize:  20 * 1024 * 1024, // 20MB
		CompressionEnabled:   true,
		CompressionThreshold: 1024, // 1KB
		ValidateRecords:      true,
	}
}

// ClientOptions configures the gateway client.
type ClientOptions struct {
	// CompressionEnabled gzips request bodies above GzipMinBytes and asks
	// for gzip responses.
	CompressionEnabled bool

	// GzipMinBytes is the minimum request payload size before it is compressed
	GzipMinBytes int

	// MaxResponseSize is the maximum allowed size of response bodies in bytes (compressed)
	// If 0, defaults to 10MB
	MaxResponseSize int64

	// MaxDecompressedResponseSize is the maximum allowed size of decompressed response bodies in bytes
	// If 0, defaults to 20MB
	MaxDecompressedResponseSize int64

	// RequestTimeout bounds a single HTTP exchange. The caller's context
	// still applies.
	RequestTimeout time.Duration

	HTTPClient *http.Client
	Logger     *logging.Logger
}

// DefaultClientOptions returns the client defaults.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CompressionEnabled:          true,
		GzipMinBytes:                1024,             // 1KB
		MaxResponseSize:             10 * 1024 * 1024, // 10MB
		MaxDecompressedResponseSize: 20 * 1024 * 1024, // 20MB
		RequestTimeout:              30 * time.Second,
	}
}

// ValidateClientOptions checks the client limits.
func ValidateClientOptions(o *ClientOptions) error {
	if o.GzipMinBytes < 0 {
		return fmt.Errorf("gzip min bytes cannot be negative: %d", o.GzipMinBytes)
	}
	if o.MaxResponseSize < 0 || o.MaxDecompressedResponseSize < 0 {
		return fmt.Errorf("response size limits cannot be negative")
	}
	if o.MaxDecompressedResponseSize > 0 && o.MaxResponseSize > o.MaxDecompressedResponseSize {
		return fmt.Errorf("max response size (%d) exceeds max decompressed response size (%d)",
			o.MaxResponseSize, o.MaxDecompressedResponseSize)
	}
	if o.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	return nil
}

// ServerOption is a function that configures a ServerOptions struct
type ServerOption func(*ServerOptions)

// WithMaxRequestSize sets the maximum allowed size of incoming request bodies
func WithMaxRequestSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxRequestSize = size
	}
}

// WithMaxDecompressedSize sets the maximum allowed size of decompressed request bodies
func WithMaxDecompressedSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxDecompressedSize = size
	}
}

// WithCompression enables or disables response compression
func WithCompression(enabled bool) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionEnabled = enabled
	}
}

// WithCompressionThreshold sets the minimum size for response compression
func WithCompressionThreshold(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionThreshold = size
	}
}

// WithServedCollections restricts the handler to the named collections.
func WithServedCollections(names ...string) ServerOption {
	return func(opts *ServerOptions) {
		opts.Collections = append([]string(nil), names...)
	}
}

// WithRecordValidation toggles schema checks on imports.
func WithRecordValidation(enabled bool) ServerOption {
	return func(opts *ServerOptions) {
		opts.ValidateRecords = enabled
	}
}

// WithVerifier sets the bearer token verifier.
func WithVerifier(v Verifier) ServerOption {
	return func(opts *ServerOptions) {
		opts.Verifier = v
	}
}

// WithServerLogger sets the handler logger.
func WithServerLogger(l *logging.Logger) ServerOption {
	return func(opts *ServerOptions) {
		opts.Logger = l
	}
}

// ClientOption is a function that configures a ClientOptions struct
type ClientOption func(*ClientOptions)

// WithClientCompression enables or disables request/response compression
func WithClientCompression(enabled bool) ClientOption {
	return func(opts *ClientOptions) {
		opts.CompressionEnabled = enabled
	}
}

// WithGzipMinBytes sets the payload size above which requests are gzipped.
func WithGzipMinBytes(n int) ClientOption {
	return func(opts *ClientOptions) {
		opts.GzipMinBytes = n
	}
}

// WithMaxResponseSize sets the maximum allowed size of response bodies
func WithMaxResponseSize(size int64) ClientOption {
	return func(opts *ClientOptions) {
		opts.MaxResponseSize = size
	}
}

// WithMaxDecompressedResponseSize sets the decompressed response limit.
func WithMaxDecompressedResponseSize(size int64) ClientOption {
	return func(opts *ClientOptions) {
		opts.MaxDecompressedResponseSize = size
	}
}

// WithClientTimeout sets the timeout for all requests
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(opts *ClientOptions) {
		opts.RequestTimeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(opts *ClientOptions) {
		opts.HTTPClient = cl
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(opts *ClientOptions) {
		opts.Logger = l
	}
}

// applyServerOptions creates a new ServerOptions with the given options applied
func applyServerOptions(opts ...ServerOption) *ServerOptions {
	options := DefaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applyClientOptions creates a new ClientOptions with the given options applied
func applyClientOptions(opts ...ClientOption) *ClientOptions {
	options := DefaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
