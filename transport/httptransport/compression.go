package httptransport

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Body errors map to statuses in statusForBodyError:
// - invalid gzip → 400 Bad Request
// - compressed or decompressed limit exceeded → 413 Request Entity Too Large
// - unsupported media type or encoding → 415 Unsupported Media Type
var (
	errDecompressedTooLarge   = errors.New("decompressed data exceeds maximum size limit")
	errCompressedTooLarge     = errors.New("compressed body exceeds maximum size limit")
	errUnsupportedMediaType   = errors.New("unsupported media type")
	errUnsupportedContentType = errors.New("unsupported content encoding")
	errInvalidGzip            = errors.New("invalid gzip data")
)

const (
	defaultMaxBody         = 10 * 1024 * 1024
	defaultMaxDecompressed = 20 * 1024 * 1024
)

// maxDecompressedReader wraps an io.Reader to enforce decompressed size limits
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		// One byte past the limit means the body really is larger.
		var probe [1]byte
		if n, _ := r.reader.Read(probe[:]); n > 0 {
			return 0, errDecompressedTooLarge
		}
		return 0, io.EOF
	}
	if remaining := r.limit - r.consumed; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.reader.Read(p)
	r.consumed += int64(n)
	return n, err
}

// maxBodyReader enforces the compressed limit on a response body.
type maxBodyReader struct {
	reader io.Reader
	limit  int64
	read   int64
}

func (r *maxBodyReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read += int64(n)
	if r.read > r.limit {
		return n, errCompressedTooLarge
	}
	return n, err
}

func orDefault(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}

// createSafeRequestReader creates a reader that enforces both compressed and decompressed size limits
// Returns the reader, cleanup function, and error
func createSafeRequestReader(w http.ResponseWriter, r *http.Request, options *ServerOptions) (io.Reader, func(), error) {
	noop := func() {}
	maxRequestSize := orDefault(options.MaxRequestSize, defaultMaxBody)
	maxDecompressedSize := orDefault(options.MaxDecompressedSize, defaultMaxDecompressed)

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return nil, noop, fmt.Errorf("%w: %s", errUnsupportedMediaType, ct)
		}
	}

	if r.ContentLength > maxRequestSize {
		return nil, noop, fmt.Errorf("%w: %d bytes (max %d)", errCompressedTooLarge, r.ContentLength, maxRequestSize)
	}

	encoding := strings.TrimSpace(strings.ToLower(r.Header.Get("Content-Encoding")))
	switch encoding {
	case "":
		// Uncompressed bodies get the stricter of the two limits.
		limit := maxRequestSize
		if maxDecompressedSize < limit {
			limit = maxDecompressedSize
		}
		return http.MaxBytesReader(w, r.Body, limit), noop, nil
	case "gzip":
	default:
		return nil, noop, fmt.Errorf("%w: %s (only gzip is supported)", errUnsupportedContentType, encoding)
	}

	gz, err := gzip.NewReader(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		return nil, noop, fmt.Errorf("%w: %v", errInvalidGzip, err)
	}
	return &maxDecompressedReader{reader: gz, limit: maxDecompressedSize}, func() { gz.Close() }, nil
}

// createSafeResponseReader is the client-side counterpart: the compressed
// body is bounded by MaxResponseSize and a gzip body by
// MaxDecompressedResponseSize once inflated.
func createSafeResponseReader(resp *http.Response, options *ClientOptions) (io.Reader, func(), error) {
	noop := func() {}
	maxBody := orDefault(options.MaxResponseSize, defaultMaxBody)
	maxDecompressed := orDefault(options.MaxDecompressedResponseSize, defaultMaxDecompressed)

	if resp.ContentLength > maxBody {
		return nil, noop, fmt.Errorf("%w: %d bytes (max %d)", errCompressedTooLarge, resp.ContentLength, maxBody)
	}
	body := &maxBodyReader{reader: resp.Body, limit: maxBody}

	switch strings.TrimSpace(strings.ToLower(resp.Header.Get("Content-Encoding"))) {
	case "":
		return body, noop, nil
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: %v", errInvalidGzip, err)
		}
		return &maxDecompressedReader{reader: gz, limit: maxDecompressed}, func() { gz.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("%w: %s", errUnsupportedContentType, resp.Header.Get("Content-Encoding"))
	}
}

// gzipPayload compresses payload in one shot.
func gzipPayload(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// statusForBodyError maps request body failures to HTTP status codes
func statusForBodyError(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errDecompressedTooLarge),
		errors.Is(err, errCompressedTooLarge),
		errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedMediaType), errors.Is(err, errUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}
