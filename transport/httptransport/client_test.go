package httptransport

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/boxboard/boxsync/errors"
	"github.com/boxboard/boxsync/logging"
	"github.com/boxboard/boxsync/storage/memory"
	"github.com/boxboard/boxsync/synckit"
)

func record(id, updatedAt string, kv ...string) synckit.Record {
	r := synckit.Record{ID: id, UpdatedAt: updatedAt, Fields: map[string]any{}}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Fields[kv[i]] = kv[i+1]
	}
	return r
}

func newTestServer(t *testing.T, opts ...ServerOption) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]ServerOption{WithServerLogger(logging.Discard())}, opts...)
	h, err := NewHandler(store, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, store
}

func newTestClient(t *testing.T, baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	t.Helper()
	opts = append([]ClientOption{WithClientLogger(logging.Discard())}, opts...)
	c, err := NewClient(baseURL, tokens, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://example.com", "http://"} {
		_, err := NewClient(raw, nil)
		require.Error(t, err, raw)
		assert.True(t, syncErrors.HasCode(err, syncErrors.ErrCodeConfigFailure), raw)
	}
}

func TestNewClient_InvalidOptions(t *testing.T) {
	_, err := NewClient("http://example.com", nil, WithGzipMinBytes(-1))
	require.Error(t, err)

	_, err = NewClient("http://example.com", nil, WithMaxResponseSize(100), WithMaxDecompressedResponseSize(10))
	require.Error(t, err)
}

func TestClient_ImportThenExport(t *testing.T) {
	srv, store := newTestServer(t)
	c := newTestClient(t, srv.URL+"/", nil)
	ctx := context.Background()

	records := []synckit.Record{
		record("2", "2024-01-02T00:00:00Z", "name", "Garage"),
		record("1", "2024-01-01T00:00:00Z", "name", "Cantina"),
	}
	ack, err := c.Import(ctx, synckit.CollectionLocations, records)
	require.NoError(t, err)

	var decoded ImportAck
	require.NoError(t, json.Unmarshal(ack, &decoded))
	assert.Equal(t, ImportAck{Collection: synckit.CollectionLocations, Imported: 2}, decoded)

	snap, err := store.ReadAll(ctx, synckit.CollectionLocations)
	require.NoError(t, err)
	assert.Len(t, snap, 2)

	got, err := c.Export(ctx, synckit.CollectionLocations)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "Cantina", got[0].Fields["name"])
	assert.Equal(t, "2024-01-02T00:00:00Z", got[1].UpdatedAt)
}

func TestClient_ExportEmptyCollection(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newTestClient(t, srv.URL, nil)

	got, err := c.Export(context.Background(), synckit.CollectionNotes)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_ImportNilSendsEmptyArray(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	ack, err := c.Import(context.Background(), synckit.CollectionUsers, nil)
	require.NoError(t, err)
	assert.Nil(t, ack)
	assert.Equal(t, "[]", body)
}

func TestClient_StaticBearerToken(t *testing.T) {
	srv, _ := newTestServer(t, WithVerifier(StaticVerifier("secret-token")))

	ok := newTestClient(t, srv.URL, StaticToken("secret-token"))
	_, err := ok.Export(context.Background(), synckit.CollectionUsers)
	require.NoError(t, err)

	bad := newTestClient(t, srv.URL, StaticToken("wrong"))
	_, err = bad.Export(context.Background(), synckit.CollectionUsers)
	require.Error(t, err)
	assert.True(t, syncErrors.IsIOFailure(err))
	assert.False(t, syncErrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "status 401")

	anonymous := newTestClient(t, srv.URL, nil)
	_, err = anonymous.Export(context.Background(), synckit.CollectionUsers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization header required")
}

func TestClient_JWTBearerToken(t *testing.T) {
	srv, _ := newTestServer(t, WithVerifier(NewJWTVerifier("shared")))

	src, err := NewJWTSource("shared", "operator", "laptop-1", time.Hour)
	require.NoError(t, err)
	c := newTestClient(t, srv.URL, src)

	_, err = c.Import(context.Background(), synckit.CollectionUsers, []synckit.Record{record("1", "t1", "name", "Ada")})
	require.NoError(t, err)

	other, err := NewJWTSource("different", "operator", "laptop-1", time.Hour)
	require.NoError(t, err)
	_, err = newTestClient(t, srv.URL, other).Export(context.Background(), synckit.CollectionUsers)
	require.Error(t, err)
	assert.True(t, syncErrors.IsIOFailure(err))
}

func TestClient_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.Export(context.Background(), synckit.CollectionObjects)
	require.Error(t, err)
	assert.True(t, syncErrors.IsIOFailure(err))
	assert.True(t, syncErrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "database down")

	var se *syncErrors.SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, synckit.CollectionObjects, se.Collection)
	assert.Equal(t, http.StatusServiceUnavailable, se.Metadata["status_code"])
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, nil)
	_, err := c.Export(context.Background(), synckit.CollectionUsers)
	require.Error(t, err)
	assert.True(t, syncErrors.IsIOFailure(err))
	assert.True(t, syncErrors.IsRetryable(err))
}

func TestClient_CancelledContextIsNotRetryable(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := newTestClient(t, srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Export(ctx, synckit.CollectionUsers)
	require.Error(t, err)
	assert.True(t, syncErrors.IsIOFailure(err))
	assert.False(t, syncErrors.IsRetryable(err))
}

func TestClient_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
		call func(*Client) error
	}{
		{
			name: "export not an array",
			body: `{"id": 1}`,
			call: func(c *Client) error {
				_, err := c.Export(context.Background(), synckit.CollectionUsers)
				return err
			},
		},
		{
			name: "export record without id",
			body: `[{"name": "x"}]`,
			call: func(c *Client) error {
				_, err := c.Export(context.Background(), synckit.CollectionUsers)
				return err
			},
		},
		{
			name: "import ack not json",
			body: `ok!`,
			call: func(c *Client) error {
				_, err := c.Import(context.Background(), synckit.CollectionUsers, nil)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			err := tt.call(newTestClient(t, srv.URL, nil))
			require.Error(t, err)
			assert.True(t, syncErrors.IsIOFailure(err))
		})
	}
}

func TestClient_GzipRequestAboveThreshold(t *testing.T) {
	var encodings []string
	var received [][]synckit.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encodings = append(encodings, r.Header.Get("Content-Encoding"))
		var body io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			require.NoError(t, err)
			defer gz.Close()
			body = gz
		}
		var records []synckit.Record
		require.NoError(t, json.NewDecoder(body).Decode(&records))
		received = append(received, records)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, WithGzipMinBytes(256))

	small := []synckit.Record{record("1", "t", "name", "a")}
	_, err := c.Import(context.Background(), synckit.CollectionUsers, small)
	require.NoError(t, err)

	large := make([]synckit.Record, 0, 50)
	for i := 0; i < 50; i++ {
		large = append(large, record(fmt.Sprint(i+1), "t", "name", strings.Repeat("x", 20)))
	}
	ack, err := c.Import(context.Background(), synckit.CollectionUsers, large)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(ack))

	assert.Equal(t, []string{"", "gzip"}, encodings)
	require.Len(t, received, 2)
	assert.Len(t, received[1], 50)
}

func TestClient_GzipDisabled(t *testing.T) {
	var sawGzip atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "" || r.Header.Get("Accept-Encoding") != "" {
			sawGzip.Store(true)
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, WithClientCompression(false), WithGzipMinBytes(0))
	_, err := c.Import(context.Background(), synckit.CollectionUsers, []synckit.Record{record("1", "t")})
	require.NoError(t, err)
	assert.False(t, sawGzip.Load())
}

func TestClient_GzipResponse(t *testing.T) {
	srv, store := newTestServer(t, WithCompressionThreshold(0))
	require.NoError(t, store.ReplaceAll(context.Background(), synckit.CollectionActivities, []synckit.Record{
		record("1", "t1", "name", "Sgombero"),
	}))

	c := newTestClient(t, srv.URL, nil)
	got, err := c.Export(context.Background(), synckit.CollectionActivities)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Sgombero", got[0].Fields["name"])
}

func TestClient_ResponseLimits(t *testing.T) {
	big := "[" + strings.Repeat(`{"id":"x"},`, 200) + `{"id":"y"}]`

	t.Run("plain body over limit", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, big)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, nil, WithMaxResponseSize(64), WithMaxDecompressedResponseSize(1024))
		_, err := c.Export(context.Background(), synckit.CollectionUsers)
		require.Error(t, err)
		assert.True(t, syncErrors.IsIOFailure(err))
	})

	t.Run("gzip body inflates over limit", func(t *testing.T) {
		compressed, err := gzipPayload([]byte(big))
		require.NoError(t, err)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(compressed)
		}))
		defer srv.Close()

		limit := int64(len(big) / 2)
		require.Less(t, int64(len(compressed)), limit)

		c := newTestClient(t, srv.URL, nil, WithMaxResponseSize(limit), WithMaxDecompressedResponseSize(limit))
		_, err = c.Export(context.Background(), synckit.CollectionUsers)
		require.Error(t, err)
		assert.True(t, syncErrors.IsIOFailure(err))
		assert.ErrorIs(t, err, errDecompressedTooLarge)
	})
}

func TestClient_EscapesCollection(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api", nil)
	_, err := c.Export(context.Background(), "a b/c")
	require.NoError(t, err)
	assert.Equal(t, "/api/export-bulk/a%20b%2Fc", path)
}
