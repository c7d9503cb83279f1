package httptransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxboard/boxsync/logging"
	"github.com/boxboard/boxsync/storage/memory"
	"github.com/boxboard/boxsync/synckit"
)

func newTestHandler(t *testing.T, opts ...ServerOption) (*Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]ServerOption{WithServerLogger(logging.Discard())}, opts...)
	h, err := NewHandler(store, opts...)
	require.NoError(t, err)
	return h, store
}

func serve(h http.Handler, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)

	_, err = NewHandler(memory.New(), WithServedCollections("users", "boxes"))
	require.Error(t, err)
}

func TestHandler_Health(t *testing.T) {
	h, _ := newTestHandler(t, WithVerifier(StaticVerifier("tok")))

	rec := serve(h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandler_ExportSortsByID(t *testing.T) {
	h, store := newTestHandler(t)
	require.NoError(t, store.ReplaceAll(context.Background(), synckit.CollectionObjects, []synckit.Record{
		record("10", "t"), record("2", "t"), record("abc", "t"),
	}))

	rec := serve(h, http.MethodGet, "/export-bulk/objects", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.EqualValues(t, 2, got[0]["id"])
	assert.EqualValues(t, 10, got[1]["id"])
	assert.Equal(t, "abc", got[2]["id"])
}

func TestHandler_UnknownCollection(t *testing.T) {
	h, _ := newTestHandler(t, WithServedCollections(synckit.CollectionUsers))

	rec := serve(h, http.MethodGet, "/export-bulk/notes", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodGet, "/export-bulk/users", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := serve(h, http.MethodPost, "/export-bulk/users", strings.NewReader(`[]`), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(h, http.MethodGet, "/import-bulk/users", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_Import(t *testing.T) {
	h, store := newTestHandler(t)
	require.NoError(t, store.ReplaceAll(context.Background(), synckit.CollectionUsers, []synckit.Record{
		record("99", "old"),
	}))

	body := `[{"id": 1, "name": "Ada", "role": "Operatore", "updated_at": "t1"},
	          {"id": 2, "name": "Bob", "updated_at": "t2"}]`
	rec := serve(h, http.MethodPost, "/import-bulk/users", strings.NewReader(body),
		map[string]string{"Content-Type": "application/json; charset=utf-8"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"collection":"users","imported":2}`, rec.Body.String())

	snap, err := store.ReadAll(context.Background(), synckit.CollectionUsers)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, snap.IDs())
}

func TestHandler_ImportRejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		header   map[string]string
		opts     []ServerOption
		wantCode int
	}{
		{
			name:     "malformed json",
			body:     `[{"id": 1`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty body",
			body:     ``,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing id",
			body:     `[{"name": "x"}]`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "duplicate ids",
			body:     `[{"id": 1}, {"id": "1"}]`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "enum violation",
			body:     `[{"id": 1, "role": "Admin"}]`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "wrong media type",
			body:     `[]`,
			header:   map[string]string{"Content-Type": "text/plain"},
			wantCode: http.StatusUnsupportedMediaType,
		},
		{
			name:     "unsupported encoding",
			body:     `[]`,
			header:   map[string]string{"Content-Encoding": "br"},
			wantCode: http.StatusUnsupportedMediaType,
		},
		{
			name:     "invalid gzip",
			body:     `not gzip`,
			header:   map[string]string{"Content-Encoding": "gzip"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "body too large",
			body:     `[{"id": 1, "name": "` + strings.Repeat("x", 200) + `"}]`,
			opts:     []ServerOption{WithMaxRequestSize(64)},
			wantCode: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newTestHandler(t, tt.opts...)
			rec := serve(h, http.MethodPost, "/import-bulk/users", strings.NewReader(tt.body), tt.header)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			snap, err := store.ReadAll(context.Background(), synckit.CollectionUsers)
			require.NoError(t, err)
			assert.Empty(t, snap)
		})
	}
}

func TestHandler_ImportSkipsSchemaWhenDisabled(t *testing.T) {
	h, _ := newTestHandler(t, WithRecordValidation(false))

	rec := serve(h, http.MethodPost, "/import-bulk/users", strings.NewReader(`[{"id": 1, "role": "Admin"}]`), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ImportGzip(t *testing.T) {
	h, store := newTestHandler(t)

	compressed, err := gzipPayload([]byte(`[{"id": "n-1", "text": "fragile"}]`))
	require.NoError(t, err)
	rec := serve(h, http.MethodPost, "/import-bulk/notes", bytes.NewReader(compressed),
		map[string]string{"Content-Encoding": "gzip", "Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	snap, err := store.ReadAll(context.Background(), synckit.CollectionNotes)
	require.NoError(t, err)
	assert.Equal(t, "fragile", snap["n-1"].Fields["text"])
}

func TestHandler_ImportGzipBomb(t *testing.T) {
	h, _ := newTestHandler(t, WithMaxDecompressedSize(1024))

	payload := `[{"id": 1, "name": "` + strings.Repeat("a", 64*1024) + `"}]`
	compressed, err := gzipPayload([]byte(payload))
	require.NoError(t, err)
	require.Less(t, len(compressed), 1024)

	rec := serve(h, http.MethodPost, "/import-bulk/users", bytes.NewReader(compressed),
		map[string]string{"Content-Encoding": "gzip"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandler_CompressedResponse(t *testing.T) {
	h, store := newTestHandler(t, WithCompressionThreshold(16))
	require.NoError(t, store.ReplaceAll(context.Background(), synckit.CollectionLocations, []synckit.Record{
		record("1", "t", "name", strings.Repeat("Magazzino ", 10)),
	}))

	rec := serve(h, http.MethodGet, "/export-bulk/locations", nil, map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	defer gz.Close()
	var got []map[string]any
	require.NoError(t, json.NewDecoder(gz).Decode(&got))
	assert.Len(t, got, 1)

	plain := serve(h, http.MethodGet, "/export-bulk/locations", nil, nil)
	assert.Empty(t, plain.Header().Get("Content-Encoding"))
}

func TestHandler_Authentication(t *testing.T) {
	h, _ := newTestHandler(t, WithVerifier(StaticVerifier("tok")))

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dG9r", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer tok", http.StatusOK},
		{"scheme case-insensitive", "bearer tok", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.header != "" {
				header["Authorization"] = tt.header
			}
			rec := serve(h, http.MethodGet, "/export-bulk/users", nil, header)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}
