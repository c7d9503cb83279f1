package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/boxboard/boxsync/logging"
	"github.com/boxboard/boxsync/synckit"
)

// ImportAck is the acknowledgement body of a successful import.
type ImportAck struct {
	Collection string `json:"collection"`
	Imported   int    `json:"imported"`
}

// Handler serves the remote side of the protocol from a ReplicaStore:
//
//	GET  /health
//	GET  /export-bulk/{collection}
//	POST /import-bulk/{collection}
//
// An import replaces the whole collection.
type Handler struct {
	store   synckit.ReplicaStore
	options *ServerOptions
	logger  *logging.Logger
	allowed map[string]synckit.Schema
	mux     *http.ServeMux
}

// NewHandler creates a handler over store.
func NewHandler(store synckit.ReplicaStore, opts ...ServerOption) (*Handler, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	options := applyServerOptions(opts...)

	names := options.Collections
	if len(names) == 0 {
		names = synckit.DefaultCollections()
	}
	if err := synckit.ValidateCollections(names); err != nil {
		return nil, err
	}
	allowed := make(map[string]synckit.Schema, len(names))
	for _, n := range names {
		schema, _ := synckit.LookupSchema(n)
		allowed[n] = schema
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	h := &Handler{
		store:   store,
		options: options,
		logger:  logger.WithComponent("handler"),
		allowed: allowed,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /export-bulk/{collection}", h.authenticated(h.handleExport))
	h.mux.HandleFunc("POST /import-bulk/{collection}", h.authenticated(h.handleImport))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.options.Verifier == nil {
			next(w, r)
			return
		}
		token, err := bearerToken(r)
		if err == nil {
			_, err = h.options.Verifier.Verify(token)
		}
		if err != nil {
			h.logger.Warn("Rejected request",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			w.Header().Set("WWW-Authenticate", `Bearer realm="boxsync"`)
			respondWithError(w, r, http.StatusUnauthorized, err.Error(), h.options)
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"}, h.options)
}

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) (string, synckit.Schema, bool) {
	name := r.PathValue("collection")
	schema, ok := h.allowed[name]
	if !ok {
		respondWithError(w, r, http.StatusNotFound, fmt.Sprintf("unknown collection %q", name), h.options)
	}
	return name, schema, ok
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	name, _, ok := h.collection(w, r)
	if !ok {
		return
	}
	snap, err := h.store.ReadAll(r.Context(), name)
	if err != nil {
		h.logger.LogError(r.Context(), err, "Export failed", slog.String("collection", name))
		respondWithError(w, r, http.StatusInternalServerError, "failed to read collection", h.options)
		return
	}
	respondWithJSON(w, r, http.StatusOK, snap.Records(), h.options)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	name, schema, ok := h.collection(w, r)
	if !ok {
		return
	}

	reader, cleanup, err := createSafeRequestReader(w, r, h.options)
	if err != nil {
		respondWithError(w, r, statusForBodyError(err), err.Error(), h.options)
		return
	}
	defer cleanup()

	var records []synckit.Record
	if err := json.NewDecoder(reader).Decode(&records); err != nil {
		respondWithError(w, r, statusForBodyError(err), fmt.Sprintf("invalid request body: %v", err), h.options)
		return
	}
	if _, err := synckit.NewSnapshot(records); err != nil {
		respondWithError(w, r, http.StatusUnprocessableEntity, err.Error(), h.options)
		return
	}
	if h.options.ValidateRecords {
		for _, rec := range records {
			if err := schema.Check(rec); err != nil {
				respondWithError(w, r, http.StatusUnprocessableEntity, err.Error(), h.options)
				return
			}
		}
	}

	if err := h.store.ReplaceAll(r.Context(), name, records); err != nil {
		h.logger.LogError(r.Context(), err, "Import failed", slog.String("collection", name))
		respondWithError(w, r, http.StatusInternalServerError, "failed to store collection", h.options)
		return
	}

	h.logger.Info("Imported collection",
		slog.String("collection", name),
		slog.Int("record_count", len(records)))
	respondWithJSON(w, r, http.StatusOK, ImportAck{Collection: name, Imported: len(records)}, h.options)
}
