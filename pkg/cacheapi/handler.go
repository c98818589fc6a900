// Package cacheapi exposes the LLM cache and the embedding store over JSON
// HTTP endpoints.
package cacheapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/illmade-knight/go-llmescache/pkg/elastic"
	"github.com/illmade-knight/go-llmescache/pkg/embedstore"
	"github.com/illmade-knight/go-llmescache/pkg/llmcache"
	"github.com/rs/zerolog"
)

// maxBody bounds a request body.
const maxBody = 32 << 20

// VectorStore is the batch interface of the embedding store.
type VectorStore interface {
	MGet(ctx context.Context, keys []string) ([][]float32, error)
	MSet(ctx context.Context, pairs []embedstore.Pair) error
	MDelete(ctx context.Context, keys []string) error
}

var _ VectorStore = (*embedstore.Store)(nil)

// LookupRequest identifies one cached LLM call.
type LookupRequest struct {
	Prompt    string `json:"prompt"`
	LLMString string `json:"llm_string"`
}

// LookupResponse carries the cached generations of a hit.
type LookupResponse struct {
	Hit         bool                  `json:"hit"`
	Generations []llmcache.Generation `json:"generations,omitempty"`
}

// UpdateRequest stores the generations of one LLM call.
type UpdateRequest struct {
	Prompt      string                `json:"prompt"`
	LLMString   string                `json:"llm_string"`
	Generations []llmcache.Generation `json:"generations"`
}

// KeysRequest names the vectors to read or delete.
type KeysRequest struct {
	Keys []string `json:"keys"`
}

// VectorsResponse answers a KeysRequest in key order; a missing key is null.
type VectorsResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// VectorPair is the wire form of embedstore.Pair.
type VectorPair struct {
	Key    string    `json:"key"`
	Vector []float32 `json:"vector"`
}

// SetRequest stores vectors.
type SetRequest struct {
	Pairs []VectorPair `json:"pairs"`
}

// Handler serves the cache endpoints. Either dependency may be nil, in which
// case its routes are not registered.
type Handler struct {
	llm     llmcache.LLMCache
	vectors VectorStore
	logger  zerolog.Logger
}

// NewHandler creates a Handler.
func NewHandler(llm llmcache.LLMCache, vectors VectorStore, logger zerolog.Logger) *Handler {
	return &Handler{
		llm:     llm,
		vectors: vectors,
		logger:  logger.With().Str("component", "CacheAPI").Logger(),
	}
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h.llm != nil {
		mux.HandleFunc("POST /v1/llm/lookup", h.lookup)
		mux.HandleFunc("POST /v1/llm/update", h.update)
		mux.HandleFunc("POST /v1/llm/clear", h.clear)
	}
	if h.vectors != nil {
		mux.HandleFunc("POST /v1/vectors/mget", h.mget)
		mux.HandleFunc("POST /v1/vectors/mset", h.mset)
		mux.HandleFunc("POST /v1/vectors/mdelete", h.mdelete)
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	if !h.decode(w, r, &req) {
		return
	}
	gens, hit, err := h.llm.Lookup(r.Context(), req.Prompt, req.LLMString)
	if err != nil {
		h.fail(w, "lookup", err)
		return
	}
	h.respond(w, LookupResponse{Hit: hit, Generations: gens})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.llm.Update(r.Context(), req.Prompt, req.LLMString, req.Generations); err != nil {
		h.fail(w, "update", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.llm.Clear(r.Context()); err != nil {
		h.fail(w, "clear", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) mget(w http.ResponseWriter, r *http.Request) {
	var req KeysRequest
	if !h.decode(w, r, &req) {
		return
	}
	vectors, err := h.vectors.MGet(r.Context(), req.Keys)
	if err != nil {
		h.fail(w, "mget", err)
		return
	}
	h.respond(w, VectorsResponse{Vectors: vectors})
}

func (h *Handler) mset(w http.ResponseWriter, r *http.Request) {
	var req SetRequest
	if !h.decode(w, r, &req) {
		return
	}
	pairs := make([]embedstore.Pair, len(req.Pairs))
	for i, p := range req.Pairs {
		pairs[i] = embedstore.Pair{Key: p.Key, Vector: p.Vector}
	}
	if err := h.vectors.MSet(r.Context(), pairs); err != nil {
		h.fail(w, "mset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) mdelete(w http.ResponseWriter, r *http.Request) {
	var req KeysRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.vectors.MDelete(r.Context(), req.Keys); err != nil {
		h.fail(w, "mdelete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		h.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected malformed request body.")
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("Failed to write response.")
	}
}

// fail maps a cache error onto a status code. An unreachable cluster or a
// rejected bulk action is the upstream's fault; a record that cannot be
// decoded is a conflict with what is stored.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	var bulkErr *elastic.BulkError
	switch {
	case errors.Is(err, elastic.ErrUnavailable), errors.As(err, &bulkErr):
		status = http.StatusBadGateway
	case errors.Is(err, llmcache.ErrMalformedRecord):
		status = http.StatusConflict
	}
	h.logger.Error().Err(err).Str("operation", op).Int("status", status).Msg("Cache operation failed.")
	http.Error(w, err.Error(), status)
}
