// Package httpapi implements the C8 HTTP Surface described in spec.md §4.8
// and §6: bearer-token auth, JSON decode, dispatch to the core query
// pipeline, and envelope serialization. No handler holds a store session
// across requests — each delegates to the executor or writer, which acquire
// and release their own scoped session per call.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kqlgateway/kqlgateway/internal/cursor"
	"github.com/kqlgateway/kqlgateway/internal/executor"
	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
	"github.com/kqlgateway/kqlgateway/internal/health"
	"github.com/kqlgateway/kqlgateway/internal/kql"
	"github.com/kqlgateway/kqlgateway/internal/legacy"
	"github.com/kqlgateway/kqlgateway/internal/observe"
	"github.com/kqlgateway/kqlgateway/internal/store"
	"github.com/kqlgateway/kqlgateway/internal/telemetry"
	"github.com/kqlgateway/kqlgateway/internal/upsert"
	"github.com/kqlgateway/kqlgateway/pkg/embeddings"
)

// Deps are the subsystems a Handler dispatches into. Embedder, Telemetry
// and Metrics may be nil, and a zero RequestTimeout defaults to 60 seconds;
// the other fields are required.
type Deps struct {
	Token          string
	Executor       *executor.Executor
	Writer         *upsert.Writer
	Telemetry      *telemetry.Recorder
	Embedder       embeddings.Provider
	Store          store.Pool
	RequestTimeout time.Duration
	Health         *health.Handler
	Metrics        *observe.Metrics
}

// Handler serves every endpoint in spec.md §6.
type Handler struct {
	deps Deps
}

// New builds the gateway's HTTP handler and registers every route.
func New(deps Deps) http.Handler {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 60 * time.Second
	}
	h := &Handler{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/ai-plugin.json", h.handlePluginManifest)
	mux.HandleFunc("POST /execute_kip", h.auth(h.handleExecuteKIP))
	mux.HandleFunc("POST /kql", h.auth(h.handleKQL))
	mux.HandleFunc("POST /propositions", h.auth(h.handlePropositions))
	mux.HandleFunc("POST /suggestions", h.auth(h.handleSuggestions))
	mux.HandleFunc("GET /telemetry/recent", h.auth(h.handleTelemetryRecent))
	deps.Health.Register(mux)

	return mux
}

// auth wraps next with the bearer-token check spec.md §4.8 requires of
// every endpoint except the discovery document.
func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("Authorization")
		want := "Bearer " + h.deps.Token
		if h.deps.Token == "" || got != want {
			writeError(w, gwerrors.Auth("missing or invalid bearer token"))
			return
		}
		next(w, r)
	}
}

// pluginManifest is the static discovery document for execute_kip.
var pluginManifest = map[string]any{
	"schema_version": "v1",
	"name_for_model": "knowledge_query_gateway",
	"name_for_human": "Knowledge Query Gateway",
	"description_for_model": "Execute KQL queries and UPSERT statements against the " +
		"Concept/Proposition knowledge graph.",
	"description_for_human": "Query and update the knowledge graph.",
	"api": map[string]any{
		"type": "openapi",
		"url":  "/execute_kip",
	},
}

func (h *Handler) handlePluginManifest(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(pluginManifest)
}

type queryRequest struct {
	Query string `json:"query"`
}

// handleExecuteKIP is the main read/write entry: it accepts canonical or
// legacy dialect (spec.md §6).
func (h *Handler) handleExecuteKIP(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gwerrors.Syntax(0, "malformed JSON request body"))
		return
	}

	query := req.Query
	queryType := executor.QueryStandard
	if rewritten, ok := legacy.Rewrite(query); ok {
		query = rewritten
		queryType = executor.QueryLegacyFind
	}

	h.runQuery(w, r, query, queryType)
}

// handleKQL is the canonical-only entry: legacy dialect is rejected rather
// than rewritten (spec.md §6).
func (h *Handler) handleKQL(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gwerrors.Syntax(0, "malformed JSON request body"))
		return
	}

	if _, ok := legacy.Rewrite(req.Query); ok {
		writeError(w, gwerrors.Validation("LEGACY_DIALECT_REJECTED", "the legacy FIND...WHERE dialect is not accepted on /kql; use /execute_kip or the canonical dialect"))
		return
	}

	h.runQuery(w, r, req.Query, executor.QueryStandard)
}

// runQuery parses, validates, and executes query, recording telemetry and
// writing the resulting envelope.
func (h *Handler) runQuery(w http.ResponseWriter, r *http.Request, query string, queryType executor.QueryType) {
	ctx, cancel := context.WithTimeout(r.Context(), h.deps.RequestTimeout)
	defer cancel()

	if kql.IsUpsert(query) {
		h.runUpsert(ctx, w, query)
		return
	}

	start := time.Now()

	q, err := kql.ParseQuery(query)
	if err != nil {
		_, span := observe.StartQuerySpan(ctx, string(queryType))
		observe.EndQuerySpan(span, err)
		writeError(w, err)
		return
	}

	ti, err := kql.Validate(q)
	if err != nil {
		_, span := observe.StartQuerySpan(ctx, string(queryType))
		observe.EndQuerySpan(span, err)
		writeError(w, err)
		return
	}

	if q.HasAggregation() {
		queryType = executor.QueryAggregation
	}

	ctx, span := observe.StartQuerySpan(ctx, string(queryType))
	result, err := h.deps.Executor.Execute(ctx, q, ti, queryType)
	if err != nil {
		if h.deps.Metrics != nil {
			h.deps.Metrics.RecordStoreError(ctx, "run_plan")
		}
		observe.EndQuerySpan(span, err)
		writeError(w, err)
		return
	}
	observe.EndQuerySpan(span, nil)

	elapsed := time.Since(start).Milliseconds()
	h.recordTelemetry(ctx, cursor.QueryHash(q.NormalizedText()), elapsed, len(result.Data))
	h.recordMetrics(ctx, string(queryType), elapsed, "ok")

	writeResult(w, result)
}

// runUpsert dispatches to the C7 Upsert Writer (spec.md §4.7); upserts never
// return row data, only an acknowledgement envelope.
func (h *Handler) runUpsert(ctx context.Context, w http.ResponseWriter, query string) {
	start := time.Now()
	ctx, span := observe.StartQuerySpan(ctx, "upsert")
	if err := h.deps.Writer.Write(ctx, query); err != nil {
		if h.deps.Metrics != nil {
			h.deps.Metrics.RecordStoreError(ctx, "upsert")
		}
		observe.EndQuerySpan(span, err)
		writeError(w, err)
		return
	}
	observe.EndQuerySpan(span, nil)
	elapsed := time.Since(start).Milliseconds()
	h.recordTelemetry(ctx, "", elapsed, 0)
	h.recordMetrics(ctx, "upsert", elapsed, "ok")

	writeJSON(w, http.StatusOK, successEnvelope{
		OK:   true,
		Data: []any{map[string]any{"acknowledged": true}},
		Metadata: executor.Metadata{
			QueryType:       "upsert",
			HasAggregation:  false,
			ExecutionTimeMs: elapsed,
			ComplianceScore: 1,
		},
	})
}

func (h *Handler) recordTelemetry(ctx context.Context, queryHash string, elapsedMs int64, records int) {
	if h.deps.Telemetry == nil {
		return
	}
	h.deps.Telemetry.Record(telemetry.Entry{
		QueryHash:       queryHash,
		ExecutionTimeMs: elapsedMs,
		RecordsReturned: records,
		Timestamp:       time.Now().UnixMilli(),
	})
}

func (h *Handler) recordMetrics(ctx context.Context, queryType string, elapsedMs int64, outcome string) {
	if h.deps.Metrics == nil {
		return
	}
	h.deps.Metrics.RecordQuery(ctx, queryType, float64(elapsedMs)/1000, outcome)
	if elapsedMs >= 1000 {
		h.deps.Metrics.RecordSlowQuery(ctx, queryType)
	}
}

type propositionsRequest struct {
	Action    string `json:"action"`
	Subject   string `json:"subject,omitempty"`
	Predicate string `json:"predicate,omitempty"`
	Object    string `json:"object,omitempty"`
	Depth     int    `json:"depth,omitempty"`
}

// handlePropositions dispatches direct Proposition operations (spec.md §6):
// create, query, find, graph.
func (h *Handler) handlePropositions(w http.ResponseWriter, r *http.Request) {
	var req propositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gwerrors.Syntax(0, "malformed JSON request body"))
		return
	}
	switch req.Action {
	case "create", "query", "find", "graph":
	default:
		writeError(w, gwerrors.Validation("INVALID_ACTION", "action must be one of create, query, find, graph"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.deps.RequestTimeout)
	defer cancel()

	session, err := h.deps.Store.Acquire(ctx)
	if err != nil {
		writeError(w, gwerrors.Internal(err))
		return
	}
	defer session.Release()

	data, err := session.Propositions(ctx, store.PropositionRequest{
		Action:    req.Action,
		Subject:   req.Subject,
		Predicate: req.Predicate,
		Object:    req.Object,
		Depth:     req.Depth,
	})
	if err != nil {
		if h.deps.Metrics != nil {
			h.deps.Metrics.RecordStoreError(ctx, "propositions")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, successEnvelope{
		OK:   true,
		Data: []any{data},
		Metadata: executor.Metadata{
			QueryType: "propositions_" + req.Action,
		},
	})
}

type suggestionsRequest struct {
	Text  string `json:"text"`
	Limit int    `json:"limit,omitempty"`
}

// handleSuggestions implements the A7 semantic-suggestions auxiliary
// endpoint (SPEC_FULL.md §6): it never blocks the read/write path and
// degrades to an empty result, never an error, when no embeddings provider
// is configured.
func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gwerrors.Syntax(0, "malformed JSON request body"))
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	if h.deps.Embedder == nil {
		writeJSON(w, http.StatusOK, successEnvelope{OK: true, Data: []any{}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.deps.RequestTimeout)
	defer cancel()

	vec, err := h.deps.Embedder.Embed(ctx, req.Text)
	if err != nil {
		writeError(w, gwerrors.Internal(err))
		return
	}

	session, err := h.deps.Store.Acquire(ctx)
	if err != nil {
		writeError(w, gwerrors.Internal(err))
		return
	}
	defer session.Release()

	suggestions, err := session.Suggestions(ctx, vec, limit)
	if err != nil {
		if h.deps.Metrics != nil {
			h.deps.Metrics.RecordStoreError(ctx, "suggestions")
		}
		writeError(w, err)
		return
	}

	data := make([]any, len(suggestions))
	for i, s := range suggestions {
		data[i] = s
	}
	writeJSON(w, http.StatusOK, successEnvelope{OK: true, Data: data})
}

// handleTelemetryRecent serves the in-memory ring buffer for a dashboard
// (SPEC_FULL.md §6).
func (h *Handler) handleTelemetryRecent(w http.ResponseWriter, _ *http.Request) {
	var entries []telemetry.Entry
	if h.deps.Telemetry != nil {
		entries = h.deps.Telemetry.Recent()
	}
	data := make([]any, len(entries))
	for i, e := range entries {
		data[i] = e
	}
	writeJSON(w, http.StatusOK, successEnvelope{OK: true, Data: data})
}

type successEnvelope struct {
	OK         bool                 `json:"ok"`
	Data       []any                `json:"data"`
	Pagination *executor.Pagination `json:"pagination,omitempty"`
	Metadata   executor.Metadata    `json:"metadata"`
}

type errorEnvelope struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error"`
	Code       string `json:"code"`
	Position   *int   `json:"position,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeResult(w http.ResponseWriter, result *executor.Result) {
	env := successEnvelope{
		OK:       true,
		Data:     result.Data,
		Metadata: result.Metadata,
	}
	if !result.Metadata.HasAggregation {
		env.Pagination = result.Pagination
	}
	writeJSON(w, http.StatusOK, env)
}

// writeError maps err onto the status codes and envelope from spec.md §7.
func writeError(w http.ResponseWriter, err error) {
	gwErr, ok := gwerrors.As(err)
	if !ok {
		gwErr = gwerrors.Internal(err)
	}
	if gwErr.Kind == gwerrors.KindInternal {
		slog.Error("internal error serving request", "err", gwErr.Unwrap())
	}
	// Surfaced as a header (rather than only in the JSON body) so the
	// observability middleware can tag the request span/metric with the
	// KIP error code without parsing the response body.
	w.Header().Set("X-Kip-Error-Code", gwErr.Code)
	writeJSON(w, gwErr.HTTPStatus(), errorEnvelope{
		OK:         false,
		Error:      gwErr.Message,
		Code:       gwErr.Code,
		Position:   gwErr.Position,
		Suggestion: gwErr.Suggestion,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}
