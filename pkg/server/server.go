// Package server exposes the policy search engine and the clause
// extractor over HTTP: /search and /clause with GET and POST forms,
// health probes, and Prometheus metrics.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/coolbeans/policyfinder/pkg/clause"
	"github.com/coolbeans/policyfinder/pkg/policy"
	"github.com/coolbeans/policyfinder/pkg/search"
)

const (
	defaultTopK = 5
	maxTopK     = 50
)

// Server serves the policy finder HTTP API.
type Server struct {
	finder    *search.Finder
	extractor *clause.Extractor
	lookup    *clause.Lookup
	metrics   *Metrics
	log       zerolog.Logger
	mux       *http.ServeMux
}

// New wires a Server from the shared finder and clause extractor.
func New(finder *search.Finder, extractor *clause.Extractor) *Server {
	s := &Server{
		finder:    finder,
		extractor: extractor,
		lookup:    clause.NewLookup(finder, extractor),
		metrics:   NewMetrics(),
		log:       zerolog.Nop(),
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ping", s.handleHealth)
	s.mux.HandleFunc("/search", s.handleSearch)
	s.mux.HandleFunc("/clause", s.handleClause)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return s
}

// SetLogger installs a logger.
func (s *Server) SetLogger(log zerolog.Logger) {
	s.log = log
}

// Handler returns the full handler chain: CORS, then metrics and
// request logging, then routing.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.cors(s.mux))
}

// ListenAndServe runs the server at addr until it fails.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info().Str("addr", addr).Int("entries", s.finder.Count()).Msg("starting API server")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)
		s.metrics.RequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(recorder.status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(r.URL.Path).Observe(duration.Seconds())
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", duration).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	encoder.Encode(payload)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "policy_finder",
		"endpoints": []string{"/search", "/clause"},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// coerceTopK accepts integers, floats and numeric strings; empty
// values mean the default. Values above the cap clamp, non-positive
// values are rejected.
func coerceTopK(value any) (int, error) {
	if value == nil {
		return defaultTopK, nil
	}
	var candidate int
	switch v := value.(type) {
	case bool:
		return 0, fmt.Errorf("boolean is not valid for topk")
	case float64:
		candidate = int(v)
	case int:
		candidate = v
	case string:
		stripped := strings.TrimSpace(v)
		if stripped == "" {
			return defaultTopK, nil
		}
		parsed, err := strconv.Atoi(stripped)
		if err != nil {
			return 0, fmt.Errorf("invalid topk value %q", v)
		}
		candidate = parsed
	default:
		return 0, fmt.Errorf("unsupported type for topk")
	}
	if candidate <= 0 {
		return 0, fmt.Errorf("topk must be positive")
	}
	if candidate > maxTopK {
		candidate = maxTopK
	}
	return candidate, nil
}

// coerceBool accepts booleans, numbers and the usual string spellings.
// nil input returns a nil pointer, meaning "not provided".
func coerceBool(value any) (*bool, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case bool:
		return &v, nil
	case float64:
		b := v != 0
		return &b, nil
	case int:
		b := v != 0
		return &b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			b := true
			return &b, nil
		case "0", "false", "no", "off":
			b := false
			return &b, nil
		}
	}
	return nil, fmt.Errorf("invalid boolean value")
}

type searchParamErrors struct {
	query   string
	topk    string
	include string
}

// parseSearchParams pulls query, topk and include_documents out of a
// parameter map, treating "q" as an alias for "query" and "documents"
// for "include_documents".
func parseSearchParams(params map[string]any, errs searchParamErrors) (string, int, bool, error) {
	query := ""
	for _, key := range []string{"query", "q"} {
		if value, ok := params[key].(string); ok {
			if stripped := strings.TrimSpace(value); stripped != "" {
				query = stripped
				break
			}
		}
	}
	if query == "" {
		return "", 0, false, fmt.Errorf("%s", errs.query)
	}

	topk, err := coerceTopK(params["topk"])
	if err != nil {
		return "", 0, false, fmt.Errorf("%s", errs.topk)
	}

	include := true
	includeValue := params["include_documents"]
	if includeValue == nil {
		includeValue = params["documents"]
	}
	if includeValue != nil {
		parsed, err := coerceBool(includeValue)
		if err != nil {
			return "", 0, false, fmt.Errorf("%s", errs.include)
		}
		if parsed != nil {
			include = *parsed
		}
	}
	return query, topk, include, nil
}

// searchResult is one entry in the /search response: the entry payload
// with its score and, for clause-shaped queries, the extraction.
type searchResult struct {
	policy.Payload
	Score  float64        `json:"score"`
	Clause *clause.Result `json:"clause,omitempty"`
}

type searchResponse struct {
	Query           string            `json:"query"`
	TopK            int               `json:"topk"`
	ResultCount     int               `json:"result_count"`
	Results         []searchResult    `json:"results"`
	ClauseReference *clause.Reference `json:"clause_reference,omitempty"`
}

// searchPayload runs a search and, when the query itself names a
// clause, extracts that clause from every hit.
func (s *Server) searchPayload(query string, topk int, includeDocuments bool) searchResponse {
	ref := clause.ParseReference(query)
	hits := s.finder.Search(query, topk)
	results := make([]searchResult, 0, len(hits))
	for _, hit := range hits {
		result := searchResult{
			Payload: hit.Entry.Payload(includeDocuments),
			Score:   hit.Score,
		}
		if ref != nil {
			extracted := s.extractor.Extract(hit.Entry, *ref)
			result.Clause = &extracted
		}
		results = append(results, result)
	}
	s.metrics.SearchesTotal.Inc()
	s.metrics.SearchResults.Add(float64(len(results)))
	return searchResponse{
		Query:           query,
		TopK:            topk,
		ResultCount:     len(results),
		Results:         results,
		ClauseReference: ref,
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		params := map[string]any{}
		for _, key := range []string{"query", "q", "topk", "include_documents", "documents"} {
			if r.URL.Query().Has(key) {
				params[key] = r.URL.Query().Get(key)
			}
		}
		query, topk, include, err := parseSearchParams(params, searchParamErrors{
			query:   "Missing 'query' parameter",
			topk:    "Invalid 'topk' parameter",
			include: "Invalid 'include_documents' parameter",
		})
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.searchPayload(query, topk, include))
	case http.MethodPost:
		payload, ok := decodeJSONObject(w, r)
		if !ok {
			return
		}
		query, topk, include, err := parseSearchParams(payload, searchParamErrors{
			query:   "Field 'query' is required",
			topk:    "Field 'topk' must be a positive integer",
			include: "Field 'include_documents' must be boolean",
		})
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.searchPayload(query, topk, include))
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// decodeJSONObject reads the request body as a JSON object, writing
// the appropriate 400 response on failure.
func decodeJSONObject(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		badRequest(w, "Empty request body")
		return nil, false
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		badRequest(w, "Request body must be valid JSON")
		return nil, false
	}
	payload, ok := value.(map[string]any)
	if !ok {
		badRequest(w, "Request body must be a JSON object")
		return nil, false
	}
	return payload, true
}

// clauseResponse is the /clause success payload.
type clauseResponse struct {
	Query      clauseQuery    `json:"query"`
	Policy     policy.Payload `json:"policy"`
	Result     clause.Result  `json:"result"`
	ClauseText string         `json:"clause_text,omitempty"`
	Warning    string         `json:"warning,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type clauseQuery struct {
	Title  string `json:"title"`
	Clause string `json:"clause"`
}

func (s *Server) handleClause(w http.ResponseWriter, r *http.Request) {
	var title, clauseText string
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		title = strings.TrimSpace(q.Get("title"))
		for _, key := range []string{"item", "clause", "article"} {
			if value := strings.TrimSpace(q.Get(key)); value != "" {
				clauseText = value
				break
			}
		}
		if title == "" || clauseText == "" {
			badRequest(w, "Parameters 'title' and 'item' (or 'clause') are required")
			return
		}
	case http.MethodPost:
		payload, ok := decodeJSONObject(w, r)
		if !ok {
			return
		}
		for _, key := range []string{"title", "policy"} {
			if value, isString := payload[key].(string); isString {
				if stripped := strings.TrimSpace(value); stripped != "" {
					title = stripped
					break
				}
			}
		}
		for _, key := range []string{"item", "clause", "article"} {
			if value, isString := payload[key].(string); isString {
				if stripped := strings.TrimSpace(value); stripped != "" {
					clauseText = stripped
					break
				}
			}
		}
		if title == "" || clauseText == "" {
			badRequest(w, "Fields 'title' and 'item' (or 'clause') are required")
			return
		}
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.lookupClause(w, title, clauseText)
}

// clauseErrorStatus maps lookup failure codes to HTTP statuses.
var clauseErrorStatus = map[string]int{
	clause.CodeMissingTitle:           http.StatusBadRequest,
	clause.CodeInvalidClauseReference: http.StatusBadRequest,
	clause.CodePolicyNotFound:         http.StatusNotFound,
}

// lookupClause resolves the policy and extracts the clause. A partial
// extraction that still produced text is a 200 with a warning; one
// with no text at all is a 404 carrying the error code.
func (s *Server) lookupClause(w http.ResponseWriter, title, clauseText string) {
	match, code := s.lookup.Find(title, clauseText)
	if match == nil {
		status, ok := clauseErrorStatus[code]
		if !ok {
			status = http.StatusNotFound
		}
		if code == "" {
			code = "clause_lookup_failed"
		}
		s.metrics.ClauseLookups.WithLabelValues("error").Inc()
		writeJSON(w, status, map[string]string{"error": code})
		return
	}

	result := match.Result
	text := result.ItemText
	if text == "" {
		text = result.ParagraphText
	}
	if text == "" {
		text = result.ArticleText
	}
	response := clauseResponse{
		Query:      clauseQuery{Title: title, Clause: clauseText},
		Policy:     match.Entry.Payload(true),
		Result:     result,
		ClauseText: text,
	}
	if code != "" && text == "" {
		response.Error = code
		s.metrics.ClauseLookups.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusNotFound, response)
		return
	}
	if code != "" {
		response.Warning = code
		s.metrics.ClauseLookups.WithLabelValues("partial").Inc()
	} else {
		s.metrics.ClauseLookups.WithLabelValues("success").Inc()
	}
	writeJSON(w, http.StatusOK, response)
}
