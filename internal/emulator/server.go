// Package emulator is an in-memory stand-in for the Dune query execution
// API. Executions follow scripted fixtures, so the client and CLI can be
// exercised end to end without network access or credentials.
package emulator

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dune-client/pkg/dune"
)

// DefaultAPIKey is accepted when Options.APIKey is empty.
const DefaultAPIKey = "emulator-key"

// Options configures a Server.
type Options struct {
	APIKey    string
	CancelLag int // polls between a cancel request and the cancelled state
	Fixtures  *FixtureSet
	Clock     quartz.Clock
	Logger    *slog.Logger
}

// Server serves the API under /api/v1.
type Server struct {
	apiKey    string
	cancelLag int
	fixtures  *FixtureSet
	clock     quartz.Clock
	logger    *slog.Logger
	router    chi.Router

	mu         sync.Mutex
	executions map[string]*execution
	latest     map[int64]string // saved query id -> most recent execution id
}

// New creates a Server. It fails if a fixture in opts cannot be served.
func New(opts Options) (*Server, error) {
	if opts.Fixtures != nil {
		if err := opts.Fixtures.Validate(); err != nil {
			return nil, fmt.Errorf("invalid fixtures: %w", err)
		}
	}
	s := &Server{
		apiKey:     opts.APIKey,
		cancelLag:  max(opts.CancelLag, 0),
		fixtures:   opts.Fixtures,
		clock:      opts.Clock,
		logger:     opts.Logger,
		executions: map[string]*execution{},
		latest:     map[int64]string{},
	}
	if s.apiKey == "" {
		s.apiKey = DefaultAPIKey
	}
	if s.fixtures == nil {
		s.fixtures = &FixtureSet{}
	}
	if s.clock == nil {
		s.clock = quartz.NewReal()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/sql/execute", s.handleExecuteSQL)
		r.Post("/query/{queryID}/execute", s.handleExecuteQuery)
		r.Post("/query/{queryID}/pipeline/execute", s.handleExecutePipeline)
		r.Get("/query/{queryID}/results", s.handleLatestResults)
		r.Get("/execution/{executionID}/status", s.handleStatus)
		r.Get("/execution/{executionID}/results", s.handleResults)
		r.Get("/execution/{executionID}/results/csv", s.handleResultsCSV)
		r.Post("/execution/{executionID}/cancel", s.handleCancel)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Executions returns the number of executions submitted so far.
func (s *Server) Executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executions)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Dune-Api-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// === Submission ===

type executeBody struct {
	SQL         string                `json:"sql"`
	Parameters  []dune.QueryParameter `json:"query_parameters"`
	Performance string                `json:"performance"`
}

func decodeExecuteBody(r *http.Request, requireSQL bool) (executeBody, error) {
	var body executeBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return body, badRequest("invalid request body: %v", err)
		}
	}
	if requireSQL && strings.TrimSpace(body.SQL) == "" {
		return body, badRequest("sql is required")
	}
	switch body.Performance {
	case "", string(dune.PerformanceMedium), string(dune.PerformanceLarge):
	default:
		return body, badRequest("invalid performance %q, expected medium or large", body.Performance)
	}
	for i, p := range body.Parameters {
		if p.Key == "" {
			return body, badRequest("query parameter %d has no key", i)
		}
	}
	return body, nil
}

func (s *Server) handleExecuteSQL(w http.ResponseWriter, r *http.Request) {
	body, err := decodeExecuteBody(r, true)
	if err != nil {
		writeErr(w, err)
		return
	}
	e := s.submit(nil, s.fixtures.ForSQL(body.SQL))
	s.logger.Info("sql execution submitted", "execution_id", e.ExecutionID)
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleExecuteQuery(w http.ResponseWriter, r *http.Request) {
	queryID, err := queryIDParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := decodeExecuteBody(r, false); err != nil {
		writeErr(w, err)
		return
	}
	e := s.submit(&queryID, s.fixtures.ForQuery(queryID))
	s.logger.Info("query execution submitted", "execution_id", e.ExecutionID, "query_id", queryID)
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleExecutePipeline(w http.ResponseWriter, r *http.Request) {
	queryID, err := queryIDParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := decodeExecuteBody(r, false); err != nil {
		writeErr(w, err)
		return
	}
	e := s.submit(&queryID, s.fixtures.ForQuery(queryID))
	writeJSON(w, http.StatusOK, dune.PipelineHandle{
		PipelineExecutionID: "pipeline-" + e.ExecutionID,
		State:               e.State,
	})
}

func (s *Server) submit(queryID *int64, f Fixture) dune.Handle {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	e := newExecution(id, queryID, f, s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[id] = e
	if queryID != nil {
		s.latest[*queryID] = id
	}
	return dune.Handle{ExecutionID: id, State: e.state}
}

// === Lifecycle ===

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	e, ok := s.executions[chi.URLParam(r, "executionID")]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	e.advance(s.clock.Now())
	st := e.status()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	e, ok := s.executions[chi.URLParam(r, "executionID")]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	accepted := e.requestCancel(s.cancelLag)
	s.mu.Unlock()

	s.logger.Info("cancel requested", "execution_id", e.id, "accepted", accepted)
	writeJSON(w, http.StatusOK, map[string]bool{"success": accepted})
}

// === Results ===

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	res, err := s.results(id, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLatestResults(w http.ResponseWriter, r *http.Request) {
	queryID, err := queryIDParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.mu.Lock()
	id, ok := s.latest[queryID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("query %d has no executions", queryID))
		return
	}
	res, err := s.results(id, r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) results(id string, r *http.Request) (*dune.ExecutionResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.executions[id]
	if !ok {
		return nil, errNotFound
	}
	res := &dune.ExecutionResults{ExecutionStatus: e.status()}
	if !e.state.IsSuccess() {
		return res, nil
	}

	rq, err := parseResultQuery(r.URL.Query(), e.fixture.Columns)
	if err != nil {
		return nil, err
	}
	p := shape(e.fixture, rq)
	res.Result = p.resultData(e.metadata())
	if p.next != nil {
		res.NextOffset = p.next
		res.NextURI = nextURI(r, *p.next)
	}
	return res, nil
}

func (s *Server) handleResultsCSV(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	e, ok := s.executions[chi.URLParam(r, "executionID")]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if !e.state.IsSuccess() {
		state := e.state
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, fmt.Sprintf("execution is %s, results are not available", state))
		return
	}
	rq, err := parseResultQuery(r.URL.Query(), e.fixture.Columns)
	if err != nil {
		s.mu.Unlock()
		writeErr(w, err)
		return
	}
	p := shape(e.fixture, rq)
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := p.writeCSV(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	if p.next != nil {
		w.Header().Set("X-Dune-Next-Offset", strconv.FormatInt(*p.next, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// === Helpers ===

var errNotFound = errors.New("execution not found")

func queryIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "queryID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid query id %q", raw)
	}
	return id, nil
}

func nextURI(r *http.Request, next int64) string {
	q := r.URL.Query()
	q.Set("offset", strconv.FormatInt(next, 10))
	return r.URL.Path + "?" + q.Encode()
}

func writeErr(w http.ResponseWriter, err error) {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		writeError(w, http.StatusBadRequest, bad.msg)
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
