// Package visualgrid is an in-memory visual-diff service speaking the
// session API the eyes client uses. Baselines are kept per app, test, render
// target and checkpoint name for the lifetime of the server.
package visualgrid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kidandcat/bankcheck/pkg/eyes"
)

const maxBodyBytes = 32 << 20

type sessionStatus int

const (
	open sessionStatus = iota
	closed
	aborted
)

type session struct {
	req         eyes.StartSessionRequest
	status      sessionStatus
	checkpoints []eyes.Checkpoint
	results     eyes.TestResults
}

type baselineKey struct {
	app, test, target, checkpoint string
}

type Server struct {
	apiKey    string
	threshold float64
	delay     time.Duration
	logger    zerolog.Logger

	mu        sync.Mutex
	sessions  map[string]*session
	baselines map[baselineKey]eyes.Checkpoint
	pending   sync.WaitGroup
}

type Option func(*Server)

// WithAPIKey requires every request to carry key in the X-Api-Key header.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithThreshold sets the fraction of pixels allowed to differ under strict
// matching.
func WithThreshold(t float64) Option {
	return func(s *Server) { s.threshold = t }
}

// WithEvaluationDelay holds verdicts back for d after a session closes.
func WithEvaluationDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func New(opts ...Option) *Server {
	s := &Server{
		logger:    zerolog.Nop(),
		sessions:  make(map[string]*session),
		baselines: make(map[baselineKey]eyes.Checkpoint),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.logMiddleware)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/sessions", s.handleStart)
		r.Delete("/sessions/{sessionID}", s.handleAbort)
		r.Post("/sessions/{sessionID}/checkpoints", s.handleCheckpoint)
		r.Post("/sessions/{sessionID}/close", s.handleClose)
		r.Get("/sessions/{sessionID}/results", s.handleResults)
	})
	return router
}

// Wait blocks until every pending evaluation has finished.
func (s *Server) Wait() {
	s.pending.Wait()
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Msg("visual service listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get(eyes.APIKeyHeader) != s.apiKey {
			respondError(w, http.StatusUnauthorized, errors.New("invalid api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{
		"error":  err.Error(),
		"status": status,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req eyes.StartSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Target.Browser == "" && req.Target.Device == "" {
		respondError(w, http.StatusBadRequest, errors.New("render target needs a browser or a device"))
		return
	}
	if req.AppName == "" || req.TestName == "" {
		respondError(w, http.StatusBadRequest, errors.New("app and test names are required"))
		return
	}
	if req.MatchLevel == "" {
		req.MatchLevel = eyes.Strict
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{
		req: req,
		results: eyes.TestResults{
			SessionID: id,
			Batch:     req.Batch,
			AppName:   req.AppName,
			TestName:  req.TestName,
			Target:    req.Target,
			Status:    eyes.Running,
		},
	}
	s.mu.Unlock()

	s.logger.Debug().Str("session", id).Str("target", req.Target.String()).Msg("session started")
	respondJSON(w, http.StatusCreated, eyes.SessionInfo{ID: id})
}

// lookup returns the session named in the URL; the caller holds s.mu.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *session {
	sess, ok := s.sessions[chi.URLParam(r, "sessionID")]
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("session not found"))
		return nil
	}
	return sess
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	var cp eyes.Checkpoint
	if !decode(w, r, &cp) {
		return
	}
	if cp.Name == "" {
		respondError(w, http.StatusBadRequest, errors.New("checkpoint name is required"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	if sess.status != open {
		respondError(w, http.StatusConflict, errors.New("session is not open"))
		return
	}
	if cp.MatchLevel == "" {
		cp.MatchLevel = sess.req.MatchLevel
	}
	sess.checkpoints = append(sess.checkpoints, cp)
	respondJSON(w, http.StatusAccepted, map[string]any{"checkpoints": len(sess.checkpoints)})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	switch sess.status {
	case aborted:
		respondError(w, http.StatusConflict, errors.New("session was aborted"))
		return
	case open:
		sess.status = closed
		s.pending.Add(1)
		go s.evaluate(sess.results.SessionID)
	}
	respondJSON(w, http.StatusOK, sess.results)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	switch sess.status {
	case closed:
		respondError(w, http.StatusConflict, errors.New("session already closed"))
		return
	case open:
		sess.status = aborted
		sess.results.Status = eyes.Failed
		sess.results.Aborted = true
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.lookup(w, r)
	if sess == nil {
		return
	}
	respondJSON(w, http.StatusOK, sess.results)
}

func (s *Server) evaluate(id string) {
	defer s.pending.Done()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[id]
	req := sess.req

	status := eyes.Passed
	allNew := len(sess.checkpoints) > 0
	var results []eyes.CheckpointResult
	for _, cp := range sess.checkpoints {
		key := baselineKey{app: req.AppName, test: req.TestName, target: req.Target.String(), checkpoint: cp.Name}
		res := eyes.CheckpointResult{Name: cp.Name, Status: eyes.Passed}

		baseline, ok := s.baselines[key]
		if !ok {
			s.baselines[key] = cp
			res.IsNew = true
		} else {
			allNew = false
			st, reason, err := verdict(baseline, cp, s.threshold)
			res.Status, res.Reason = st, reason
			if err != nil {
				res.Reason = err.Error()
			}
		}

		switch {
		case res.Status == eyes.Failed:
			status = eyes.Failed
		case res.Status == eyes.Unresolved && status == eyes.Passed:
			status = eyes.Unresolved
		}
		results = append(results, res)
	}

	sess.results.Checkpoints = results
	sess.results.Status = status
	sess.results.IsNew = allNew
	s.logger.Debug().
		Str("session", id).
		Str("target", req.Target.String()).
		Str("status", string(status)).
		Bool("new", allNew).
		Msg("session evaluated")
}
