package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"starstep/internal/engine"
	"starstep/internal/phase"
	"starstep/internal/storage"

	"github.com/gorilla/mux"
)

// Server exposes run history, run submission and the live result stream.
type Server struct {
	addr   string
	store  *storage.Store
	engine *engine.Engine
	hub    *Hub
	log    *slog.Logger
	server *http.Server
	// runCtx outlives the request that started a run
	runCtx context.Context
}

// NewServer creates a server; Start binds it.
func NewServer(addr string, store *storage.Store, eng *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:   addr,
		store:  store,
		engine: eng,
		hub:    NewHub(log),
		log:    log,
		runCtx: context.Background(),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/phases", s.handlePhases).Methods("GET")
	r.HandleFunc("/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/runs", s.handleStartRun).Methods("POST")
	r.HandleFunc("/runs/{id}/operations", s.handleRunOperations).Methods("GET")
	r.HandleFunc("/operations/{id}/frames", s.handleOperationFrames).Methods("GET")
	r.HandleFunc("/plan", s.handlePlan).Methods("POST")
	r.HandleFunc("/stream", s.handleStream).Methods("GET")
	r.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")
	return r
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.runCtx = ctx
	go s.hub.Run(ctx)
	go s.forwardResults(ctx)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// forwardResults pushes engine results to websocket clients.
func (s *Server) forwardResults(ctx context.Context) {
	ch, unsub := s.engine.Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(res)
			if err == nil {
				s.hub.Broadcast(payload)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handlePhases(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Master bool   `json:"master"`
	}
	var out []entry
	for _, p := range phase.All() {
		out = append(out, entry{ID: int(p), Name: p.String(), Master: p.Master()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	recs, err := s.store.RecentRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleRunOperations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RunOperations(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleOperationFrames(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.OperationFrames(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func decodeRequest(r *http.Request) (engine.Request, error) {
	var req engine.Request
	if r.ContentLength == 0 {
		return req, nil
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	return req, err
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rep, err := s.engine.Plan(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleStartRun starts a run in the background; results arrive on the
// stream and the history endpoints.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runID, err := s.engine.Submit(s.runCtx, req)
	switch {
	case errors.Is(err, engine.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.log.Info("run started", "run", runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "run_id": runID})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.engine.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(res)
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}
