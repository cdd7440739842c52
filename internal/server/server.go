package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"path/filepath"
	"time"

	"photoz/internal/pipeline"
	"photoz/internal/storage"
	"photoz/internal/tasks"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server exposes the reduction pipeline over HTTP: job submission and
// history, per-field frame state, and live result streaming over SSE
// and websockets. It can also watch inbox directories and queue a prep
// job whenever a new i2d product settles.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	watcher  *tasks.InboxWatcher
	log      *slog.Logger
	server   *http.Server
	hub      *hub
	upgrader websocket.Upgrader
}

// NewServer creates a server. watchDirs may be empty to disable the
// inbox watcher; settle is the debounce delay for new products.
func NewServer(
	addr string,
	store *storage.Store,
	pipe *pipeline.Pipeline,
	watchDirs []string,
	settle time.Duration,
	log *slog.Logger,
) (*Server, error) {
	s := &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		log:      log,
		hub:      newHub(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	if len(watchDirs) > 0 {
		watcher, err := tasks.NewInboxWatcher(watchDirs, settle, log)
		if err != nil {
			log.Warn("inbox watcher unavailable", "error", err)
		} else {
			s.watcher = watcher
			log.Info("inbox watcher initialized", "dirs", watchDirs)
		}
	}

	return s, nil
}

// jobEvent is the wire form of a pipeline result.
type jobEvent struct {
	JobID    string         `json:"jobId"`
	Type     string         `json:"type"`
	Input    string         `json:"input,omitempty"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	Occurred time.Time      `json:"occurred"`
}

func toEvent(res pipeline.Result) jobEvent {
	ev := jobEvent{
		JobID:    res.Job.ID,
		Type:     string(res.Job.Type),
		Input:    res.Job.InputPath,
		Status:   "completed",
		Meta:     res.Meta,
		Occurred: time.Now().UTC(),
	}
	if res.Error != nil {
		ev.Status = "failed"
		ev.Error = res.Error.Error()
	}
	return ev
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)
	go s.pumpResults(ctx)
	if s.watcher != nil {
		go s.pumpInbox(ctx)
	}

	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")

		if s.watcher != nil {
			s.watcher.Stop()
		}

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// pumpResults forwards pipeline results to the websocket hub.
func (s *Server) pumpResults(ctx context.Context) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, err := json.Marshal(toEvent(res))
			if err != nil {
				continue
			}
			s.hub.send(payload)
		}
	}
}

// pumpInbox turns settled inbox products into prep jobs. The input
// directory is the product's parent, so one job covers siblings that
// settled in the same window.
func (s *Server) pumpInbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.watcher.Events:
			_ = s.store.RecordInboxEvent(ev.Path, ev.Time)
			job := pipeline.Job{
				ID:        newID("prep"),
				Type:      pipeline.JobPrep,
				InputPath: filepath.Dir(ev.Path),
			}
			if err := s.pipeline.Submit(job); err != nil {
				s.log.Warn("could not queue prep for new product", "path", ev.Path, "error", err)
				continue
			}
			s.log.Info("queued prep for new product", "path", ev.Path, "job", job.ID)
		}
	}
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmitJob).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJobMeta).Methods("GET")
	r.HandleFunc("/fields", s.handleFields).Methods("GET")
	r.HandleFunc("/fields/{field}/frames", s.handleFieldFrames).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
}

// Serve runs a server without an inbox watcher.
func Serve(ctx context.Context, addr string, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) error {
	server, err := NewServer(addr, store, pipe, nil, 0, log)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

// submitRequest is the POST /jobs body.
type submitRequest struct {
	Type    string         `json:"type"`
	Input   string         `json:"input"`
	Output  string         `json:"output,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid job body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "job type is required", http.StatusBadRequest)
		return
	}

	job := pipeline.Job{
		ID:        newID(req.Type),
		Type:      pipeline.JobType(req.Type),
		InputPath: req.Input,
		Output:    req.Output,
		Options:   req.Options,
	}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"id": job.ID, "status": "queued"})
}

func (s *Server) handleJobMeta(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := s.store.JobMeta(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, meta)
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.store.Fields()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if fields == nil {
		fields = []string{}
	}
	writeJSON(w, fields)
}

func (s *Server) handleFieldFrames(w http.ResponseWriter, r *http.Request) {
	field := mux.Vars(r)["field"]
	frames, err := s.store.FramesForField(field)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(frames) == 0 {
		http.Error(w, "unknown field: "+field, http.StatusNotFound)
		return
	}
	writeJSON(w, frames)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(toEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.hub.register <- conn

	go func() {
		defer func() {
			s.hub.unregister <- conn
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}

// hub fans job events out to connected websocket clients.
type hub struct {
	log        *slog.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		log:        log,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *hub) send(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn("websocket broadcast queue full, dropping event")
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client connected", "total", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Debug("websocket client disconnected", "total", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}
