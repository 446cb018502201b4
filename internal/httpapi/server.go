// Package httpapi exposes the study core over HTTP: model management,
// memory status, chunking, ingestion, retrieval and streamed answers.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"studycore/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Ready() bool
	Status() types.StatusResponse
	Memory() types.MemoryStatus

	ListModels() []types.Model
	// StartDownload begins a download in the background.
	StartDownload(id string) error
	LoadModel(ctx context.Context, id string) (types.LoadResponse, error)
	UnloadModel(id string) error
	DeleteModel(id string) error

	Chunk(req types.ChunkRequest) (types.ChunkResponse, error)
	// Ingest queues a document for chunking, embedding and storage and
	// returns the task id.
	Ingest(req types.IngestRequest) (string, error)
	DeleteDocument(ctx context.Context, id string) error
	Retrieve(ctx context.Context, req types.RetrieveRequest) (types.RetrieveResponse, error)
	// Generate streams an answer; emit is called for every token and once
	// for the final event.
	Generate(ctx context.Context, req types.GenerateRequest, emit func(types.StreamEvent) error) error

	Tasks() []types.Task
	Task(id string) (types.Task, error)
	CancelTask(id string) error
	ClearTasks() int
}

type server struct {
	svc  Service
	opts Options
	log  zerolog.Logger
}

// NewMux builds the router.
func NewMux(svc Service, opts Options) http.Handler {
	opts = opts.withDefaults()
	s := &server{svc: svc, opts: opts, log: opts.Logger.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger(s.log, opts.DefaultLogLevel))
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Log-Level", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})
	r.Get("/memory", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Memory())
	})

	r.Route("/models", func(r chi.Router) {
		r.Get("/", s.listModels)
		r.Post("/{id}/download", s.downloadModel)
		r.Post("/{id}/load", s.loadModel)
		r.Post("/{id}/unload", s.unloadModel)
		r.Delete("/{id}", s.deleteModel)
	})

	r.Post("/chunk", s.chunk)
	r.Post("/documents", s.ingest)
	r.Delete("/documents/{id}", s.deleteDocument)
	r.Post("/retrieve", s.retrieve)
	r.Post("/generate", s.generate)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/clear", s.clearTasks)
		r.Get("/{id}", s.getTask)
		r.Delete("/{id}", s.cancelTask)
	})
	return r
}

// decodeJSON enforces a JSON content type and the body size limit.
func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *server) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.svc.ListModels()})
}

func (s *server) downloadModel(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.StartDownload(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) loadModel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(s.opts.BaseContext, r.Context())
	defer cancel()
	res, err := s.svc.LoadModel(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) unloadModel(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.UnloadModel(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteModel(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) chunk(w http.ResponseWriter, r *http.Request) {
	var req types.ChunkRequest
	if !s.decodeJSON(w, r, s.opts.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Pages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "text or pages is required")
		return
	}
	res, err := s.svc.Chunk(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) ingest(w http.ResponseWriter, r *http.Request) {
	var req types.IngestRequest
	if !s.decodeJSON(w, r, 32*s.opts.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		writeJSONError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	if len(req.Pages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "pages is required")
		return
	}
	id, err := s.svc.Ingest(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.TaskAccepted{TaskID: id})
}

func (s *server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) retrieve(w http.ResponseWriter, r *http.Request) {
	var req types.RetrieveRequest
	if !s.decodeJSON(w, r, s.opts.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}
	res, err := s.svc.Retrieve(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) generate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !s.decodeJSON(w, r, s.opts.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := joinContexts(s.opts.BaseContext, r.Context())
	defer cancel()
	if s.opts.GenerateTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, s.opts.GenerateTimeout)
		defer tcancel()
	}

	var out io.Writer = w
	if requestLogLevel(r, s.opts.DefaultLogLevel) >= LevelDebug {
		out = io.MultiWriter(w, &streamLineLogger{log: s.log})
	}
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(out)
	started := false
	emit := func(ev types.StreamEvent) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err := s.svc.Generate(ctx, req, emit)
	if err == nil {
		return
	}
	if r.Context().Err() != nil || s.opts.BaseContext.Err() != nil {
		return
	}
	if !started {
		writeError(w, err)
		return
	}
	_ = emit(types.StreamEvent{Done: true, Error: err.Error()})
}

func (s *server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.TasksResponse{Tasks: s.svc.Tasks()})
}

func (s *server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Task(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *server) cancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CancelTask(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) clearTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": s.svc.ClearTasks()})
}
