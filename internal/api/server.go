// Package api exposes snapshot browsing and generation over HTTP.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"voc-insights-go/internal/logger"
	"voc-insights-go/internal/pipeline"
	"voc-insights-go/internal/report"
	"voc-insights-go/internal/store"
	"voc-insights-go/internal/types"
)

const (
	adminHeader    = "X-Admin-Password"
	maxUploadBytes = 64 << 20
)

type Options struct {
	UploadDir     string
	AdminPassword string
	// FilePassword is used when an upload does not carry its own password.
	FilePassword string
}

type Server struct {
	store   store.Store
	manager *pipeline.Manager
	opts    Options
	log     *logger.Logger
}

func New(st store.Store, m *pipeline.Manager, opts Options) *Server {
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}
	return &Server{store: st, manager: m, opts: opts, log: logger.New()}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("GET /api/months", s.listMonths)
	mux.HandleFunc("GET /api/months/{key}", s.getMonth)
	mux.HandleFunc("GET /api/months/{key}/segments", s.listSegments)
	mux.HandleFunc("GET /api/months/{key}/segments/{code}", s.getSegment)
	mux.HandleFunc("DELETE /api/months/{key}", s.admin(s.deleteMonth))

	mux.HandleFunc("POST /api/snapshots", s.admin(s.createSnapshot))
	mux.HandleFunc("GET /api/jobs/{id}", s.getJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.admin(s.cancelJob))
	mux.HandleFunc("POST /api/jobs/{id}/save", s.admin(s.saveJob))

	return s.logRequests(mux)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := logger.RequestID(r)
		r.Header.Set("X-Request-ID", id)
		w.Header().Set("X-Request-ID", id)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		s.log.WithRequest(r).WithFields(logrus.Fields{
			"status":      sw.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request handled")
	})
}

// admin guards mutating endpoints with the shared admin password.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminPassword == "" {
			s.fail(w, r, http.StatusForbidden, errors.New("admin operations are disabled"))
			return
		}
		got := r.Header.Get(adminHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.AdminPassword)) != 1 {
			s.fail(w, r, http.StatusUnauthorized, errors.New("invalid admin password"))
			return
		}
		next(w, r)
	}
}

func (s *Server) listMonths(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.LoadAll(r.Context())
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	keys := store.Keys(doc)
	if c := r.URL.Query().Get("country"); c != "" {
		country, err := types.ParseCountry(c)
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, err)
			return
		}
		keys = store.Filter(doc, country)
	}
	if keys == nil {
		keys = []string{}
	}
	s.respond(w, r, http.StatusOK, map[string][]string{"keys": keys})
}

func (s *Server) getMonth(w http.ResponseWriter, r *http.Request) {
	snap, err := store.Get(r.Context(), s.store, r.PathValue("key"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	s.respond(w, r, http.StatusOK, snap)
}

func (s *Server) listSegments(w http.ResponseWriter, r *http.Request) {
	snap, err := store.Get(r.Context(), s.store, r.PathValue("key"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	s.respond(w, r, http.StatusOK, report.Overview(snap))
}

func (s *Server) getSegment(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	snap, err := store.Get(r.Context(), s.store, key)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	rep, err := report.Generate(key, snap, r.PathValue("code"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	s.respond(w, r, http.StatusOK, rep)
}

func (s *Server) deleteMonth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("key")); err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createSnapshot accepts a multipart upload (file, month, country, password,
// overwrite) and queues generation.
func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "create_snapshot")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}

	month := r.FormValue("month")
	country, err := types.ParseCountry(r.FormValue("country"))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	key, err := store.KeyFor(month, country)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	password := r.FormValue("password")
	if password == "" {
		password = s.opts.FilePassword
	}

	if s.manager.Busy() {
		s.fail(w, r, http.StatusConflict, pipeline.ErrBusy)
		return
	}
	if r.FormValue("overwrite") != "true" {
		exists, err := store.Exists(r.Context(), s.store, month, country)
		if err != nil {
			s.fail(w, r, statusFor(err), err)
			return
		}
		if exists {
			s.fail(w, r, http.StatusConflict, fmt.Errorf("snapshot %s already exists; resend with overwrite=true", key))
			return
		}
	}

	path, err := s.saveUpload(r)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	job, err := s.manager.Start(pipeline.Request{
		Path:      path,
		Password:  password,
		Month:     month,
		Country:   country,
		Temporary: true,
	})
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	reqLog.WithFields(logrus.Fields{"job_id": job.ID, "key": key}).Info("generation queued")
	s.respond(w, r, http.StatusAccepted, job)
}

var errNoFile = errors.New("multipart field \"file\" is required")

func (s *Server) saveUpload(r *http.Request) (string, error) {
	src, _, err := r.FormFile("file")
	if err != nil {
		return "", errNoFile
	}
	defer src.Close()

	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	dst, err := os.CreateTemp(s.opts.UploadDir, "voc-upload-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	return dst.Name(), nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	s.respond(w, r, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.Cancel(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	s.respond(w, r, http.StatusAccepted, job)
}

// saveJob retries persisting a snapshot whose first save failed.
func (s *Server) saveJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.RetrySave(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	s.respond(w, r, http.StatusOK, job)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidKey), errors.Is(err, errNoFile):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, pipeline.ErrJobNotFound), errors.Is(err, report.ErrUnknownSegment):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrJobFinished), errors.Is(err, pipeline.ErrNothingToSave):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrManagerClose):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.WithRequest(r).WithField("error", err.Error()).Error("failed to write response")
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	entry := s.log.WithRequest(r).WithFields(logrus.Fields{"status": status, "error": err.Error()})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	s.respond(w, r, status, map[string]string{"error": err.Error()})
}
