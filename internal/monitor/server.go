package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/journal"
	"github.com/dj-oyu/rdk-x5_signage-kiosk/kiosk/internal/logger"
)

// maxOfferBytes bounds the SDP offer body
const maxOfferBytes = 64 << 10

// OfferHandler answers a WebRTC session description
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
}

// Options wires optional collaborators into the server
type Options struct {
	Journal *journal.Journal
	WebRTC  OfferHandler
}

// Server serves the monitor endpoints.
type Server struct {
	cfg     Config
	monitor *Monitor
	journal *journal.Journal
	webrtc  OfferHandler

	httpServer *http.Server
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, m *Monitor, opts Options) *Server {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultConfig().KeepAlive
	}
	return &Server{
		cfg:     cfg,
		monitor: m,
		journal: opts.Journal,
		webrtc:  opts.WebRTC,
	}
}

// Router returns the bare route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/events/stream", s.handleEventsStream).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/journal/start", s.handleJournalStart).Methods(http.MethodPost)
	r.HandleFunc("/api/journal/stop", s.handleJournalStop).Methods(http.MethodPost)
	r.HandleFunc("/api/journal/status", s.handleJournalStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer).Methods(http.MethodPost)
	return r
}

// Handler exposes the HTTP handler for the server with access logging,
// CORS and panic recovery.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Accept"}),
	)(h)
	h = handlers.LoggingHandler(accessLog{}, h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(accessLog{}), handlers.PrintRecoveryStack(false))(h)
	return h
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Monitor", "Monitor server listening on %s", s.cfg.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Streams never finish on their own
	s.monitor.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := s.monitor.Snapshot()
	if s.journal != nil {
		js := s.journal.GetStatus()
		payload.Journal = &JournalStatus{
			Recording:  js.Recording,
			Filename:   js.Filename,
			EventCount: js.EventCount,
			Dropped:    js.Dropped,
			StartTime:  js.StartTime,
		}
	}
	writeJSON(w, payload)
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.monitor.Events().Subscribe()
	defer s.monitor.Events().Unsubscribe(id)

	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r.Header.Get("Accept")), s.cfg.KeepAlive)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, updated, ok := s.monitor.Preview().JPEG()
	if !ok {
		blank, err := blankJPEG(s.cfg.PreviewWidth)
		if err != nil {
			http.Error(w, "Failed to render frame", http.StatusInternalServerError)
			return
		}
		data = blank
	} else {
		w.Header().Set("Last-Modified", updated.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Preview-Available", fmt.Sprint(ok))
	_, _ = w.Write(data)
}

func (s *Server) handleJournalStart(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONWithStatus(w, map[string]any{"error": "journal is not configured"}, http.StatusNotFound)
		return
	}
	if err := s.journal.Start(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	st := s.journal.GetStatus()
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       st.Filename,
		"started_at": float64(st.StartTime.Unix()),
	})
}

func (s *Server) handleJournalStop(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONWithStatus(w, map[string]any{"error": "journal is not configured"}, http.StatusNotFound)
		return
	}
	filename := s.journal.GetStatus().Filename
	if err := s.journal.Stop(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.journal.GetStatus(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleJournalStatus(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONWithStatus(w, map[string]any{"error": "journal is not configured"}, http.StatusNotFound)
		return
	}
	writeJSON(w, s.journal.GetStatus())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.webrtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not configured"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	if err != nil {
		logger.Warn("Monitor", "WebRTC offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}

// accessLog routes gorilla/handlers output through the kiosk logger
type accessLog struct{}

func (accessLog) Write(p []byte) (int, error) {
	logger.Debug("HTTP", "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Println satisfies handlers.RecoveryHandlerLogger
func (accessLog) Println(v ...interface{}) {
	logger.Error("HTTP", "%s", strings.TrimRight(fmt.Sprintln(v...), "\n"))
}
