// Package ws carries the relay's client-facing transport: a websocket
// endpoint for the event protocol and a small HTTP side channel for
// profile picture uploads.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roundtable/relay/internal/logger"
	"github.com/roundtable/relay/internal/model"
)

const maxAvatarSize = 5 << 20

// Server wraps an HTTP server with address and lifecycle methods.
type Server struct {
	server  *http.Server
	addr    string
	handler *Handler
	avatars model.AvatarStore
	logger  *logger.Logger

	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewServer creates a Server listening on the given address.
func NewServer(addr string, handler *Handler, avatars model.AvatarStore, logger *logger.Logger) *Server {
	s := &Server{
		addr:    addr,
		handler: handler,
		avatars: avatars,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// Desktop clients connect from a local app origin, not a
			// served page.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/upload-image", s.serveUpload)
	s.server = &http.Server{Addr: addr, Handler: mux}

	return s
}

// Start starts serving on the configured address. Blocks until the
// listener fails or Stop is called.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.addr
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("WS server: upgrade failed", "error", err.Error())
		return
	}

	// The request context dies when this handler returns; the hijacked
	// socket lives on.
	go s.handler.Serve(context.WithoutCancel(r.Context()), socket)
}

// serveUpload accepts a multipart avatar upload and returns the public
// URL. The client follows up with an update_profile_picture event over
// the websocket; the upload itself does not touch the user record.
func (s *Server) serveUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarSize)
	if err := r.ParseMultipartForm(maxAvatarSize); err != nil {
		http.Error(w, "image too large or malformed", http.StatusBadRequest)
		return
	}

	userID := r.FormValue("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	ext := extensionFor(contentType)
	if ext == "" {
		http.Error(w, "unsupported image type", http.StatusUnsupportedMediaType)
		return
	}

	key := fmt.Sprintf("avatars/%s-%d%s", userID, s.now().UnixMilli(), ext)
	url, err := s.avatars.Upload(r.Context(), key, file, header.Size, contentType)
	if err != nil {
		s.logger.Error("WS server: avatar upload failed",
			"user_id", userID,
			"error", err.Error())
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	s.logger.Info("WS server: avatar uploaded", "user_id", userID, "key", key)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}
