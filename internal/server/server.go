// Package server is the request/response path: it persists messages and
// channels through the store and hands lifecycle announcements to the hub.
// The live push path never trusts content that did not go through here.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"palaver/internal/models"
)

// ChatStore is the persistence collaborator consumed by the HTTP handlers.
// Satisfied by *store.Store.
type ChatStore interface {
	CreateMessage(ctx context.Context, channelID int64, author models.Identity, content string) (models.Message, error)
	RecentMessages(ctx context.Context, channelID int64) ([]models.Message, error)
	Channels(ctx context.Context) ([]models.Channel, error)
	CreateChannel(ctx context.Context, name string, creator models.Identity) (models.Channel, error)
	DeleteChannel(ctx context.Context, channelID, requesterID int64) error
}

// Relay receives channel lifecycle announcements after a successful write.
// Satisfied by *hub.Hub.
type Relay interface {
	AnnounceChannelCreated(ch models.Channel)
	AnnounceChannelDeleted(channelID int64)
}

// Server serves the HTTP API and the WebSocket endpoint.
type Server struct {
	httpServer    *http.Server
	h             handler
	afterShutdown []func()
}

// NewServer builds the route table. ws handles the /ws upgrade;
// afterShutdown hooks run once the listener has drained.
func NewServer(addr string, secret []byte, store ChatStore, relay Relay, ws http.Handler, afterShutdown ...func()) *Server {
	srv := &Server{
		h:             handler{store: store, relay: relay},
		afterShutdown: afterShutdown,
	}

	authed := func(h http.HandlerFunc) http.Handler {
		return logRequests(requireAuth(secret, h))
	}
	authedJSON := func(h http.HandlerFunc) http.Handler {
		return logRequests(requireAuth(secret, requireJSON(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/messages", authedJSON(srv.h.createMessage))
	mux.Handle("GET /api/messages", authed(srv.h.listMessages))
	mux.Handle("GET /api/channels", authed(srv.h.listChannels))
	mux.Handle("POST /api/channels", authedJSON(srv.h.createChannel))
	mux.Handle("DELETE /api/channels/{id}", authed(srv.h.deleteChannel))
	mux.Handle("GET /ws", ws)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv.httpServer = &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	return srv
}

// Handler exposes the full route table, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the listener and blocks until an interrupt triggers graceful
// shutdown, then runs the registered after-shutdown hooks.
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		slog.Info("[API] Shutting down HTTP server")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Error("[API] HTTP shutdown error", "error", err)
		}

		close(idleConnsClosed)
	}()

	slog.Info("[API] Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	slog.Info("[API] HTTP server stopped")
	return nil
}
