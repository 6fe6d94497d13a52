package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"PeopleChat/internal/backend"
	"PeopleChat/internal/config"
	"PeopleChat/internal/conversation"
)

const maxMessageBytes = 16 << 20

// Deps are the collaborators shared by every connection. Speaker and
// Transcriber are optional.
type Deps struct {
	Adapter     backend.Adapter
	Speaker     backend.Speaker
	Transcriber backend.Transcriber
	Logger      *slog.Logger
}

// Server serves the chat API over websockets. Each connection owns its own
// conversation; only the adapter is shared.
type Server struct {
	cfg      *config.Config
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the HTTP routes: /ws for the chat API and /healthz
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe serves on cfg.Server.Listen until ctx is canceled
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("chat server listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("chat server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	ctx := r.Context()
	// hijacked connections are not closed by http.Server.Shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	connID := uuid.NewString()
	log := s.logger.With("conn_id", connID, "remote", r.RemoteAddr)

	conv, err := conversation.New(s.deps.Adapter, s.cfg.Settings(), conversation.WithLogger(log))
	if err != nil {
		log.Error("failed to create conversation", "error", err)
		return
	}
	st := &connState{conv: conv}

	log.Info("chat connection opened")
	defer log.Info("chat connection closed")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Debug("read failed", "error", err)
			}
			return
		}

		resp := s.handleMessage(ctx, st, data, log)
		if err := conn.WriteJSON(resp); err != nil {
			log.Warn("write failed", "error", err)
			return
		}
	}
}
