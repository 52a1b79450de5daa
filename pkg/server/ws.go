package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/acpkit/acp-go/pkg/logging"
	"github.com/acpkit/acp-go/pkg/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	// The endpoint is same-trust as the agent process; origin policy is
	// the embedder's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns an http.Handler that upgrades each request to a
// WebSocket connection and serves it with the same dispatch logic as
// stdio. Embed it under any mux; every upgraded socket is one
// independent client.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("websocket upgrade failed",
				logging.String("remote", r.RemoteAddr))
			return
		}
		// The request context dies once Upgrade hijacks the socket; the
		// connection's own teardown governs its lifetime.
		_ = s.ServeConn(context.Background(), transport.NewWebSocketConn(ws))
	})
}

// mux mounts the upgrade handler at the configured path.
func (s *Server) mux() *http.ServeMux {
	path := s.wsPath
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, s.Handler())
	return mux
}

// ListenAndServe accepts WebSocket clients on addr until ctx is
// cancelled. Each client gets its own connection, correlator, and session
// ownership.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := s.mux()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.logger.Info("listening", logging.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.Shutdown()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
