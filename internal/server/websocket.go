package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gpsr-simulation/internal/commands"
	"gpsr-simulation/internal/eventBus"
)

// Define a WebSocket upgrader.
var upgrader = websocket.Upgrader{
	// Allow any origin; the UI is served from elsewhere.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Simulation is what the HTTP API drives.
type Simulation interface {
	commands.Submitter
	commands.NodeLister
}

// Server exposes the event stream, metrics and node API over HTTP.
type Server struct {
	addr string
	bus  *eventBus.EventBus
	mux  *http.ServeMux
	log  *zap.SugaredLogger
}

func New(addr string, bus *eventBus.EventBus, sim Simulation, reg *prometheus.Registry, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{addr: addr, bus: bus, mux: http.NewServeMux(), log: log}

	s.mux.HandleFunc("/ws", s.wsHandler)
	if reg != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	// Setup command endpoints.
	s.mux.HandleFunc("/nodeAPI/send", commands.SendMessageHandler(sim, log))
	s.mux.HandleFunc("/nodeAPI/move", commands.MoveNodeHandler(sim, log))
	s.mux.HandleFunc("/nodeAPI/fail", commands.FailNodeHandler(sim, log))
	s.mux.HandleFunc("/nodeAPI/recover", commands.RecoverNodeHandler(sim, log))
	s.mux.HandleFunc("/nodeAPI/nodes", commands.ListNodesHandler(sim))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// wsHandler upgrades the connection to WebSocket and pushes events from the EventBus.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("[ws] upgrade error: %v", err)
		return
	}
	defer conn.Close()

	eventCh := s.bus.Subscribe()
	defer s.bus.Unsubscribe(eventCh)

	// the client only ever closes; reading notices that
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				s.log.Debugf("[ws] write error: %v", err)
				return
			}
		}
	}
}

// Start serves until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Server started on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
