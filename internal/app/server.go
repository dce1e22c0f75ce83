package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/matheus3301/socialchat/internal/bus"
	"github.com/matheus3301/socialchat/internal/session"
	"github.com/matheus3301/socialchat/internal/status"
	intsync "github.com/matheus3301/socialchat/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Health service names. The empty name reports the process itself.
const (
	ServiceSession  = "socialchat.Session"
	ServiceThread   = "socialchat.Thread"
	ServiceRealtime = "socialchat.Realtime"
)

// Services lists every name the health server reports on, in display order.
var Services = []string{"", ServiceSession, ServiceThread, ServiceRealtime}

// Server exposes the client's state over the gRPC health protocol on the
// profile's Unix domain socket, so `chat status` can inspect a running
// `chat open` from another terminal.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger

	events <-chan bus.Event
	unsub  func()
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewServer creates a health server bound to socketPath. Service statuses
// follow the session store and the bus from then on.
func NewServer(socketPath string, s *session.Store, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus(ServiceSession, servingIf(s.Current().SignedIn()))
	hs.SetServingStatus(ServiceThread, healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceRealtime, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	events, unsub := b.Subscribe("", 64)
	return &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		events:     events,
		unsub:      unsub,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Start begins serving health checks. Blocks until stopped.
func (s *Server) Start() error {
	go s.watch()
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.once.Do(func() {
		s.logger.Info("health server stopping")
		s.unsub()
		close(s.stop)
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		_ = os.Remove(s.socketPath)
	})
}

// Wait blocks until the event watcher has exited. Only valid after Start.
func (s *Server) Wait() {
	<-s.done
}

func (s *Server) watch() {
	defer close(s.done)
	for {
		select {
		case evt := <-s.events:
			s.apply(evt)
		case <-s.stop:
			return
		}
	}
}

func (s *Server) apply(evt bus.Event) {
	switch evt.Kind {
	case bus.KindSessionChanged:
		if signedIn, ok := evt.Payload.(bool); ok {
			s.health.SetServingStatus(ServiceSession, servingIf(signedIn))
		}
	case bus.KindThreadState:
		if change, ok := evt.Payload.(status.StatusChange); ok {
			ready := change.To == status.Ready || change.To == status.Sending
			s.health.SetServingStatus(ServiceThread, servingIf(ready))
		}
	case bus.KindRealtimeConnection:
		if ce, ok := evt.Payload.(intsync.ConnectionEvent); ok {
			s.health.SetServingStatus(ServiceRealtime, servingIf(ce.Connection.State == intsync.Connected))
		}
	}
}

func servingIf(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
