// Package listener binds one TCP listener per provisioned device and
// accepts its device-facing connections.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/spken/mower-fleet/internal/metrics"
	"github.com/spken/mower-fleet/internal/registry"
	"github.com/spken/mower-fleet/internal/session"
	"github.com/spken/mower-fleet/internal/telemetry"
)

// Supervisor owns one net.Listener per provisioned device and the accept
// loop feeding each into session.Connection. A bind failure on one
// device's port is logged and does not prevent the others from starting.
type Supervisor struct {
	bindHost          string
	sink              telemetry.Sink
	logger            *slog.Logger
	metrics           *metrics.Metrics
	inactivityTimeout time.Duration

	mu          sync.Mutex
	listeners   map[string]net.Listener
	activeConns map[*session.Connection]struct{}
	wg          sync.WaitGroup
}

// New builds a Supervisor. inactivityTimeout is passed through to every
// session.Connection it accepts, sourced from listener.inactivity_timeout_ms.
func New(bindHost string, sink telemetry.Sink, logger *slog.Logger, m *metrics.Metrics, inactivityTimeout time.Duration) *Supervisor {
	return &Supervisor{
		bindHost:          bindHost,
		sink:              sink,
		logger:            logger,
		metrics:           m,
		inactivityTimeout: inactivityTimeout,
		listeners:         make(map[string]net.Listener),
		activeConns:       make(map[*session.Connection]struct{}),
	}
}

// Start binds a listener for every device the provider reports and
// begins accepting on each. It returns once all binds have been
// attempted; devices whose bind failed are skipped, not fatal.
func (s *Supervisor) Start(ctx context.Context, provider registry.Provider) error {
	devices, err := provider.ListProvisioned(ctx)
	if err != nil {
		return fmt.Errorf("listener: list provisioned devices: %w", err)
	}

	for _, d := range devices {
		addr := fmt.Sprintf("%s:%d", s.bindHost, d.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.logger.Error("failed to bind device listener", "device_id", d.DeviceID, "addr", addr, "error", err)
			continue
		}

		s.mu.Lock()
		s.listeners[d.DeviceID] = ln
		s.mu.Unlock()

		s.logger.Info("listener bound", "device_id", d.DeviceID, "addr", addr)

		s.wg.Add(1)
		go s.acceptLoop(ctx, d.DeviceID, ln)
	}

	return nil
}

func (s *Supervisor) acceptLoop(ctx context.Context, deviceID string, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Warn("accept failed", "device_id", deviceID, "error", err)
			return
		}

		sess := session.NewConnection(deviceID, conn, s.sink, s.logger, s.metrics, s.inactivityTimeout)

		s.mu.Lock()
		s.activeConns[sess] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.activeConns, sess)
				s.mu.Unlock()
			}()
			sess.Serve(ctx)
		}()
	}
}

// Shutdown closes every tracked session socket first, then every bound
// listener, then waits for all in-flight connections to finish tearing
// down. Closing sessions before listeners means in-flight device
// connections are torn down immediately rather than left to expire on
// their own inactivity deadline.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for sess := range s.activeConns {
		sess.Close()
	}
	for deviceID, ln := range s.listeners {
		if err := ln.Close(); err != nil {
			s.logger.Warn("error closing listener", "device_id", deviceID, "error", err)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}
