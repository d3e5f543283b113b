// Package service is the concurrent kernel of the daemon. It owns the
// UDP socket, the client table, the process data ring and the three
// scheduled activities : network, cyclic and management.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ecatforge/ecatd/internal/ring"
	"github.com/ecatforge/ecatd/pkg/config"
	"github.com/ecatforge/ecatd/pkg/fieldbus"
)

var (
	ErrAlreadyRunning = errors.New("service is already running")
	ErrBindAddress    = errors.New("invalid bind address")
)

// Service is the root context owning every other entity
type Service struct {
	logger    *slog.Logger
	cfg       *config.Config
	master    *fieldbus.Master
	conn      *net.UDPConn
	clients   *clientTable
	ring      *ring.Ring
	telemetry *telemetry

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	running  atomic.Bool
	shutdown atomic.Bool
}

// New wires the kernel together : master initialization, client table,
// process data ring. The socket stays closed until Start.
func New(cfg *config.Config, master *fieldbus.Master, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := master.Init(cfg.Network.Interface); err != nil {
		return nil, fmt.Errorf("init master : %w", err)
	}
	pdoRing, err := ring.New(cfg.Performance.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("create process data ring : %w", err)
	}
	s := &Service{
		logger:  logger,
		cfg:     cfg,
		master:  master,
		clients: newClientTable(cfg.Security.MaxClients, logger.With("service", "[NET]")),
		ring:    pdoRing,
	}
	if cfg.Telemetry.Enabled {
		s.telemetry = newTelemetry(cfg.Telemetry.Listen, master, s.clients, logger)
	}
	logger.Info("service initialized")
	return s, nil
}

// Start binds the control socket and launches the three activities.
// A bind failure leaves the service stopped.
func (s *Service) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrAlreadyRunning
	}

	ip := net.ParseIP(s.cfg.Security.BindAddress)
	if ip == nil {
		return fmt.Errorf("%w : %v", ErrBindAddress, s.cfg.Security.BindAddress)
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: int(s.cfg.Security.Port)})
	if err != nil {
		return fmt.Errorf("bind %v:%v : %w", ip, s.cfg.Security.Port, err)
	}
	s.conn = conn
	s.logger.Info("control socket bound", "addr", conn.LocalAddr())

	if s.telemetry != nil {
		s.telemetry.start()
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)
	s.shutdown.Store(false)

	for _, activity := range []func(context.Context){s.network, s.cyclic, s.management} {
		s.wg.Add(1)
		go func(run func(context.Context)) {
			defer s.wg.Done()
			run(ctx)
		}(activity)
	}
	s.logger.Info("service started")
	return nil
}

// Stop requests cooperative shutdown and waits for all three
// activities to exit
func (s *Service) Stop() {
	if !s.running.Load() {
		return
	}
	s.logger.Info("stopping service")
	s.shutdown.Store(true)
	s.running.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	// Unblocks a pending receive
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.telemetry != nil {
		s.telemetry.stop()
	}
	s.wg.Wait()
	s.logger.Info("all activities stopped")
}

// Close releases every owned resource. The service cannot be restarted
// afterwards.
func (s *Service) Close() error {
	s.Stop()
	return s.master.Close()
}

// Running reports whether the activities are live
func (s *Service) Running() bool {
	return s.running.Load()
}

// Master exposes the bus master, mainly for tests and telemetry
func (s *Service) Master() *fieldbus.Master {
	return s.master
}

// Addr returns the bound control socket address, nil before Start
func (s *Service) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}
