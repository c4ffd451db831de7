package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/talktomylawyer/talk-to-my-lawyer/internal/platform/timeouts"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/httpapi"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/mail"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/revocation"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/service"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/tenant"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/token"
	"github.com/talktomylawyer/talk-to-my-lawyer/internal/services/auth/user"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	defaultConnectRetries = 5
	sweepInterval         = time.Minute
)

// RuntimeConfig holds everything the auth process needs to start.
type RuntimeConfig struct {
	HTTPAddr string
	// GRPCAddr is the health endpoint address. Empty disables it.
	GRPCAddr    string
	Environment string

	Tenants tenant.Config
	Tokens  token.Config
	Service service.Config
	Mail    mail.Config
	// SMTP is used when SMTP.Host is set; otherwise mail is only logged.
	SMTP mail.SMTPConfig
	// RedisURL selects the redis revocation store. Empty keeps it in memory.
	RedisURL string

	ConnectRetries  uint
	ConnectInterval time.Duration
	HealthInterval  time.Duration
}

// Server hosts the auth service.
type Server struct {
	httpListener net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	grpcServer   *grpc.Server
	health       *health.Server

	tenants  *tenant.Router
	revoked  revocation.Store
	memory   *revocation.Memory
	limiters httpapi.Limiters

	connectRetries  uint
	connectInterval time.Duration
	healthInterval  time.Duration
}

// New opens dependencies and binds listeners.
func New(ctx context.Context, cfg RuntimeConfig) (*Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tokens, err := token.NewManager(cfg.Tokens)
	if err != nil {
		return nil, err
	}
	mailer, err := newMailer(cfg)
	if err != nil {
		return nil, err
	}

	tenants, err := tenant.Open(ctx, cfg.Tenants)
	if err != nil {
		return nil, fmt.Errorf("open tenants: %w", err)
	}
	revoked, memory, err := openRevocation(ctx, cfg.RedisURL)
	if err != nil {
		_ = tenants.Close()
		return nil, err
	}
	closeDeps := func() {
		_ = revoked.Close()
		_ = tenants.Close()
	}

	svc, err := service.New(cfg.Service, service.Deps{
		Tenants: tenants,
		Tokens:  tokens,
		Revoked: revoked,
		Mailer:  mailer,
	})
	if err != nil {
		closeDeps()
		return nil, err
	}

	limiters := httpapi.NewLimiters(time.Now)
	handler, err := httpapi.NewHandler(httpapi.Options{
		Service:     svc,
		Health:      tenants,
		Limiters:    limiters,
		Environment: cfg.Environment,
		ClientURL:   cfg.Mail.ClientURL,
	})
	if err != nil {
		closeDeps()
		return nil, err
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		closeDeps()
		return nil, fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err)
	}

	s := &Server{
		httpListener: httpListener,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		tenants:         tenants,
		revoked:         revoked,
		memory:          memory,
		limiters:        limiters,
		connectRetries:  cfg.ConnectRetries,
		connectInterval: cfg.ConnectInterval,
		healthInterval:  cfg.HealthInterval,
	}
	if s.connectRetries == 0 {
		s.connectRetries = defaultConnectRetries
	}
	if s.connectInterval <= 0 {
		s.connectInterval = timeouts.DBRetryInterval
	}
	if s.healthInterval <= 0 {
		s.healthInterval = timeouts.HealthRefresh
	}

	if strings.TrimSpace(cfg.GRPCAddr) != "" {
		grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = httpListener.Close()
			closeDeps()
			return nil, fmt.Errorf("listen on grpc addr %s: %w", cfg.GRPCAddr, err)
		}
		s.grpcListener = grpcListener
		s.grpcServer = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
		s.health = health.NewServer()
		grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		for _, role := range tenants.Roles() {
			s.health.SetServingStatus(HealthServiceName(role), grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		}
	}
	return s, nil
}

// HealthServiceName is the gRPC health service reporting a tenant.
func HealthServiceName(role user.Role) string {
	return "tenant." + string(role)
}

// Addr returns the HTTP listener address.
func (s *Server) Addr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the gRPC listener address, if one is bound.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	srv, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the listeners and blocks until they stop or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeDeps()
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.startBackground(serverCtx)

	log.Printf("auth HTTP server listening at %v", s.httpListener.Addr())
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- s.httpServer.Serve(s.httpListener)
	}()

	grpcErr := make(chan error, 1)
	if s.grpcServer != nil {
		log.Printf("auth health server listening at %v", s.grpcListener.Addr())
		go func() {
			grpcErr <- s.grpcServer.Serve(s.grpcListener)
		}()
	}

	handleGRPC := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
	handleHTTP := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}

	shutdownGRPC := func() {
		if s.grpcServer == nil {
			return
		}
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
	}
	shutdownHTTP := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
	}

	select {
	case <-ctx.Done():
		log.Printf("shutting down gracefully")
		shutdownHTTP()
		shutdownGRPC()
		return handleHTTP(<-httpErr)
	case err := <-httpErr:
		shutdownGRPC()
		return handleHTTP(err)
	case err := <-grpcErr:
		shutdownHTTP()
		if handled := handleGRPC(err); handled != nil {
			return handled
		}
		return handleHTTP(<-httpErr)
	}
}

// startBackground launches tenant connection checks and the sweepers.
func (s *Server) startBackground(ctx context.Context) {
	go func() {
		s.connectTenants(ctx)
		s.watchHealth(ctx)
	}()
	for _, limiter := range s.limiters.All() {
		go limiter.Run(ctx, sweepInterval)
	}
	if s.memory != nil {
		go s.memory.Run(ctx, sweepInterval)
	}
}

// connectTenants waits for every tenant and logs the outcome. Failed
// tenants are retried on first use.
func (s *Server) connectTenants(ctx context.Context) {
	log.Printf("testing database connections")
	results := s.tenants.ConnectAll(ctx, s.connectRetries, s.connectInterval)
	ready := 0
	for _, role := range s.tenants.Roles() {
		if err := results[role]; err != nil {
			log.Printf("database connection failed for %s, will retry on first request: %v", role, err)
			continue
		}
		ready++
		log.Printf("database connection successful for %s", role)
	}
	log.Printf("database status: %d/%d connections ready", ready, len(results))
}

// watchHealth publishes tenant reachability until ctx ends.
func (s *Server) watchHealth(ctx context.Context) {
	s.refreshHealth(ctx)
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshHealth(ctx)
		}
	}
}

func (s *Server) refreshHealth(ctx context.Context) {
	if s.health == nil || ctx.Err() != nil {
		return
	}
	for role, ok := range s.tenants.HealthCheck(ctx) {
		status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if ok {
			status = grpc_health_v1.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(HealthServiceName(role), status)
	}
}

func (s *Server) closeDeps() {
	if err := s.revoked.Close(); err != nil {
		log.Printf("close revocation store: %v", err)
	}
	if err := s.tenants.Close(); err != nil {
		log.Printf("close tenants: %v", err)
	}
	log.Printf("database connections closed")
}

func newMailer(cfg RuntimeConfig) (mail.Mailer, error) {
	var sender mail.Sender = mail.Log{}
	if strings.TrimSpace(cfg.SMTP.Host) != "" {
		smtp, err := mail.NewSMTP(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("configure smtp: %w", err)
		}
		sender = smtp
	} else {
		log.Printf("SMTP_HOST not set; outgoing mail will be logged")
	}
	mailCfg := cfg.Mail
	if mailCfg.ResetExpiry <= 0 {
		mailCfg.ResetExpiry = cfg.Service.ResetExpiry
	}
	return mail.NewComposer(mailCfg, sender)
}

// openRevocation picks redis when configured. The memory store is returned
// separately so its sweeper can run.
func openRevocation(ctx context.Context, redisURL string) (revocation.Store, *revocation.Memory, error) {
	if strings.TrimSpace(redisURL) == "" {
		memory := revocation.NewMemory(nil)
		return memory, memory, nil
	}
	store, err := revocation.OpenRedis(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open redis revocation store: %w", err)
	}
	return store, nil, nil
}
