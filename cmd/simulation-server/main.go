// Command simulation-server hosts the simulation clock behind a gRPC control
// service and an HTTP API, and pushes state changes to websocket clients and
// an optional MQTT broker.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"simhost/config"
	"simhost/control"
	"simhost/events"
	"simhost/host"
	"simhost/logsink"
	"simhost/shared"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to the executable)")
	httpAddr := flag.String("http", "", "HTTP listen address (overrides config)")
	grpcAddr := flag.String("grpc", "", "gRPC listen address (overrides config)")
	autostart := flag.Bool("autostart", false, "Start the clock as soon as the server is up")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = *grpcAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *autostart); err != nil {
		log.Fatalf("Simulation server failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, autostart bool) error {
	shutdownTracing, err := setupTracing(ctx, cfg.OTelEndpoint, "simulation-server")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	var logger *slog.Logger
	h, err := host.New(cfg, host.WithStepFunc(func(ctx context.Context, step int) error {
		logsink.Domain(ctx, logger, "simulation", "step completed", slog.Int("step", step))
		return nil
	}))
	if err != nil {
		return err
	}
	logger = h.Log
	defer h.Close()

	detach, err := attachDomainLog(h)
	if err != nil {
		return err
	}
	defer detach()

	hub := NewHub(logger.With(slog.String("component", "websocket")), h.Clock)
	if err := hub.Attach(h.Directory, cfg.StateChannel, cfg.StepChannel); err != nil {
		return err
	}
	defer hub.Close()

	if cfg.MQTTBroker != "" {
		client, err := connectMQTT(logger, cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			logger.Warn("mqtt bridge disabled", slog.String("err", err.Error()))
		} else {
			defer client.Disconnect(250)
			stateCh, err := events.GetChannel[shared.StateChangeRecord](h.Directory, cfg.StateChannel)
			if err != nil {
				return err
			}
			stateCh.Register(NewMQTTBridge(logger.With(slog.String("component", "mqtt")), client, cfg.MQTTTopic))
		}
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	control.Register(grpcServer, control.NewServer(h.Clock, h.Directory, cfg.StateChannel, cfg.StepChannel,
		logger.With(slog.String("component", "control"))))
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(control.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	NewAPI(h, hub).Routes(r)

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		logger.Info("gRPC server listening", slog.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve failed", slog.String("err", err.Error()))
			cancel()
		}
	}()
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP listen failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	if autostart {
		if err := h.Clock.Start(); err != nil {
			logger.Warn("start listener failure", slog.String("err", err.Error()))
		}
	}

	<-ctx.Done()
	logger.Info("shutdown requested")

	healthServer.Shutdown()
	h.Clock.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("err", err.Error()))
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	return nil
}
