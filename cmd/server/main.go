package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identity-provisioning/internal/app"
	"identity-provisioning/internal/config"
	"identity-provisioning/internal/logging"
	"identity-provisioning/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "error", "json", "").Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat, cfg.OTelServiceName)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("startup", "error", err)
		os.Exit(1)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("listen", "error", err)
		a.Close(context.Background())
		os.Exit(1)
	}
	defer lis.Close()

	s := server.NewGRPCServer(logger)
	hs := server.RegisterServices(s, server.Deps{
		Identity:            a.Service,
		HealthPinger:        a.DB,
		HealthPolicyChecker: a.Roles,
		Logger:              logger,
	})

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr, "env", cfg.Env)
		if err := s.Serve(lis); err != nil {
			logger.Error("serve", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gRPC server")
	hs.Shutdown()
	s.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Close(ctx)
	logger.Info("gRPC server stopped")
}
