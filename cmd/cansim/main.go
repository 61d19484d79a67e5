// Package main implements the CAN message simulator service entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/harshalekkalaarjun/multi-can-sim/internal/api"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/audit"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/auth"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/bus"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/command"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/config"
	"github.com/harshalekkalaarjun/multi-can-sim/internal/telemetry"
)

const Version = "1.0.0"

func main() {
	logrus.Infof("Starting CAN simulator v%s", Version)

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	setupLogging(cfg)
	logrus.Info("Configuration loaded successfully")

	hub := telemetry.NewHub(cfg.Telemetry.EventBufferSize,
		time.Duration(cfg.Telemetry.HeartbeatSec)*time.Second)

	auditLogger, err := audit.NewLogger(cfg.Log.Dir, audit.Options{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize audit logger: %v", err)
	}
	logrus.Info("Audit logger initialized")

	handle := bus.NewHandle()
	orchestrator := command.NewOrchestrator(handle, hub, auditLogger, command.BusDefaults{
		Channel:   cfg.Bus.Channel,
		Interface: cfg.Bus.Interface,
		Bitrate:   cfg.Bus.Bitrate,
	})

	// Load the preset message table.
	specs, err := cfg.ParseMessages()
	if err != nil {
		logrus.Fatalf("Failed to parse preset messages: %v", err)
	}
	for _, spec := range specs {
		if _, err := orchestrator.AddOrUpdateMessage(spec); err != nil {
			logrus.Fatalf("Failed to load preset message %s: %v", spec.IDString(), err)
		}
	}
	if len(specs) > 0 {
		logrus.Infof("Loaded %d preset messages", len(specs))
	}

	if cfg.Bus.AutoOpen {
		if err := orchestrator.OpenBus(cfg.Bus.Channel, cfg.Bus.Interface, cfg.Bus.Bitrate); err != nil {
			logrus.Warnf("Auto-open of %s failed: %v", cfg.Bus.Channel, err)
		}
	}

	middleware, err := buildAuthMiddleware(cfg)
	if err != nil {
		logrus.Fatalf("Failed to configure authentication: %v", err)
	}

	server := api.NewServerWithAuth(hub, orchestrator, middleware,
		time.Duration(cfg.API.ReadTimeoutSec)*time.Second,
		time.Duration(cfg.API.WriteTimeoutSec)*time.Second,
		time.Duration(cfg.API.IdleTimeoutSec)*time.Second)

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil {
			serverErr <- err
		}
	}()
	logrus.Infof("HTTP server listening on %s", addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logrus.Infof("Received signal %v, shutting down", sig)
	case err := <-serverErr:
		logrus.Errorf("Server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	orchestrator.StopAllCyclic()
	if err := handle.Close(); err != nil {
		logrus.Warnf("Error closing bus: %v", err)
	}
	hub.Stop()
	if err := auditLogger.Close(); err != nil {
		logrus.Warnf("Error closing audit logger: %v", err)
	}
	if err := server.Stop(ctx); err != nil {
		logrus.Warnf("Error stopping HTTP server: %v", err)
	}

	logrus.Info("Shutdown complete")
}

func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.Log.ToFile {
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Log.Dir, "cansim.log"),
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotated))
	}
}

func buildAuthMiddleware(cfg *config.Config) (*auth.Middleware, error) {
	if !cfg.Auth.Enabled {
		return auth.NewMiddleware(), nil
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Algorithm:    cfg.Auth.Algorithm,
		SecretKey:    cfg.Auth.SecretKey,
		PublicKeyPEM: cfg.Auth.PublicKeyPEM,
	})
	if err != nil {
		return nil, err
	}
	return auth.NewMiddlewareWithVerifier(verifier), nil
}
