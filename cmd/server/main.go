package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvr-ai/go-xray/config"
	"github.com/nvr-ai/go-xray/logging"
	"github.com/nvr-ai/go-xray/server"
	"github.com/nvr-ai/go-xray/service"
	"github.com/sirupsen/logrus"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:    cfg.Log.Level,
		File:     cfg.Log.File,
		NoColors: cfg.Log.NoColors,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	svc, err := service.New(cfg, logger, nil)
	if err != nil {
		logger.WithField("model", cfg.Model.Path).Fatalf("Error loading model: %v", err)
	}
	defer svc.Close()

	srv, err := server.New(
		server.WithPipeline(svc.Pipeline),
		server.WithLogger(logger),
		server.WithModelName(cfg.Model.Path),
		server.WithMetrics(svc),
		server.WithBodyLimit(cfg.Server.MaxUploadBytes),
		server.WithAllowOrigins(cfg.Server.AllowOrigins),
	)
	if err != nil {
		logger.Fatalf("Error creating server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
			logger.Fatalf("Error starting server: %v", err)
		}
	}()

	sig := <-sigChan
	logger.WithFields(logrus.Fields{"signal": sig.String()}).Info("Shutting down")

	if err := srv.Shutdown(); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
	}
}
