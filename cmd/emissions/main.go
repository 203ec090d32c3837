package main

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/taxiemissions/internal/app"
	"github.com/tigerroll/taxiemissions/internal/support/logger"
)

// embeddedConfig embeds the content of the application's YAML configuration file.
// Values in .env and the environment override it at startup.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// main is the entry point of the application.
// It installs signal handling and hands the command line to the application.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling for graceful shutdown (e.g., Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the job...", sig)
		cancel()
	}()

	// Get the path to the .env file from environment variables. Use ".env" as default if not set.
	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	app.RunApplication(ctx, envFilePath, embeddedConfig, os.Args[1:])
	logger.Sync()
	// A failed job is reported in the log and the job history; the process still exits 0.
	os.Exit(0)
}
