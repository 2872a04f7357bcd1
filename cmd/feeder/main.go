package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/pawtelligent-feeder/internal/config"
	"github.com/septivank/pawtelligent-feeder/internal/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	// Load .env from the working directory or up to two levels above it
	envPaths := []string{
		".env",
		"../../.env",
	}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}

	envLoaded := false
	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				absPath, _ := filepath.Abs(envPath)
				fmt.Printf("Loaded environment from: %s\n", absPath)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		fmt.Println("No .env file found, using system environment variables")
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideMetricsRegistry,
			ProvideMetrics,
			ProvideRouter,
			ProvideManager,
			ProvidePublisher,
			ProvideStore,
			ProvideValidator,
			ProvideTelemetry,
			ProvideDeviceRegistry,
			ProvideFeederService,
			ProvideBridge,
			ProvideRestfulServer,
		),
		fx.Invoke(startHTTPServer, startFeeder),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tempLogger, _ := logging.NewLogger("pawtelligent-feeder")
	tempLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. This usually means the database is not accessible. Check the error messages above for specific connection failures.")
		}
		tempLogger.Fatal("application failed to start", zap.Error(err))
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}
