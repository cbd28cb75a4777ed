package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/retrovue/broadcast-core/cmd/playoutd/app"
	"github.com/retrovue/broadcast-core/pkg/config"
	"github.com/retrovue/broadcast-core/pkg/logging"
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	cfg, err := config.LoadConfig(os.Args, cwd)
	if err != nil {
		if strings.Contains(err.Error(), "help requested") {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err.Error())
		return 1
	}

	if err := logging.InitSlog(cfg.LogLevel, cfg.LogFormat); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error initializing logging: %s\n", err.Error())
		return 1
	}

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	startIssue := make(chan struct{}, 1)
	stopServer := make(chan struct{}, 1)

	ctx, cancelBkg := context.WithCancel(context.Background())

	go func() {
		select {
		case <-startIssue:
		case <-stopSignal:
		}
		cancelBkg()
		stopServer <- struct{}{}
	}()

	svc, err := app.Setup(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error setting up service: %s\n", err.Error())
		return 1
	}
	slog.Default().Info("playoutd starting", "port", cfg.Port)

	go func() {
		err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), svc.Server.Router)
		if err != nil && err != http.ErrServerClosed {
			slog.Default().Error(err.Error())
			exitCode = 1
			startIssue <- struct{}{}
		}
	}()

	<-stopServer // Wait here for stop signal
	svc.Horizon.Stop()
	slog.Default().Info("Server stopped")

	return exitCode
}
