package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cellwd/modem"
	"cellwd/poll"
	"cellwd/smartcfg"
)

func main() {
	config, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(config)

	if config.ListCommands {
		listCommands(smartcfg.Quectel())
		return
	}

	desired, err := loadDesired(config.DesiredConfig)
	if err != nil {
		logger.Error("Failed to load desired configuration", "path", config.DesiredConfig, "error", err)
		os.Exit(1)
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(config.ATTimeout).
		WithInitTimeout(config.InitTimeout).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to connect to modem", "port", config.SerialPort, "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}
	}()

	executor := smartcfg.ModemExecutor{Modem: m}
	engine := smartcfg.NewEngine(smartcfg.Quectel(), executor,
		smartcfg.WithLogger(logger.With("component", "engine")),
		smartcfg.WithRetries(config.QueryRetries),
		smartcfg.WithRetryDelay(config.RetryDelay),
	)

	report, err := engine.Reconcile(ctx, desired)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		logger.Error("Reconciliation aborted", "error", err)
		os.Exit(1)
	}

	if !config.Watch {
		return
	}

	poller := poll.New(executor,
		poll.WithLogger(logger.With("component", "poll")),
		poll.WithSignalInterval(config.SignalInterval),
		poll.WithIdentifyInterval(config.IdentifyInterval),
	)
	logger.Info("Watching modem telemetry", "signal_interval", config.SignalInterval)
	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Polling stopped", "error", err)
		os.Exit(1)
	}
}

func loadDesired(path string) (*smartcfg.DesiredConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return smartcfg.ParseDesiredConfig(data)
}

func printReport(report *smartcfg.Report) {
	fmt.Println(report.Summary())
	for _, outcome := range report.Problems() {
		if outcome.Err != nil {
			fmt.Printf("  %s: %s (%s): %v\n", outcome.Key, outcome.Status, outcome.Reason, outcome.Err)
		} else {
			fmt.Printf("  %s: %s\n", outcome.Key, outcome.Status)
		}
	}
}

func listCommands(registry *smartcfg.Registry) {
	for _, section := range registry.Sections() {
		fmt.Printf("%s:\n", section)
		for _, spec := range registry.Keys(section) {
			fmt.Printf("  %-28s %s\n", spec.Name, spec.Query)
		}
	}
}

func setupLogger(config *Config) *slog.Logger {
	level := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if config.LogFile != "" && config.LogFile != "-" {
		f, err := os.OpenFile(config.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
