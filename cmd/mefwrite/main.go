// Command mefwrite drives the channel, annotation and manifest writers
// from a YAML configuration file: one session, one or more channels fed
// from CSV sample files, and an optional annotation record feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/msel-source/mefwriter/annotation"
	"github.com/msel-source/mefwriter/channel"
	"github.com/msel-source/mefwriter/config"
	"github.com/msel-source/mefwriter/password"
	"github.com/msel-source/mefwriter/session"
	"github.com/msel-source/mefwriter/sys"

	"github.com/arl/statsviz"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/term"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// createLogger builds a slog.Logger from the loaded logging configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		output = f
		closer = f
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})), closer, nil
}

// initTracerProvider wires an OTLP/HTTP exporter when tracing is enabled,
// otherwise returns a no-op provider and cleanup.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("tracing disabled")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	ctx := context.Background()
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("mefwrite")))
	if err != nil {
		return nil, nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("shut down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}

// startDebugServer registers the statsviz live-metrics UI and serves it
// until the process exits; failures are logged, not fatal.
func startDebugServer(cfg config.DebugConfig, logger *slog.Logger) {
	if !cfg.Enabled {
		return
	}
	mux := http.NewServeMux()
	if err := statsviz.Register(mux, statsviz.Root("/viz")); err != nil {
		logger.Error("register statsviz endpoint", "error", err)
		return
	}
	addr := cfg.ListenAddress
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	go func() {
		logger.Info("debug server listening", "address", addr, "path", "/viz")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("debug server exited", "error", err)
		}
	}()
}

// checkAvailableMemory logs a one-time system memory snapshot at startup,
// before any channel is initialized. The per-channel sample buffer
// allocation itself is guarded separately, in channel.Initialize, which can
// fail with core.ErrAllocationFailed when memory looks insufficient for
// that channel's buffer; this function only ever warns.
func checkAvailableMemory(logger *slog.Logger) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("read system memory", "error", err)
		return
	}
	logger.Info("system memory", "total_bytes", vm.Total, "available_bytes", vm.Available, "used_percent", vm.UsedPercent)
	if vm.UsedPercent > 90 {
		logger.Warn("system memory usage above 90%", "used_percent", vm.UsedPercent)
	}
}

// promptPassword interactively reads a password from the terminal, without
// echo, when a channel's configuration omits one. The password is read
// once; there is no confirmation prompt.
func promptPassword(label string) (string, error) {
	fmt.Printf("Enter %s (leave blank for none): ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return string(raw), nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	interactivePasswords := flag.Bool("prompt-passwords", false, "Prompt on the terminal for a channel's level-1 password when it is left blank in the config")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("create logger", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	if cfg.Session.RootDir == "" || cfg.Session.SessionName == "" {
		logger.Error("session.root_dir and session.session_name are required")
		os.Exit(1)
	}

	sys.DefaultLockTimeout = config.ParseDuration(cfg.Session.LockTimeout, sys.DefaultLockTimeout, logger)

	checkAvailableMemory(logger)
	startDebugServer(cfg.Debug, logger)

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("initialize tracer provider", "error", err)
		os.Exit(1)
	}
	defer tracerCleanup()
	tracer := tp.Tracer("github.com/msel-source/mefwriter")

	sess := session.New(cfg.Session.RootDir, cfg.Session.SessionName, cfg.Session.GMTOffsetHours, cfg.Session.Anonymize)

	if len(cfg.Channels) == 0 {
		logger.Error("configuration declares no channels")
		os.Exit(1)
	}

	drivers := make([]session.Driveable, 0, len(cfg.Channels))
	closeAll := func() {}
	for _, ch := range cfg.Channels {
		level1, level2 := ch.Password.Level1, ch.Password.Level2
		if *interactivePasswords && level1 == "" {
			level1, err = promptPassword(fmt.Sprintf("%s level-1 password", ch.ChannelName))
			if err != nil {
				logger.Error("prompt password", "channel", ch.ChannelName, "error", err)
				os.Exit(1)
			}
		}
		pw, err := password.New(level1, level2)
		if err != nil {
			logger.Error("build channel password", "channel", ch.ChannelName, "error", err)
			os.Exit(1)
		}

		writerCfg := channel.Config{
			RootDir:                   cfg.Session.RootDir,
			ChannelName:               ch.ChannelName,
			AnonymizedName:            ch.AnonymizedName,
			SamplingFrequencyHz:       ch.SamplingFrequencyHz,
			SecondsPerBlock:           ch.SecondsPerBlock,
			BlockIntervalMicroseconds: ch.BlockIntervalMicroseconds,
			SecondsPerSegment:         ch.SecondsPerSegment,
			BitShiftFlag:              ch.BitShiftFlag,
			LowFrequencyFilterHz:      ch.LowFrequencyFilterHz,
			HighFrequencyFilterHz:     ch.HighFrequencyFilterHz,
			NotchFilterHz:             ch.NotchFilterHz,
			ACLineFrequencyHz:         ch.ACLineFrequencyHz,
			UnitsConversionFactor:     ch.UnitsConversionFactor,
			Compression:               ch.Compression.CompressionType(),
			Password:                  pw,
			Logger:                    logger,
			Tracer:                    tracer,
		}

		w, err := channel.Initialize(writerCfg, sess)
		if err != nil {
			logger.Error("initialize channel", "channel", ch.ChannelName, "error", err)
			os.Exit(1)
		}

		feed, f, err := newCSVSampleFeed(ch.InputPath, int(writerCfg.SamplingFrequencyHz*writerCfg.SecondsPerBlock)+1)
		if err != nil {
			logger.Error("open channel sample input", "channel", ch.ChannelName, "error", err)
			os.Exit(1)
		}
		prevClose := closeAll
		closeAll = func() { prevClose(); f.Close() }

		drivers = append(drivers, &channel.FeedDriver{Writer: w, Feed: feed})
		logger.Info("channel initialized", "channel", ch.ChannelName, "input", ch.InputPath)
	}
	defer closeAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutdown signal received, draining channel feeds")
		cancel()
	}()

	driveErrChan := make(chan error, 1)
	go func() {
		driveErrChan <- session.DriveChannels(ctx, drivers)
	}()

	if cfg.Session.AnnotationsPath != "" {
		annWriter, err := annotation.Create(cfg.Session.RootDir, cfg.Session.SessionName, sess, annotation.Options{Logger: logger, Tracer: tracer})
		if err != nil {
			logger.Error("create annotation writer", "error", err)
		} else {
			n, err := replayAnnotations(annWriter, cfg.Session.AnnotationsPath)
			if err != nil {
				logger.Error("replay annotations", "error", err)
			}
			if err := annWriter.Close(); err != nil {
				logger.Error("close annotation writer", "error", err)
			}
			logger.Info("annotations written", "count", n)
		}
	}

	if err := <-driveErrChan; err != nil && err != context.Canceled {
		logger.Error("channel drive exited with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("recording complete")
}
