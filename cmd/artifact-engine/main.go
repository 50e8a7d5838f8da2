package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/arscape/artifact-engine/internal/api"
	"github.com/arscape/artifact-engine/internal/artifactcache"
	"github.com/arscape/artifact-engine/internal/catalog"
	"github.com/arscape/artifact-engine/internal/config"
	"github.com/arscape/artifact-engine/internal/dispatcher"
	"github.com/arscape/artifact-engine/internal/download"
	"github.com/arscape/artifact-engine/internal/engine"
	"github.com/arscape/artifact-engine/internal/events"
	"github.com/arscape/artifact-engine/internal/influx"
	"github.com/arscape/artifact-engine/internal/logging"
	"github.com/arscape/artifact-engine/internal/mediastore"
	"github.com/arscape/artifact-engine/internal/modelpool"
	"github.com/arscape/artifact-engine/internal/monitor"
	intOtel "github.com/arscape/artifact-engine/internal/otel"
	"github.com/arscape/artifact-engine/internal/placement"
	"github.com/arscape/artifact-engine/internal/storage"
	postgresstorage "github.com/arscape/artifact-engine/internal/storage/postgres"
	sqlitestorage "github.com/arscape/artifact-engine/internal/storage/sqlite"
)

// Version and BuildDate can be set at build time via ldflags.
var (
	Version   = "0.0.1"
	BuildDate = "unknown"

	AppName = "artifact_engine"
)

var (
	SessionStartTime = time.Now()

	SlogManager  *logging.SlogManager
	Logger       *slog.Logger
	OTelProvider *intOtel.Provider

	engineService  *engine.Engine
	monitorService *monitor.Service
)

func main() {
	if runCLI(os.Args[1:]) {
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Config first; everything downstream reads viper keys.
	config.SetDefaults()
	if err := config.Load("."); err != nil {
		fmt.Fprintf(os.Stderr, "config not loaded, using defaults: %v\n", err)
	}

	logsDir := viper.GetString("logsDir")
	cacheDir := viper.GetString("cacheDir")
	for _, dir := range []string{logsDir, cacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	logFilePath := logging.LogFilePath(logsDir, AppName, SessionStartTime)
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	zlog := logging.NewZerolog(viper.GetString("logLevel"), logFile)
	zlog.Info().Str("version", Version).Str("build", BuildDate).Msg("Starting artifact engine")

	if viper.GetBool("otel.enabled") {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:     true,
			ServiceName: "artifact-engine",
			LogWriter:   logFile,
			Endpoint:    viper.GetString("otel.endpoint"),
			Insecure:    true,
		})
		if err != nil {
			zlog.Error().Err(err).Msg("Failed to initialize OTel provider")
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(logFile, viper.GetString("logLevel"), otelLogProvider, engineLogContext)
	Logger = SlogManager.Logger()

	media := mediastore.New(cacheDir)
	if err := media.EnsureDirs(); err != nil {
		return fmt.Errorf("prepare cache dirs: %w", err)
	}

	sqlitePath := viper.GetString("storage.sqlitePath")
	if sqlitePath == "" {
		sqlitePath = media.RecordsPath()
	}
	store, err := storage.NewBackend(storage.Config{
		Backend:    viper.GetString("storage.backend"),
		SqlitePath: sqlitePath,
	}, storageConstructors(), zlog)
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}
	if err := store.Init(); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	bus := events.NewBus()
	downloads := download.New(zlog, config.GetDuration("download.timeoutSeconds", time.Second))

	cache := artifactcache.New(artifactcache.Dependencies{
		Store: store,
		Catalog: catalog.New(
			viper.GetString("catalog.serverUrl"),
			viper.GetString("catalog.apiKey"),
			config.GetDuration("catalog.timeoutSeconds", time.Second),
		),
		Downloads: downloads,
		Media:     media,
		Bus:       bus,
		Log:       zlog,
	}, artifactcache.Config{
		HistoryLimit:  viper.GetInt("history.limit"),
		FlushDebounce: config.GetDuration("history.flushDebounceMs", time.Millisecond),
	})
	if err := cache.Init(); err != nil {
		return fmt.Errorf("artifact cache: %w", err)
	}

	pool := modelpool.New(modelpool.Dependencies{
		Decoder: glbDecoder{},
		Bus:     bus,
		Log:     zlog,
	}, modelpool.Config{
		Capacity:        viper.GetInt("pool.capacity"),
		TTL:             config.GetDuration("pool.ttlMinutes", time.Minute),
		FailureCooldown: config.GetDuration("pool.failureCooldownMinutes", time.Minute),
	})

	sink := newRenderSink(os.Stdout, zlog)
	engineService = engine.New(engine.Dependencies{
		Cache:   cache,
		Placer:  placement.New(pool, zlog),
		Bus:     bus,
		Visuals: sink,
		Log:     zlog,
	}, engine.Config{
		FadeDelay: config.GetDuration("host.fadeDelaySeconds", time.Second),
	})

	disp, err := dispatcher.New(logging.NewDispatcherLogger(zlog))
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	engineService.RegisterHandlers(disp)

	var influxManager *influx.Manager
	if viper.GetBool("influx.enabled") {
		influxManager = influx.NewManager(zlog, filepath.Join(logsDir, "metrics_backup.lp.gz"))
		if err := influxManager.Connect(); err != nil {
			zlog.Warn().Err(err).Msg("Metrics backend unavailable, falling back to local backup")
		}
		influxManager.CreateWriters()
	}

	monitorService = monitor.NewService(monitor.Dependencies{
		Cache:      cache,
		Pool:       pool,
		Downloads:  downloads,
		Influx:     influxManager,
		LogManager: SlogManager,
		StatusDir:  logsDir,
	})
	if err := monitorService.Start(); err != nil {
		zlog.Warn().Err(err).Msg("Monitor did not start")
	}

	var apiServer *api.Server
	if viper.GetBool("api.enabled") {
		apiServer = api.NewServer(api.Dependencies{
			Cache:   cache,
			Pool:    pool,
			Monitor: monitorService,
			Hosts:   engineService,
			Log:     zlog,
		}, viper.GetString("api.listenAddr"))
		apiServer.Start()
		zlog.Info().Str("addr", viper.GetString("api.listenAddr")).Msg("Status API listening")
	}

	Logger.Info("Engine ready", "version", Version)

	// Tracking commands arrive on stdin, one per line, pipe-separated:
	//   :MARKER:RECOGNIZED:|M1|0.24
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				zlog.Info().Msg("Input closed, shutting down")
				break loop
			}
			dispatchLine(disp, zlog, line)
		case sig := <-sigCh:
			zlog.Info().Str("signal", sig.String()).Msg("Shutting down")
			break loop
		}
	}

	shutdown(apiServer, cache, pool, influxManager)
	if err := store.Close(); err != nil {
		Logger.Warn("Store close", "error", err)
	}
	return nil
}

// dispatchLine parses one tracking command and hands it to the dispatcher.
func dispatchLine(disp *dispatcher.Dispatcher, zlog zerolog.Logger, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	parts := strings.Split(line, "|")
	ev := dispatcher.Event{
		Command:   parts[0],
		Args:      parts[1:],
		Timestamp: time.Now(),
	}
	if !disp.HasHandler(ev.Command) {
		zlog.Warn().Str("command", ev.Command).Msg("Unknown command")
		return
	}
	if _, err := disp.Dispatch(ev); err != nil {
		zlog.Error().Err(err).Str("command", ev.Command).Msg("Command failed")
	}
}

func shutdown(apiServer *api.Server, cache *artifactcache.Cache, pool *modelpool.Pool, influxManager *influx.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if apiServer != nil {
		if err := apiServer.Shutdown(ctx); err != nil {
			Logger.Warn("API shutdown", "error", err)
		}
	}
	if monitorService != nil {
		monitorService.Stop()
	}
	if engineService != nil {
		engineService.Shutdown()
	}
	pool.Close()
	if err := cache.Close(); err != nil {
		Logger.Warn("Cache close", "error", err)
	}
	if influxManager != nil && influxManager.Client != nil {
		influxManager.Client.Close()
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("OTel shutdown", "error", err)
		}
	}
	SlogManager.Flush(ctx)
}

// engineLogContext feeds live engine state into every log record once the
// engine exists.
func engineLogContext() []slog.Attr {
	if engineService == nil {
		return nil
	}
	return engineService.LogContext()
}

func storageConstructors() storage.Constructors {
	return storage.Constructors{
		NewSqlite: func(path string, log zerolog.Logger) (storage.Backend, error) {
			return sqlitestorage.New(path, log)
		},
		NewPostgres: func(fallback string, log zerolog.Logger) (storage.Backend, error) {
			return postgresstorage.New(fallback, log)
		},
	}
}
