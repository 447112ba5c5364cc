// Roomsyncd is the roomsync device agent.
//
// It keeps one device's view of the shared room roster in sync with the
// document store, serves the local HTTP API a tablet UI drives, and
// optionally ingests reports dropped into an inbox directory.
//
// Configuration is loaded from ~/.config/roomsync/config.yaml and ROOMSYNC_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start on the in-memory store
//	roomsyncd
//
//	# Share a NATS JetStream bucket with the other devices
//	ROOMSYNC_STORE_DRIVER=nats ROOMSYNC_STORE_NATS_URL=nats://hotel-box:4222 roomsyncd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/roomsync/internal/config"
	"github.com/fyrsmithlabs/roomsync/internal/device"
	"github.com/fyrsmithlabs/roomsync/internal/docstore"
	httpserver "github.com/fyrsmithlabs/roomsync/internal/http"
	"github.com/fyrsmithlabs/roomsync/internal/inbox"
	"github.com/fyrsmithlabs/roomsync/internal/journal"
	"github.com/fyrsmithlabs/roomsync/internal/logging"
	"github.com/fyrsmithlabs/roomsync/internal/roster"
	"github.com/fyrsmithlabs/roomsync/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/roomsync/cmd/roomsyncd"

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/roomsync/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  roomsyncd [-config path]   Start the device agent\n")
			fmt.Fprintf(os.Stderr, "  roomsyncd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("roomsyncd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("roomsyncd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the agent and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Opens the document store and the activity journal
//  4. Starts the device session, and the inbox session if enabled
//  5. Serves the HTTP API until shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(context.Background(), "telemetry shutdown", zap.Error(err))
		}
	}()
	if degraded, reasons := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("reasons", reasons))
	}

	deviceID := cfg.Device.ID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	ctx = logging.WithDeviceID(ctx, deviceID)

	def, err := roster.LoadDefinition(cfg.Roster.Definition)
	if err != nil {
		return fmt.Errorf("loading roster definition: %w", err)
	}

	logger.Info(ctx, "starting roomsyncd",
		zap.String("version", version),
		zap.String("store", cfg.Store.Driver),
		zap.Int("rooms", def.Seed(time.Now()).Len()),
		zap.Int("port", cfg.Server.Port))

	store, err := docstore.Open(ctx, storeConfig(cfg))
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}
	defer store.Close()

	var jnl *journal.Journal
	if cfg.Journal.Path != "" {
		jnl, err = journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer jnl.Close()
	}

	tracer := tel.Tracer(instrumentationName)
	opts := []device.Option{device.WithLogger(logger), device.WithTracer(tracer)}
	if jnl != nil {
		opts = append(opts, device.WithJournal(jnl))
	}

	session, err := device.New(store, device.FromSettings(cfg, deviceID, def), opts...)
	if err != nil {
		return fmt.Errorf("creating device session: %w", err)
	}
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting device session: %w", err)
	}
	defer session.Close()

	if cfg.Inbox.Dir != "" {
		stop, err := startInbox(ctx, cfg, store, def, deviceID, logger, opts)
		if err != nil {
			return err
		}
		defer stop()
	}

	var serverOpts []httpserver.Option
	serverOpts = append(serverOpts, httpserver.WithMetrics(httpserver.NewHTTPMetrics(tel.Meter(instrumentationName), logger)))
	if jnl != nil {
		serverOpts = append(serverOpts, httpserver.WithHistory(jnl))
	}
	srv, err := httpserver.NewServer(session, logger, &httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}, serverOpts...)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info(context.Background(), "roomsyncd stopped")
	return nil
}

// startInbox runs the report inbox on its own front desk session, so
// dropped reports are ingested whoever is logged in on this device.
func startInbox(ctx context.Context, cfg *config.Config, store docstore.Store, def *roster.Definition, deviceID string, logger *logging.Logger, opts []device.Option) (func(), error) {
	inboxID := deviceID + "-inbox"
	session, err := device.New(store, device.FromSettings(cfg, inboxID, def), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating inbox session: %w", err)
	}
	if err := session.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting inbox session: %w", err)
	}
	if _, err := session.Login(ctx, cfg.Inbox.Operator, roster.RoleFrontDesk); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("logging in inbox operator: %w", err)
	}

	in, err := inbox.New(inbox.Config{
		Dir:         cfg.Inbox.Dir,
		SettleDelay: cfg.Inbox.SettleDelay.Duration(),
	}, session, inbox.WithLogger(logger.Named("inbox")))
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("creating inbox: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := in.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "inbox stopped", zap.Error(err))
		}
	}()

	return func() {
		_ = in.Close()
		<-done
		_ = session.Close()
	}, nil
}

// storeConfig maps the file settings onto the store driver config.
func storeConfig(cfg *config.Config) docstore.Config {
	return docstore.Config{
		Driver: cfg.Store.Driver,
		NATS: docstore.NATSConfig{
			URL:      cfg.Store.NATS.URL,
			Bucket:   cfg.Store.NATS.Bucket,
			Embedded: cfg.Store.NATS.Embedded,
			Host:     cfg.Store.NATS.Host,
			Port:     cfg.Store.NATS.Port,
			StoreDir: cfg.Store.NATS.StoreDir,
		},
		Redis: docstore.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password.Value(),
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		},
	}
}
