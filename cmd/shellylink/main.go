// shellylink - session layer for Shelly smart relays over MQTT
//
// This is the main entry point for the shellylink daemon. It keeps one
// broker connection open, discovers devices from their presence and status
// topics, and exposes switch control through the HTTP API.
//
// Usage:
//
//	shellylink                     run the daemon
//	shellylink token -subject bob  print an API access token
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/shellylink/internal/api"
	"github.com/nerrad567/shellylink/internal/device"
	"github.com/nerrad567/shellylink/internal/infrastructure/config"
	"github.com/nerrad567/shellylink/internal/infrastructure/database"
	"github.com/nerrad567/shellylink/internal/infrastructure/influxdb"
	"github.com/nerrad567/shellylink/internal/infrastructure/logging"
	"github.com/nerrad567/shellylink/internal/presence"
	"github.com/nerrad567/shellylink/internal/recorder"
	"github.com/nerrad567/shellylink/internal/resolver"
	"github.com/nerrad567/shellylink/internal/session"
	"github.com/nerrad567/shellylink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupHealthTimeout bounds the infrastructure checks made before serving.
const startupHealthTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the daemon, separated from main for testability. It returns nil on
// a clean shutdown after ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting shellylink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Event history (optional)
	var (
		db      *database.DB
		history device.EventHistory
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		history = device.NewSQLiteEventHistory(db.DB)
	} else {
		log.Info("device history disabled")
	}

	// Telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Session layer
	tracker := presence.NewTracker()
	tracker.SetLogger(log.Component("presence"))
	defer tracker.Close()

	res := resolver.New(resolver.Options{
		Timeout:     cfg.GetResolveTimeout(),
		MDNS:        cfg.Resolver.MDNS,
		MDNSService: cfg.Resolver.MDNSService,
	})
	res.SetLogger(log.Component("resolver"))
	if cfg.Resolver.CachedAddress != "" {
		res.Seed(cfg.MQTT.Broker.Host, cfg.Resolver.CachedAddress)
	}

	sess := session.New(session.Deps{
		Identity:       cfg.MQTT.Broker.ClientID,
		IdentityPrefix: cfg.MQTT.Broker.ClientIDPrefix,
		Tracker:        tracker,
		Resolver:       res,
		RPCTimeout:     cfg.GetRPCTimeout(),
		Lanes:          cfg.RPC.Lanes,
		QueueSize:      cfg.RPC.QueueSize,
		Logger:         log.Component("session"),
	})
	defer sess.Close()
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	log.Info("session started", "identity", sess.Identity())

	go func() {
		err := session.Supervise(ctx, sess, cfg.MQTT, session.SuperviseOptionsFrom(cfg.MQTT.Reconnect))
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, session.ErrSessionClosed) {
			log.Error("broker supervisor stopped", "error", err)
		}
	}()

	// Recorder
	recOpts := recorder.Options{
		History:   history,
		Retention: time.Duration(cfg.Database.HistoryRetention) * 24 * time.Hour,
		Logger:    log.Component("recorder"),
	}
	if influxClient != nil {
		recOpts.Telemetry = influxClient
	}
	rec := recorder.New(tracker, recOpts)
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		_ = rec.Run(ctx)
	}()

	// HTTP API
	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			Connection: sess,
			Devices:    tracker,
			Caller:     sess.Correlator(),
			RPCTimeout: cfg.GetRPCTimeout(),
			History:    history,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server listening", "addr", server.Addr())
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// The recorder must finish its last writes before the database and
	// InfluxDB deferred closes run.
	sess.Close()
	tracker.Close()
	<-recDone

	log.Info("shellylink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SHELLYLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SHELLYLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the optional storage backends before the session
// starts. Either argument may be nil when that backend is disabled. The
// broker is not checked: Supervise owns that connection and retries it.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()

	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
