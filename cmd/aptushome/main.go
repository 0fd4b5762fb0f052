// Aptus Home - entrance lock bridge for Aptus portals
//
// This is the main entry point for the Aptus Home bridge. It logs in to one
// or more Aptus tenant portals, exposes their entrance doors and apartment
// lock on the MQTT bus and over a REST/WebSocket API, and relays entrance
// panel calls as buzz events.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/nerrad567/aptus-home/migrations"

	"github.com/nerrad567/aptus-home/internal/api"
	"github.com/nerrad567/aptus-home/internal/audit"
	"github.com/nerrad567/aptus-home/internal/auth"
	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/doorlock"
	"github.com/nerrad567/aptus-home/internal/infrastructure/config"
	"github.com/nerrad567/aptus-home/internal/infrastructure/database"
	"github.com/nerrad567/aptus-home/internal/infrastructure/influxdb"
	"github.com/nerrad567/aptus-home/internal/infrastructure/logging"
	"github.com/nerrad567/aptus-home/internal/infrastructure/mqtt"
	"github.com/nerrad567/aptus-home/internal/metrics"
	"github.com/nerrad567/aptus-home/internal/setup"
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

func main() {
	hashPassword := flag.Bool("hash-password", false,
		"read a password from stdin, print its Argon2id hash for security.admin.password_hash and exit")
	flag.Parse()

	if *hashPassword {
		if err := printPasswordHash(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printPasswordHash hashes the first line of in.
func printPasswordHash(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// run is the application logic, separated from main for testability.
//
// Startup order: config, logging, database, lock registry, MQTT, InfluxDB
// (optional), bridge, stored portal entries, API. Everything is torn down in
// reverse when ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Aptus Home",
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
	defer log.Close() //nolint:errcheck // closing the log file at exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	entries := setup.NewSQLiteStore(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	collector := metrics.New()

	// Credentials in the config file become a stored entry like any other.
	if cfg.Aptus.Host != "" {
		entry, seedErr := setup.EnsureEntry(ctx, entries, setup.Input{
			Host:     cfg.Aptus.Host,
			Username: cfg.Aptus.Username,
			Password: cfg.Aptus.Password,
		})
		if seedErr != nil {
			return fmt.Errorf("storing configured portal: %w", seedErr)
		}
		log.Info("configured portal entry ready", "entry_id", entry.ID, "host", entry.Host)
	}

	registry := doorlock.NewRegistry(doorlock.NewSQLiteRepository(db.DB), cfg.Aptus.GetUnlockDuration())
	registry.SetLogger(log)
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading lock registry: %w", loadErr)
	}
	log.Info("lock registry initialised", "locks", registry.Count())

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	opts := bridge.BridgeOptions{
		BridgeID:          cfg.Site.ID + "-aptus",
		Version:           version,
		HealthInterval:    cfg.Aptus.GetHealthInterval(),
		CallPollInterval:  cfg.Aptus.GetCallPollInterval(),
		KeepaliveInterval: cfg.Aptus.GetKeepaliveInterval(),
		MQTTClient:        mqttClient,
		Registry:          registry,
		Logger:            log,
		Audit:             auditRepo,
		Metrics:           collector,
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	aptusBridge, err := bridge.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating Aptus bridge: %w", err)
	}
	if startErr := aptusBridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting Aptus bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping Aptus bridge")
		aptusBridge.Stop()
	}()

	portals := newPortalManager(cfg.Aptus, aptusBridge, collector, log)
	defer func() {
		log.Info("logging out of portals")
		portals.UnloadAll(context.WithoutCancel(ctx))
	}()
	if loadErr := portals.LoadAll(ctx, entries); loadErr != nil {
		return fmt.Errorf("loading portal entries: %w", loadErr)
	}

	flow := setup.NewFlow(entries, portals.probeClient)
	flow.SetLogger(log)

	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Bridge:    aptusBridge,
		Flow:      flow,
		Entries:   entries,
		Lifecycle: portals,
		Audit:     auditRepo,
		Metrics:   collector,
		MQTT:      mqttClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, portal logout, bridge, InfluxDB,
	// MQTT, database.
	return nil
}

// connectInflux connects to InfluxDB when enabled. A disabled InfluxDB
// yields a nil client and no error.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// getConfigPath returns the configuration file path.
// Uses APTUSHOME_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("APTUSHOME_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
