// HTD bridge - whole-house audio matrix controller bridge
//
// This is the main entry point for the HTD bridge. It drives an HTD
// MC/MCA-66 or Lync 6/12 matrix controller over serial or TCP, keeps a
// canonical mirror of per-zone state, and exposes the zones over MQTT
// for home automation platforms. Zone state history can be recorded to
// SQLite, and telemetry to InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/htd-bridge/internal/bridge"
	"github.com/nerrad567/htd-bridge/internal/history"
	"github.com/nerrad567/htd-bridge/internal/htd"
	"github.com/nerrad567/htd-bridge/internal/infrastructure/config"
	"github.com/nerrad567/htd-bridge/internal/infrastructure/database"
	"github.com/nerrad567/htd-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/htd-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/htd-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// historyPruneInterval is how often expired history rows are removed.
const historyPruneInterval = 24 * time.Hour

// linkMetricInterval is how often transport link counters are sampled
// into InfluxDB.
const linkMetricInterval = 60 * time.Second

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting HTD bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Assemble the controller engine
	engine, err := htd.New(htd.Config{
		Connection:           cfg.Device.Connection,
		Model:                htd.ModelFamily(cfg.Device.Model),
		ZoneCount:            cfg.Device.ZoneCount,
		PollInterval:         cfg.Device.GetPollInterval(),
		CommandTimeout:       cfg.Device.GetCommandTimeout(),
		MaxRetries:           cfg.Device.MaxRetries,
		RetryBackoff:         cfg.Device.GetRetryBackoff(),
		ConnectTimeout:       cfg.Device.GetConnectTimeout(),
		ReconnectInterval:    cfg.Device.GetReconnectInitialDelay(),
		MaxReconnectInterval: cfg.Device.GetReconnectMaxDelay(),
		ZoneNames:            cfg.Names.Zones,
		SourceNames:          cfg.Names.Sources,
	}, log)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	if err := engine.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to controller: %w", err)
	}
	defer func() {
		log.Info("closing controller link")
		if closeErr := engine.Close(); closeErr != nil {
			log.Error("error closing engine", "error", closeErr)
		}
	}()
	log.Info("controller connected",
		"connection", cfg.Device.Connection,
		"model", engine.Profile().Name,
		"zones", engine.Profile().Zones,
	)

	// Zone state history (optional)
	if cfg.Database.Enabled {
		cleanup, histErr := startHistory(ctx, cfg, engine, log)
		if histErr != nil {
			return histErr
		}
		defer cleanup()
	} else {
		log.Info("state history disabled")
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := startInflux(ctx, cfg, engine, log)
		if influxErr != nil {
			return influxErr
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT bridge (optional)
	if cfg.MQTT.Enabled {
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		zoneBridge, err := bridge.New(bridge.Options{
			ID:      cfg.MQTT.Broker.ClientID,
			Engine:  engine,
			MQTT:    mqttClient,
			Version: version,
			Address: cfg.Device.Connection,
			Logger:  log,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		if err := zoneBridge.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			zoneBridge.Stop()
		}()
		log.Info("MQTT bridge started")
	} else {
		log.Info("MQTT bridge disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. MQTT bridge, then MQTT client
	// 2. InfluxDB (if enabled)
	// 3. Database (if enabled)
	// 4. Controller link

	log.Info("HTD bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HTDBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HTDBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startHistory opens the database, applies the schema and wires zone
// change recording plus periodic pruning.
//
// Returns a cleanup function for the defer chain, and an error if
// setup fails.
func startHistory(ctx context.Context, cfg *config.Config, engine *htd.Client, log *logging.Logger) (func(), error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	recorder := history.NewRecorder(db)
	retention := time.Duration(cfg.Database.RetainDays) * 24 * time.Hour

	sub := engine.Subscribe(func(z htd.Zone) {
		if err := recorder.RecordZoneState(ctx, z); err != nil {
			log.Error("failed to record zone history", "zone", z.ID, "error", err)
		}
	})

	// Prune on startup, then daily. retain_days 0 keeps history forever.
	stop := make(chan struct{})
	pruneDone := make(chan struct{})
	go func() {
		defer close(pruneDone)
		if retention <= 0 {
			<-stop
			return
		}
		prune := func() {
			deleted, err := recorder.Prune(ctx, retention)
			if err != nil {
				log.Error("history prune failed", "error", err)
				return
			}
			if deleted > 0 {
				log.Info("history pruned", "rows", deleted)
			}
		}
		prune()

		ticker := time.NewTicker(historyPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				prune()
			}
		}
	}()

	cleanup := func() {
		engine.Unsubscribe(sub)
		close(stop)
		<-pruneDone
		log.Info("closing database")
		if err := db.Close(); err != nil {
			log.Error("error closing database", "error", err)
		}
	}

	return cleanup, nil
}

// startInflux connects to InfluxDB and wires zone change telemetry
// plus periodic transport link counters.
func startInflux(ctx context.Context, cfg *config.Config, engine *htd.Client, log *logging.Logger) (*influxdb.Client, error) {
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	influxClient.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})

	engine.Subscribe(func(z htd.Zone) {
		influxClient.WriteZoneState(z.ID, z.Power, z.VolumeRaw, z.VolumeNormalized, z.SourceID, z.Muted)
	})

	go func() {
		ticker := time.NewTicker(linkMetricInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := engine.Stats()
				influxClient.WriteLinkMetric("frames_tx", float64(stats.FramesTx))
				influxClient.WriteLinkMetric("frames_rx", float64(stats.FramesRx))
				influxClient.WriteLinkMetric("framing_errors", float64(stats.FramingErrors))
				influxClient.WriteLinkMetric("checksum_errors", float64(stats.ChecksumErrors))
				influxClient.WriteLinkMetric("bytes_discarded", float64(stats.BytesDiscarded))
				influxClient.WriteLinkMetric("reconnects_total", float64(stats.ReconnectsTotal))
			}
		}
	}()

	return influxClient, nil
}
