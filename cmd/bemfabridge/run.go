package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/bemfa-bridge/migrations"

	"github.com/nerrad567/bemfa-bridge/internal/api"
	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/bridges/hass"
	"github.com/nerrad567/bemfa-bridge/internal/coordinator"
	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/entity"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/database"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/bemfa-bridge/internal/metrics"
)

// pruneInterval is how often expired history rows are deleted.
const pruneInterval = time.Hour

// run is the bridge lifecycle, separated from main for testability.
//
// Components start bottom-up and the deferred cleanups stop them in reverse:
// API, Home Assistant bridge, coordinator, cloud transport, sinks, database.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting bemfa bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"api_key", logging.Redact(cfg.Bemfa.APIKey),
		"level", cfg.Logging.Level,
	)

	client := bemfa.NewClient(cfg.Bemfa)
	if err := client.ValidateKey(ctx); err != nil {
		return fmt.Errorf("validating api key: %w", err)
	}

	checks := make(map[string]api.HealthChecker)

	// History store (optional)
	var history *device.SQLiteStateHistoryRepository
	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		history = device.NewSQLiteStateHistoryRepository(db.DB)
		checks["database"] = db
		log.Info("database ready", "path", db.Path())
	}

	// Time-series sink (optional)
	var influx *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influx, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks["influxdb"] = influx
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	table := device.NewTable()
	transport := bemfa.NewTransport(bemfa.TransportFromConfig(cfg), log.With("component", "bemfa"))
	coord := coordinator.New(table, client, transport, coordinator.FromConfig(cfg),
		coordinator.WithLogger(log.With("component", "coordinator")),
		coordinator.WithObserver(m),
	)
	m.RegisterStatus(reg, coord.Status, transport.HeartbeatStatus)

	// Subscription order is delivery order: the registry must see a change
	// before any consumer that reads entities.
	registry := entity.NewRegistry(table, coord)
	registry.SetLogger(log.With("component", "entity"))
	coord.Subscribe(registry.HandleChange)
	coord.Subscribe(m.HandleChange)

	if history != nil {
		writer := device.NewHistoryWriter(history, log.With("component", "history"), cfg.Sync.QueueSize)
		writer.Start(ctx)
		defer writer.Stop()
		coord.Subscribe(writer.Enqueue)
	}
	if influx != nil {
		coord.Subscribe(newTelemetry(influx).HandleChange)
	}

	transport.OnMessage(coord.HandleMessage)
	transport.OnLinkChange(coord.LinkChanged)
	transport.OnHeartbeat(coord.HeartbeatLost, coord.HeartbeatRestored)
	if err := transport.Connect(cloudDialer(cfg.Bemfa.MQTT, log)); err != nil {
		return err
	}
	defer func() {
		log.Info("disconnecting from Bemfa")
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing Bemfa transport", "error", closeErr)
		}
	}()
	log.Info("Bemfa MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Bemfa.MQTT.Broker.Host, cfg.Bemfa.MQTT.Broker.Port),
	)

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer func() {
		log.Info("stopping coordinator")
		coord.Stop()
	}()

	// Home Assistant bridge (optional)
	if cfg.Hass.Enabled {
		stop, err := startHass(ctx, cfg, registry, coord, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.With("component", "api"),
			Entities:    registry,
			Coordinator: coord,
			Heartbeat:   transport.HeartbeatStatus,
			History:     historyRepo(history),
			Metrics:     metrics.Handler(reg),
			Checks:      checks,
			Version:     version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal", "devices", table.Len())

	g, gctx := errgroup.WithContext(ctx)
	if history != nil && cfg.GetRetention() > 0 {
		g.Go(func() error {
			return pruneLoop(gctx, history, cfg.GetRetention(), pruneInterval, log)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// cloudDialer connects the shared MQTT wrapper to the Bemfa broker with the
// transport's hooks registered before the first connection.
func cloudDialer(cfg config.MQTTConfig, log *logging.Logger) bemfa.Dialer {
	return func(onConnect func(), onDisconnect func(error)) (bemfa.MQTTClient, error) {
		c, err := mqtt.Connect(cfg,
			mqtt.WithOnConnect(onConnect),
			mqtt.WithOnDisconnect(onDisconnect),
			mqtt.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// startHass connects the local broker and starts the discovery bridge. The
// returned func stops the bridge, then closes the broker connection.
func startHass(ctx context.Context, cfg *config.Config, registry *entity.Registry, coord *coordinator.Coordinator, log *logging.Logger) (func(), error) {
	hlog := log.With("component", "hass")

	// The broker keeps no session for us; every reconnect republishes.
	var bridge atomic.Pointer[hass.Bridge]
	client, err := mqtt.Connect(cfg.Hass.MQTT,
		mqtt.WithOnConnect(func() {
			if b := bridge.Load(); b != nil {
				b.Resync()
			}
		}),
		mqtt.WithOnDisconnect(func(err error) {
			hlog.Warn("Home Assistant broker disconnected", "error", err)
		}),
		mqtt.WithLogger(hlog),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to Home Assistant broker: %w", err)
	}

	b := hass.New(hass.FromConfig(cfg.Hass, version), client, registry, hlog)
	unsubscribe := coord.Subscribe(b.HandleChange)
	if err := b.Start(ctx); err != nil {
		unsubscribe()
		_ = client.Close()
		return nil, err
	}
	bridge.Store(b)

	return func() {
		log.Info("stopping Home Assistant bridge")
		unsubscribe()
		b.Stop()
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing Home Assistant broker", "error", closeErr)
		}
	}, nil
}

// historyRepo keeps a nil repository a nil interface for the API.
func historyRepo(r *device.SQLiteStateHistoryRepository) device.StateHistoryRepository {
	if r == nil {
		return nil
	}
	return r
}

// pruner is satisfied by *device.SQLiteStateHistoryRepository.
type pruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneLoop deletes history older than retention once at start and then on
// every tick. Failures are logged; only cancellation ends the loop.
func pruneLoop(ctx context.Context, p pruner, retention, interval time.Duration, log *logging.Logger) error {
	prune := func() {
		n, err := p.PruneHistory(ctx, retention)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			log.Warn("pruning state history failed", "error", err)
		case n > 0:
			log.Info("pruned state history", "rows", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			prune()
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
