// Gray Logic Relay - MQTT to Telegram notification relay
//
// This is the main entry point for the relay. It subscribes to the building's
// MQTT bus and forwards matching messages as Telegram chat messages:
//   - Topic filters are routed to one or more chats
//   - Delivery survives broker and Bot API outages via bounded queues
//   - Every delivery outcome is logged, counted and optionally journaled
//
// Configuration comes from RELAY_CONFIG (default configs/relay.yaml) and the
// environment; see configs/relay.yaml for every setting.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/api"
	"github.com/nerrad567/gray-logic-relay/internal/backoff"
	"github.com/nerrad567/gray-logic-relay/internal/domain"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/journal"
	"github.com/nerrad567/gray-logic-relay/internal/metrics"
	"github.com/nerrad567/gray-logic-relay/internal/observe"
	"github.com/nerrad567/gray-logic-relay/internal/queue"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
	"github.com/nerrad567/gray-logic-relay/internal/route"
	"github.com/nerrad567/gray-logic-relay/internal/supervisor"
	"github.com/nerrad567/gray-logic-relay/internal/telegram"
	"github.com/nerrad567/gray-logic-relay/internal/translate"
	"github.com/nerrad567/gray-logic-relay/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path. A missing default file is not an error:
// the relay can run from environment variables alone.
const defaultConfigPath = "configs/relay.yaml"

// sinkCloseTimeout bounds flushing the journal on shutdown.
const sinkCloseTimeout = 5 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Only startup errors are returned. Once the relay is running, processing
// failures are reported as events and a shutdown that had to discard
// messages is logged, not returned.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Relay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	if configPath == "" {
		log.Info("configuration loaded from environment")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	// Routing and translation
	table, err := route.NewTable(topicRoutes(cfg.Routes))
	if err != nil {
		return fmt.Errorf("building route table: %w", err)
	}
	translator, err := translate.New(translate.Options{
		Encoding:         cfg.Translate.Encoding,
		MaxLength:        cfg.Translate.MaxLength,
		TruncationMarker: cfg.Translate.TruncationMarker,
	})
	if err != nil {
		return fmt.Errorf("creating translator: %w", err)
	}
	queues := queue.NewSet(cfg.Queue.Capacity, table.ChatIDs()...)
	log.Info("routes loaded",
		"routes", len(table.Routes()),
		"patterns", len(table.Patterns()),
		"destinations", len(table.ChatIDs()),
	)

	// Telegram
	bot, err := telegram.NewBot(cfg.Telegram)
	if err != nil {
		return fmt.Errorf("creating Telegram bot: %w", err)
	}
	sender := telegram.New(bot, telegram.OptionsFromConfig(cfg.Telegram, cfg.Delivery))
	sender.SetLogger(log.With("component", "telegram"))

	// Event sinks: log, counters, and the optional journal and InfluxDB
	meters, err := metrics.New(logging.ServiceName, version)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}
	defer func() {
		summaryCtx, cancel := context.WithTimeout(context.Background(), sinkCloseTimeout)
		defer cancel()
		if summary, sumErr := meters.Summary(summaryCtx); sumErr == nil {
			log.Info("relay event summary", summary.LogAttrs()...)
		}
		if shutdownErr := meters.Shutdown(summaryCtx); shutdownErr != nil {
			log.Error("error shutting down metrics", "error", shutdownErr)
		}
	}()

	recorders := observe.Multi{
		observe.NewLogRecorder(log.With("component", "relay").Logger),
		meters,
	}

	// Sinks checked by the status API's health endpoint.
	checks := map[string]api.HealthChecker{}

	var journalRepo journal.Repository
	if cfg.Journal.Enabled {
		db, err := database.Open(ctx, database.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening journal database: %w", err)
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()

		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			return fmt.Errorf("running journal migrations: %w", err)
		}
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("journal database: %w", err)
		}
		checks["journal"] = db
		log.Info("journal database ready", "path", cfg.Journal.Path, "migrations_applied", applied)

		journalRepo = journal.NewSQLiteRepository(db.DB)
		writer := journal.NewWriter(journalRepo, journal.WriterOptions{}, log.With("component", "journal"))
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), sinkCloseTimeout)
			defer cancel()
			if closeErr := writer.Close(closeCtx); closeErr != nil {
				log.Error("error flushing journal", "error", closeErr)
			}
			if dropped := writer.Dropped(); dropped > 0 {
				log.Warn("journal events lost", "count", dropped)
			}
		}()
		recorders = append(recorders, writer)
	} else {
		log.Info("event journal disabled")
	}

	if cfg.InfluxDB.Enabled {
		// InfluxDB is optional at runtime: the relay keeps running without it.
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB unavailable, continuing without event points", "error", err)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			recorders = append(recorders, observe.NewPointRecorder(influxClient))
			checks["influxdb"] = influxClient
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// The live event stream only has consumers when the status API runs.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(log)
		recorders = append(recorders, hub)
	}

	r, err := relay.New(relay.Config{
		Routes:         table,
		Translator:     translator,
		Queues:         queues,
		Dial:           relay.MQTTDialer(cfg.MQTT, log.With("component", "mqtt")),
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		Sender:         sender,
		Recorder:       recorders,
		ConnectMessage: cfg.Telegram.ConnectMessage,
		Reconnect: backoff.New(
			cfg.Reconnect.InitialDelay,
			cfg.Reconnect.MaxDelay,
			cfg.Reconnect.Multiplier,
			cfg.Reconnect.Jitter,
		),
		StableAfter: cfg.Reconnect.StableAfter,
		Grace:       cfg.Shutdown.GracePeriod,
		Logger:      log.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Relay:   r,
			Metrics: meters,
			Journal: journalRepo,
			Hub:     hub,
			Checks:  checks,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating status API: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting status API: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing status API", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, relaying until shutdown signal",
		"broker", cfg.BrokerAddress(),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Run blocks until ctx is cancelled and the queues are drained.
	if err := r.Run(ctx); err != nil {
		if !errors.Is(err, supervisor.ErrShutdownTimeout) {
			return fmt.Errorf("running relay: %w", err)
		}
		log.Error("shutdown incomplete", "error", err)
	}

	// Deferred Close() calls run in reverse order: status API and event
	// stream, InfluxDB, journal writer, journal database, metrics.
	log.Info("Gray Logic Relay stopped")
	return nil
}

// loadConfig resolves the configuration path and loads it.
// RELAY_CONFIG must name an existing file; the default path may be absent.
//
// Returns:
//   - *config.Config: Loaded and validated configuration
//   - string: The file used, or "" for environment-only configuration
//   - error: If loading or validation fails
func loadConfig() (*config.Config, string, error) {
	path := os.Getenv("RELAY_CONFIG")
	if path == "" {
		path = defaultConfigPath
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// topicRoutes converts configured routes to the route table's input.
func topicRoutes(routes []config.RouteConfig) []domain.TopicRoute {
	out := make([]domain.TopicRoute, 0, len(routes))
	for _, r := range routes {
		out = append(out, domain.TopicRoute{
			Pattern:  r.Topic,
			ChatID:   r.ChatID,
			Template: r.Template,
		})
	}
	return out
}
