package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-iot/migrations"

	"github.com/nerrad567/gray-logic-iot/internal/api"
	"github.com/nerrad567/gray-logic-iot/internal/client"
	"github.com/nerrad567/gray-logic-iot/internal/distributor"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iot/internal/journal"
	"github.com/nerrad567/gray-logic-iot/internal/shadow"
	"github.com/nerrad567/gray-logic-iot/internal/telemetry"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the event distributor, shadow manager, journal and API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

// run is the service logic, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic IoT",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (journal only)
	var db *database.DB
	if cfg.Journal.Enabled {
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if cpErr := db.Checkpoint(context.Background()); cpErr != nil {
				log.Warn("WAL checkpoint failed", "error", cpErr)
			}
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", cfg.Database.Path)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection", "failed_writes", influxClient.FailedWrites())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	dist, err := newDistributor(cfg, log)
	if err != nil {
		return err
	}
	requests := newClient(cfg, mqttClient)

	// Early returns below must stop goroutines already started.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// The distributor must be polling before anything subscribes, so
	// responses to early requests are not stuck in the inbox.
	g.Go(func() error {
		return dist.Run(gctx, mqttClient)
	})

	// Shadow manager (optional)
	var shadowMgr *shadow.Manager
	if cfg.Shadow.Enabled {
		shadowMgr, err = startShadow(gctx, cfg, requests, dist, log)
		if err != nil {
			return err
		}
		defer shadowMgr.Stop()
	}

	// Event journal (optional)
	var eventJournal *journal.Journal
	if db != nil {
		eventJournal = journal.New(db.DB, cfg.Journal.MaxPayload)
		eventJournal.SetLogger(log)
		if err := eventJournal.Start(); err != nil {
			return fmt.Errorf("starting journal: %w", err)
		}
		defer eventJournal.Stop()

		h := dist.NewHandle()
		g.Go(func() error {
			defer h.Close()
			return eventJournal.Run(gctx, h)
		})
		g.Go(func() error {
			return eventJournal.RunPruner(gctx,
				time.Duration(cfg.Journal.Retention)*time.Hour,
				time.Duration(cfg.Journal.PruneInterval)*time.Minute,
			)
		})
		log.Info("event journal started", "max_payload", cfg.Journal.MaxPayload)
	}

	// Telemetry (optional)
	if influxClient != nil {
		reporter := telemetry.New(influxClient, map[string]string{"client_id": mqttClient.ClientID()})
		reporter.SetLogger(log)

		h := dist.NewHandle()
		g.Go(func() error {
			defer h.Close()
			return reporter.Run(gctx, h)
		})
		g.Go(func() error {
			return reporter.RunStats(gctx, dist, time.Duration(cfg.InfluxDB.StatsInterval)*time.Second)
		})
		log.Info("telemetry started")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, err := startAPI(gctx, cfg, log, dist, requests, mqttClient, shadowMgr, eventJournal)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	err = g.Wait()
	if err != nil && !isShutdown(err) {
		log.Error("service stopped with error", "error", err)
		return err
	}

	log.Info("Gray Logic IoT stopped")
	return nil
}

// openDatabase opens the journal database and applies migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// newDistributor builds the fan-out from the distributor section.
func newDistributor(cfg *config.Config, log *logging.Logger) (*distributor.Distributor, error) {
	policy, err := distributor.ParseOverflowPolicy(cfg.Distributor.OverflowPolicy)
	if err != nil {
		return nil, fmt.Errorf("distributor: %w", err)
	}
	return distributor.New(
		distributor.WithBufferSize(cfg.Distributor.BufferSize),
		distributor.WithOverflowPolicy(policy),
		distributor.WithErrorBackoff(cfg.GetErrorBackoff()),
		distributor.WithLogger(log.With("component", "distributor")),
	), nil
}

// newClient builds the request client over the MQTT connection.
func newClient(cfg *config.Config, req transport.Requester) *client.Client {
	return client.New(req,
		client.WithMaxInflight(cfg.MQTT.MaxInflight),
		client.WithMaxPayload(cfg.MQTT.MaxPayload),
		client.WithDefaultQoS(transport.QoS(cfg.MQTT.QoS)),
	)
}

// startShadow creates and starts the shadow manager. Responses are logged;
// callers wanting more register their own handlers.
func startShadow(ctx context.Context, cfg *config.Config, pub shadow.Publisher, src shadow.HandleSource, log *logging.Logger) (*shadow.Manager, error) {
	shadowLog := log.With("component", "shadow", "thing", cfg.Shadow.ThingName)

	logResponse := func(r shadow.Response) {
		shadowLog.Info("shadow response",
			"action", r.Action.String(),
			"outcome", r.Outcome.String(),
			"bytes", len(r.Raw),
		)
	}
	logRejected := func(r shadow.Response) {
		shadowLog.Warn("shadow request rejected",
			"action", r.Action.String(),
			"error", r.Error(),
		)
	}

	mgr, err := shadow.New(shadow.Config{
		ThingName:       cfg.Shadow.ThingName,
		QoS:             transport.QoS(cfg.Shadow.QoS),
		ResponseTimeout: cfg.GetResponseTimeout(),
	}, pub, src, shadow.Handlers{
		GetAccepted:     logResponse,
		GetRejected:     logRejected,
		UpdateAccepted:  logResponse,
		UpdateRejected:  logRejected,
		UpdateDelta:     logResponse,
		UpdateDocuments: logResponse,
		DeleteAccepted:  logResponse,
		DeleteRejected:  logRejected,
		OnTimeout: func(a shadow.Action) {
			shadowLog.Warn("shadow response timed out", "action", a.String())
		},
	}, shadowLog)
	if err != nil {
		return nil, fmt.Errorf("creating shadow manager: %w", err)
	}
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting shadow manager: %w", err)
	}
	return mgr, nil
}

// startAPI wires the optional services into the HTTP server and starts it.
// Nil services are left out so the API reports them as unavailable.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	dist *distributor.Distributor,
	requests *client.Client,
	broker *mqtt.Client,
	shadowMgr *shadow.Manager,
	eventJournal *journal.Journal,
) (*api.Server, error) {
	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.With("component", "api"),
		Events:    dist,
		Publisher: requests,
		Broker:    broker,
		Version:   version,
	}
	if shadowMgr != nil {
		deps.Shadow = shadowMgr
	}
	if eventJournal != nil {
		deps.Journal = eventJournal
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if the journal is disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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
