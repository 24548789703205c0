package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"flightworks/gcs/internal/audit"
	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/clocks"
	"flightworks/gcs/internal/commands"
	"flightworks/gcs/internal/connections"
	"flightworks/gcs/internal/devtree"
	"flightworks/gcs/internal/handlers"
	"flightworks/gcs/internal/hub"
	"flightworks/gcs/internal/metrics"
	"flightworks/gcs/internal/object"
	"flightworks/gcs/internal/registry"
	"flightworks/gcs/internal/transport/ws"
	"flightworks/gcs/internal/uav"
	"flightworks/gcs/pkg/config"
	"flightworks/gcs/pkg/logging"
	"flightworks/gcs/pkg/monitoring"
	"flightworks/gcs/pkg/server"
	"flightworks/gcs/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("towerman")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Towerman (UAV Ground Control Core)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("towerman", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("towerman", version.Version, version.GitCommit)
	serviceMetrics := metrics.New(metricsCollector)

	// Registries
	typeRegistry := channels.NewTypeRegistry()
	clientRegistry := channels.NewClientRegistry(typeRegistry)
	objectRegistry := object.NewRegistry(config.GetEnvInt("OBJECT_REGISTRY_LIMIT", 0))
	connectionRegistry := connections.NewRegistry()
	driverRegistry := uav.NewDriverRegistry()
	clockRegistry := clocks.NewRegistry()
	tree := devtree.NewTree()

	// Command manager
	commandTimeout := config.GetEnvDuration("COMMAND_TIMEOUT", 30*time.Second)
	manager := commands.NewManager(logger, commandTimeout)

	// Message hub
	messageHub := hub.New(logger, clientRegistry, typeRegistry)
	messageHub.SetStats(serviceMetrics)

	// UAV command dispatch
	dispatcher := uav.NewDispatcher(logger, driverRegistry, manager)

	// Audit sink (optional)
	var brokers []string
	if raw := config.GetEnv("KAFKA_BROKERS", ""); raw != "" {
		brokers = strings.Split(raw, ",")
	}
	sink, err := audit.NewSink(brokers, config.GetEnv("KAFKA_AUDIT_TOPIC", "fleet_events"), "towerman", logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize audit sink")
	}
	defer sink.Close()

	// Rate limiters
	limiterDelay := config.GetEnvDuration("LIMITER_DELAY", hub.DefaultLimiterDelay)
	limiters := hub.NewLimiterRegistry(logger)
	mustRegister := func(tag string, limiter hub.RateLimiter) {
		if err := limiters.Register(tag, limiter); err != nil {
			logger.WithError(err).Fatal("Failed to register rate limiter")
		}
	}
	mustRegister(handlers.TagUAVInf, handlers.NewUAVInfLimiter(limiterDelay, objectRegistry))
	mustRegister(handlers.TagSysMsg, handlers.NewSysMsgLimiter(limiterDelay))
	mustRegister(handlers.TagConnInf, handlers.NewConnInfLimiter(connectionRegistry))

	// HTTP port map reported by SYS-PORTS
	httpPort := config.GetEnv("PORT", "18070")
	ports := map[string]int{}
	if p, err := strconv.Atoi(httpPort); err == nil {
		ports["http"] = p
		ports["ws"] = p
	}

	// Builtin handlers + signal glue
	handlerServer := handlers.NewServer(handlers.Config{
		Logger:      logger,
		Hub:         messageHub,
		Clients:     clientRegistry,
		Objects:     objectRegistry,
		Tree:        tree,
		Manager:     manager,
		Connections: connectionRegistry,
		Clocks:      clockRegistry,
		Dispatcher:  dispatcher,
		Limiters:    limiters,
		Sink:        sink,
		ServiceName: "towerman",
		Ports:       ports,
	})
	handlerServer.Register()

	// WebSocket transport
	var jwtSecret []byte
	if secret := config.GetEnv("JWT_SECRET", ""); secret != "" {
		jwtSecret = []byte(secret)
	}
	transport := ws.NewTransport(logger, messageHub, clientRegistry, jwtSecret)
	if err := typeRegistry.Add(transport.Descriptor()); err != nil {
		logger.WithError(err).Fatal("Failed to register websocket channel type")
	}

	// Health checks
	healthChecker.AddCheck("resources", monitoring.ResourcesHealthCheck(90, 90))
	if client := sink.Client(); client != nil {
		healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(client))
	}

	// Root context cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Every registered connection entry gets a supervision loop that
	// keeps the link open until shutdown.
	supervisor := connections.NewSupervisor(logger, connections.DefaultSupervisionPolicy())
	connectionRegistry.OnAdded(func(entry registry.Entry[*connections.Entry]) {
		g.Go(func() error {
			err := supervisor.Supervise(ctx, entry.Value)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	})

	g.Go(func() error { return messageHub.Run(ctx) })
	g.Go(func() error { return manager.Run(ctx, config.GetEnvDuration("RECEIPT_SWEEP_PERIOD", 10*time.Second)) })
	g.Go(func() error { return limiters.Run(ctx, messageHub) })

	// Periodic gauge refresh
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				serviceMetrics.SetConnectedClients(ws.ChannelTypeID, len(clientRegistry.ClientIDsForChannelType(ws.ChannelTypeID)))
				serviceMetrics.SetTrackedObjects("uav", len(objectRegistry.IDsByType("uav")))
				serviceMetrics.SetActiveReceipts(manager.Len())
			}
		}
	})

	// HTTP server
	router := server.SetupServiceRouter(logger, "towerman", healthChecker, metricsCollector)
	router.GET("/ws", transport.Handler())
	g.Go(func() error {
		return server.Run(ctx, server.DefaultConfig("towerman", httpPort), router, logger)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.WithError(err).Fatal("Server terminated")
	}
	logger.Info("Towerman stopped")
}
