// Package handlers implements the builtin message handlers of the
// server and the signal glue connecting registries, the command
// manager, the device tree and the rate limiters to the message hub.
package handlers

import (
	"time"

	"flightworks/gcs/internal/audit"
	"flightworks/gcs/internal/channels"
	"flightworks/gcs/internal/clocks"
	"flightworks/gcs/internal/commands"
	"flightworks/gcs/internal/connections"
	"flightworks/gcs/internal/devtree"
	"flightworks/gcs/internal/hub"
	"flightworks/gcs/internal/object"
	"flightworks/gcs/internal/uav"
	"flightworks/gcs/pkg/logging"
	"flightworks/gcs/pkg/version"
)

// Rate limiter tags.
const (
	TagUAVInf  = "UAV-INF"
	TagConnInf = "CONN-INF"
	TagSysMsg  = "SYS-MSG"
)

// Server bundles the subsystems the builtin handlers operate on.
type Server struct {
	logger logging.Logger

	hub         *hub.Hub
	clients     *channels.ClientRegistry
	objects     *object.Registry
	tree        *devtree.Tree
	manager     *commands.Manager
	connections *connections.Registry
	clocks      *clocks.Registry
	dispatcher  *uav.Dispatcher
	limiters    *hub.LimiterRegistry
	sink        *audit.Sink

	serviceName string
	startedAt   time.Time
	ports       map[string]int
}

// Config carries the dependencies of the builtin handlers.
type Config struct {
	Logger      logging.Logger
	Hub         *hub.Hub
	Clients     *channels.ClientRegistry
	Objects     *object.Registry
	Tree        *devtree.Tree
	Manager     *commands.Manager
	Connections *connections.Registry
	Clocks      *clocks.Registry
	Dispatcher  *uav.Dispatcher
	Limiters    *hub.LimiterRegistry
	Sink        *audit.Sink
	ServiceName string
	Ports       map[string]int
}

// NewServer creates the handler set.
func NewServer(cfg Config) *Server {
	return &Server{
		logger:      cfg.Logger,
		hub:         cfg.Hub,
		clients:     cfg.Clients,
		objects:     cfg.Objects,
		tree:        cfg.Tree,
		manager:     cfg.Manager,
		connections: cfg.Connections,
		clocks:      cfg.Clocks,
		dispatcher:  cfg.Dispatcher,
		limiters:    cfg.Limiters,
		sink:        cfg.Sink,
		serviceName: cfg.ServiceName,
		startedAt:   time.Now(),
		ports:       cfg.Ports,
	}
}

// Register installs every builtin message handler on the hub and wires
// the cross-subsystem signals.
func (s *Server) Register() {
	s.registerSystemHandlers()
	s.registerObjectHandlers()
	s.registerUAVHandlers()
	s.registerDeviceTreeHandlers()
	s.registerConnectionHandlers()
	s.registerAsyncHandlers()
	s.registerClockHandlers()
	s.wireSignals()
}

// NotifyUAVUpdated feeds updated UAV ids into the UAV-INF rate limiter.
// Drivers call this after every status mutation.
func (s *Server) NotifyUAVUpdated(ids ...string) {
	s.limiters.AddRequest(TagUAVInf, ids)
}

// NotifyLogMessage feeds one server log entry into the SYS-MSG rate
// limiter.
func (s *Server) NotifyLogMessage(entry string) {
	s.limiters.AddRequest(TagSysMsg, entry)
}

func versionString() string {
	return version.Version
}

func versionRevision() string {
	return version.GitCommit
}
