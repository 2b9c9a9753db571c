package logger

import (
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	*slog.Logger
}

func New(logLevel string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(logLevel),
		AddSource: logLevel == "debug",
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)

	return &Logger{
		Logger: slog.New(handler),
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

func (l *Logger) WithFields(fields ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
	}
}

// RouteDropped logs a datagram dropped by dispatch or forwarding.
func (l *Logger) RouteDropped(reason string, destNetwork, destNode int) {
	l.Debug("datagram dropped",
		slog.String("reason", reason),
		slog.Int("destination_network", destNetwork),
		slog.Int("destination_node", destNode))
}

// TupleConsidered logs the outcome of offering an RTMP tuple to the routing table.
func (l *Logger) TupleConsidered(networkMin, networkMax uint16, distance int, accepted bool) {
	l.Debug("routing tuple considered",
		slog.Int("network_min", int(networkMin)),
		slog.Int("network_max", int(networkMax)),
		slog.Int("distance", distance),
		slog.Bool("accepted", accepted))
}

// ZoneLearned logs a zone association newly added to the zone information table.
func (l *Logger) ZoneLearned(zone string, networkMin, networkMax uint16) {
	l.Info("zone learned",
		slog.String("zone", zone),
		slog.Int("network_min", int(networkMin)),
		slog.Int("network_max", int(networkMax)))
}

// PortStateChanged logs a Port acquiring or losing its network/node identity.
func (l *Logger) PortStateChanged(port string, network, node int) {
	l.Info("port state changed",
		slog.String("port", port),
		slog.Int("network", network),
		slog.Int("node", node))
}

func (l *Logger) ServiceStart(name string) {
	l.Info("service starting", slog.String("service", name))
}

func (l *Logger) ServiceStop(name string) {
	l.Info("service stopping", slog.String("service", name))
}

func (l *Logger) Performance(operation string, metrics map[string]interface{}) {
	args := []interface{}{
		"operation", operation,
	}

	for k, v := range metrics {
		args = append(args, k, v)
	}

	l.Debug("performance metrics", args...)
}
