package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Prometheus metrics for logging operations
var (
	// LogEntriesTotal counts log entries by level and logger name
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_log_entries_total",
			Help: "Total number of log entries by level and logger",
		},
		[]string{"level", "logger"},
	)

	// LogErrorsTotal counts error-level log entries specifically
	LogErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_log_errors_total",
			Help: "Total number of error log entries",
		},
	)

	// LogSampledTotal counts entries dropped by the sampler
	LogSampledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_log_sampled_total",
			Help: "Total number of log entries dropped by sampling, by level",
		},
		[]string{"level"},
	)
)

// SamplingConfig bounds repeated entries with the same level and message,
// such as the out-of-memory line of an exhausted stack pool.
type SamplingConfig struct {
	// Tick is the sampling window (defaults to one second)
	Tick time.Duration
	// Initial entries with the same level and message are logged per tick
	Initial int
	// Thereafter every Nth further entry is logged
	Thereafter int
}

// Config holds logger configuration options
type Config struct {
	// Format specifies the log output format: "json", "console" or "text"
	Format string
	// Level specifies the minimum log level: "debug", "info", "warn", "error"
	Level string
	// Output specifies where logs are written (defaults to os.Stdout)
	Output zapcore.WriteSyncer
	// Name is attached to every entry as the logger name
	Name string
	// Sampling is disabled when nil
	Sampling *SamplingConfig
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	return Config{
		Format: "json",
		Level:  "info",
		Output: os.Stdout,
	}
}

// NewLogger creates a new zap logger based on the provided configuration
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Create encoder config based on format
	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		// JSON unless a console format is asked for
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var core zapcore.Core = &metricsHookCore{Core: zapcore.NewCore(encoder, output, level)}
	if sc := cfg.Sampling; sc != nil {
		tick := sc.Tick
		if tick <= 0 {
			tick = time.Second
		}
		core = zapcore.NewSamplerWithOptions(core, tick, sc.Initial, sc.Thereafter,
			zapcore.SamplerHook(func(entry zapcore.Entry, dec zapcore.SamplingDecision) {
				if dec&zapcore.LogDropped != 0 {
					LogSampledTotal.WithLabelValues(entry.Level.String()).Inc()
				}
			}))
	}

	logger := zap.New(core, zap.AddCaller())
	if cfg.Name != "" {
		logger = logger.Named(cfg.Name)
	}

	return logger, nil
}

// ForPool returns the child logger a pool named name writes through.
func ForPool(base *zap.Logger, name string) *zap.Logger {
	if base == nil {
		return DiscardLogger()
	}
	return base.Named(name)
}

// DiscardLogger returns a logger that discards all output. Pools built
// without a logger use it.
func DiscardLogger() *zap.Logger {
	return zap.NewNop()
}

// parseLevel converts a string level to zapcore.Level
func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "dpanic":
		return zapcore.DPanicLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// metricsHookCore wraps a zapcore.Core to add Prometheus metrics
type metricsHookCore struct {
	zapcore.Core
}

// Check determines whether the entry should be logged
//
//nolint:gocritic // hugeParam: interface requires value receiver
func (c *metricsHookCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// Write logs the entry and increments Prometheus metrics
//
//nolint:gocritic // hugeParam: interface requires value receiver
func (c *metricsHookCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	name := entry.LoggerName
	if name == "" {
		name = "root"
	}
	LogEntriesTotal.WithLabelValues(entry.Level.String(), name).Inc()

	// Special counter for errors
	if entry.Level >= zapcore.ErrorLevel {
		LogErrorsTotal.Inc()
	}

	return c.Core.Write(entry, fields)
}

// With creates a child core with additional fields
func (c *metricsHookCore) With(fields []zapcore.Field) zapcore.Core {
	return &metricsHookCore{Core: c.Core.With(fields)}
}
