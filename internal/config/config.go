// Package config loads engine memory settings from the environment.
package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	lerrors "github.com/lumenforge/lumen/internal/errors"
	"github.com/lumenforge/lumen/internal/logging"
	"github.com/lumenforge/lumen/internal/memory"
	"go.uber.org/zap"
)

// Prefix is the environment variable prefix for every setting.
const Prefix = "LUMEN"

// Pool names used in logs and metrics.
const (
	FramePoolName      = "frame"
	PersistentPoolName = "persistent"
)

// Config validation errors
var (
	ErrInvalidFramePoolSize      = errors.New("frame_pool_size must be positive")
	ErrInvalidFramePoolAlignment = errors.New("frame_pool_alignment must be a power of two")
	ErrInvalidChainGrowth        = errors.New("chain_growth must be fixed, additive or multiplicative")
	ErrInvalidChainPolicy        = errors.New("chain pool policy is inconsistent")
	ErrInvalidLogFormat          = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel           = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidMetricsAddr        = errors.New("metrics_addr cannot be empty")
	ErrInvalidLogSampling        = errors.New("log_sample_initial and log_sample_thereafter must not be negative")
)

// Config holds the frame and persistent pool settings.
type Config struct {
	FramePoolSize        uint64 `envconfig:"FRAME_POOL_SIZE" default:"4194304"`
	FramePoolAlignment   uint64 `envconfig:"FRAME_POOL_ALIGNMENT" default:"16"`
	FrameAllowOutOfOrder bool   `envconfig:"FRAME_ALLOW_OUT_OF_ORDER" default:"false"`

	ChainInitialChunk uint64 `envconfig:"CHAIN_INITIAL_CHUNK" default:"65536"`
	ChainMaxChunk     uint64 `envconfig:"CHAIN_MAX_CHUNK" default:"4194304"`
	ChainGrowth       string `envconfig:"CHAIN_GROWTH" default:"multiplicative"`
	ChainGrowthStep   uint64 `envconfig:"CHAIN_GROWTH_STEP" default:"2"`
	ChainAlignment    uint64 `envconfig:"CHAIN_ALIGNMENT" default:"16"`

	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:"0.0.0.0:9090"`

	// Repeated pool log lines are sampled per second; zero for both disables sampling.
	LogSampleInitial    int `envconfig:"LOG_SAMPLE_INITIAL" default:"100"`
	LogSampleThereafter int `envconfig:"LOG_SAMPLE_THEREAFTER" default:"100"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		FramePoolSize:       4 << 20,
		FramePoolAlignment:  16,
		ChainInitialChunk:   64 << 10,
		ChainMaxChunk:       4 << 20,
		ChainGrowth:         "multiplicative",
		ChainGrowthStep:     2,
		ChainAlignment:      16,
		LogFormat:           "json",
		LogLevel:            "info",
		MetricsAddr:         "0.0.0.0:9090",
		LogSampleInitial:    100,
		LogSampleThereafter: 100,
	}
}

// Load reads envFile, if given, into the process environment and then
// populates a Config from LUMEN_* variables. Variables already set in the
// environment win over the file.
func Load(envFile string) (*Config, error) {
	const op = "config.Load"
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, lerrors.WrapConfigurationError(err, op, "cannot read env file").WithContext("file", envFile)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, lerrors.WrapConfigurationError(err, op, "cannot parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid field as a configuration error.
func (c *Config) Validate() error {
	const op = "config.Validate"
	invalid := func(err error, key string, value any) error {
		return lerrors.WrapConfigurationError(err, op, "invalid setting").WithContext(key, value)
	}

	if c.FramePoolSize == 0 {
		return invalid(ErrInvalidFramePoolSize, "frame_pool_size", c.FramePoolSize)
	}
	if !memory.IsPowerOfTwo(uintptr(c.FramePoolAlignment)) {
		return invalid(ErrInvalidFramePoolAlignment, "frame_pool_alignment", c.FramePoolAlignment)
	}
	growth, err := memory.ParseGrowth(c.ChainGrowth)
	if err != nil {
		return invalid(ErrInvalidChainGrowth, "chain_growth", c.ChainGrowth)
	}
	chain := memory.ChainConfig{
		InitialChunkSize: uintptr(c.ChainInitialChunk),
		MaxChunkSize:     uintptr(c.ChainMaxChunk),
		Growth:           growth,
		GrowthStep:       uintptr(c.ChainGrowthStep),
		Alignment:        uintptr(c.ChainAlignment),
	}
	if err := chain.Validate(); err != nil {
		return lerrors.WrapConfigurationError(errors.Join(ErrInvalidChainPolicy, err), op, "invalid setting").
			WithContext("chain", chain)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return invalid(ErrInvalidLogFormat, "log_format", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(ErrInvalidLogLevel, "log_level", c.LogLevel)
	}
	if c.MetricsAddr == "" {
		return invalid(ErrInvalidMetricsAddr, "metrics_addr", c.MetricsAddr)
	}
	if c.LogSampleInitial < 0 || c.LogSampleThereafter < 0 {
		return invalid(ErrInvalidLogSampling, "log_sample", [2]int{c.LogSampleInitial, c.LogSampleThereafter})
	}
	return nil
}

// FramePoolConfig describes the per-frame stack pool.
func (c *Config) FramePoolConfig() memory.PoolConfig {
	return memory.PoolConfig{
		Kind:      memory.KindStack,
		Size:      uintptr(c.FramePoolSize),
		Alignment: uintptr(c.FramePoolAlignment),
	}
}

// ChainPoolConfig describes the persistent chain pool. Validate must have
// accepted c.
func (c *Config) ChainPoolConfig() memory.PoolConfig {
	growth, _ := memory.ParseGrowth(c.ChainGrowth)
	return memory.PoolConfig{
		Kind:             memory.KindChain,
		Alignment:        uintptr(c.ChainAlignment),
		InitialChunkSize: uintptr(c.ChainInitialChunk),
		MaxChunkSize:     uintptr(c.ChainMaxChunk),
		Growth:           growth,
		GrowthStep:       uintptr(c.ChainGrowthStep),
	}
}

// StackOptions returns the options for the frame pool.
func (c *Config) StackOptions(logger *zap.Logger) []memory.Option {
	return []memory.Option{
		memory.WithLogger(logging.ForPool(logger, FramePoolName)),
		memory.WithName(FramePoolName),
		memory.WithAllowOutOfOrderDeallocation(c.FrameAllowOutOfOrder),
	}
}

// ChainOptions returns the options for the persistent pool.
func (c *Config) ChainOptions(logger *zap.Logger) []memory.Option {
	return []memory.Option{
		memory.WithLogger(logging.ForPool(logger, PersistentPoolName)),
		memory.WithName(PersistentPoolName),
	}
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Format = c.LogFormat
	lc.Level = c.LogLevel
	if c.LogSampleInitial > 0 || c.LogSampleThereafter > 0 {
		lc.Sampling = &logging.SamplingConfig{
			Initial:    c.LogSampleInitial,
			Thereafter: c.LogSampleThereafter,
		}
	}
	return lc
}
