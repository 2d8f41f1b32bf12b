package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"powchain/core"
	"powchain/logger"

	"github.com/spf13/viper"
)

// Config holds all configuration for the node.
// Tags are used by viper to map ENV variables and config file keys.
type Config struct {
	// Node configuration
	DataDir   string `mapstructure:"datadir"`
	RPCAddr   string `mapstructure:"rpcaddr"`
	RPCPort   int    `mapstructure:"rpcport"`
	EnableRPC bool   `mapstructure:"enable_rpc"`

	// Chain configuration
	Difficulty uint `mapstructure:"difficulty"` // jumlah bit nol di depan, 0-256

	// Mining configuration
	Mining         bool          `mapstructure:"mining"`          // jalankan loop auto-mining bersama node
	MiningInterval time.Duration `mapstructure:"mining_interval"` // jeda antar block hasil auto-mining
	Workers        int           `mapstructure:"workers"`
	CheckInterval  uint64        `mapstructure:"check_interval"` // percobaan di antara cek pembatalan
	NonceLimit     uint64        `mapstructure:"nonce_limit"`    // 0 = seluruh ruang uint64
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`

	// Database configuration
	Cache     int           `mapstructure:"cache"`   // Cache size for LevelDB (MB)
	Handles   int           `mapstructure:"handles"` // Number of open file handles for LevelDB
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`

	// Logging configuration
	LogLevel  string `mapstructure:"log_level"` // e.g., "debug", "info", "warn", "error"
	Verbosity int    `mapstructure:"verbosity"` // Alternative to LogLevel, 0-5
	LogJSON   bool   `mapstructure:"log_json"`

	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// defaultConfig menyimpan nilai konfigurasi default yang tidak diekspor.
var defaultConfig = Config{
	DataDir:        "./data",
	RPCAddr:        "127.0.0.1",
	RPCPort:        8545,
	EnableRPC:      true,
	Difficulty:     16,
	Mining:         false,
	MiningInterval: time.Second,
	Workers:        runtime.NumCPU(),
	CheckInterval:  1024,
	NonceLimit:     0,
	StopTimeout:    2 * time.Second,
	Cache:          64,
	Handles:        256,
	CacheSize:      1024,
	CacheTTL:       5 * time.Minute,
	LogLevel:       "info",
	Verbosity:      3,
	LogJSON:        false,
	EnableMetrics:  true,
}

// DefaultConfig adalah versi ekspor dari defaultConfig, digunakan untuk
// default flag.
var DefaultConfig = defaultConfig

// LoadConfig loads configuration from the global viper instance, which
// holds the config file, environment variables and bound flags.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(viper.GetViper())
}

// LoadConfigFrom loads configuration from v on top of the defaults.
func LoadConfigFrom(v *viper.Viper) (*Config, error) {
	currentConfig := DefaultConfig

	if err := v.Unmarshal(&currentConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from Viper: %w", err)
	}

	logger.Debugf("Effective config: DataDir='%s', RPC=%s:%d (enabled=%t), Difficulty=%d, Workers=%d, Mining=%t, LogLevel='%s'",
		currentConfig.DataDir, currentConfig.RPCAddr, currentConfig.RPCPort, currentConfig.EnableRPC,
		currentConfig.Difficulty, currentConfig.Workers, currentConfig.Mining, currentConfig.LogLevel)

	if err := validateAndCreateDirs(&currentConfig); err != nil {
		return nil, fmt.Errorf("config validation and directory creation failed: %w", err)
	}

	return &currentConfig, nil
}

func validateAndCreateDirs(config *Config) error {
	config.DataDir = strings.TrimSpace(config.DataDir)
	if config.DataDir == "" {
		return fmt.Errorf("datadir cannot be empty")
	}
	if err := os.MkdirAll(config.GetDataSubDir("chaindata"), 0755); err != nil {
		return fmt.Errorf("failed to create data directory '%s': %w", config.DataDir, err)
	}

	if config.Difficulty > core.MaxDifficulty {
		return fmt.Errorf("%w: %d exceeds %d", core.ErrInvalidDifficulty, config.Difficulty, core.MaxDifficulty)
	}
	if config.EnableRPC && (config.RPCPort <= 0 || config.RPCPort > 65535) {
		return fmt.Errorf("invalid RPC port: %d. Must be between 1 and 65535", config.RPCPort)
	}

	if config.Workers <= 0 {
		logger.Warningf("Worker count is invalid (%d), using default: %d", config.Workers, DefaultConfig.Workers)
		config.Workers = DefaultConfig.Workers
	}
	if config.CheckInterval == 0 {
		logger.Warningf("Check interval is 0, using default: %d", DefaultConfig.CheckInterval)
		config.CheckInterval = DefaultConfig.CheckInterval
	}
	if config.StopTimeout <= 0 {
		logger.Warningf("Stop timeout is invalid (%s), using default: %s", config.StopTimeout, DefaultConfig.StopTimeout)
		config.StopTimeout = DefaultConfig.StopTimeout
	}
	if config.MiningInterval < 0 {
		logger.Warningf("Mining interval is negative (%s), using default: %s", config.MiningInterval, DefaultConfig.MiningInterval)
		config.MiningInterval = DefaultConfig.MiningInterval
	}
	if config.Cache <= 0 {
		logger.Warningf("LevelDB Cache size is invalid (%d MB), using default: %d MB", config.Cache, DefaultConfig.Cache)
		config.Cache = DefaultConfig.Cache
	}
	if config.Handles <= 0 {
		logger.Warningf("LevelDB Handles count is invalid (%d), using default: %d", config.Handles, DefaultConfig.Handles)
		config.Handles = DefaultConfig.Handles
	}
	if config.CacheSize <= 0 {
		logger.Warningf("Block CacheSize is invalid (%d items), using default: %d items", config.CacheSize, DefaultConfig.CacheSize)
		config.CacheSize = DefaultConfig.CacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultConfig.CacheTTL
	}

	return nil
}

func (c *Config) GetLogLevel() logger.LogLevel {
	if level, ok := logger.ParseLevel(c.LogLevel); ok {
		return level
	}
	logger.Warningf("Unknown log_level '%s', falling back to verbosity %d", c.LogLevel, c.Verbosity)
	switch c.Verbosity {
	case 0, 1:
		return logger.ERROR
	case 2:
		return logger.WARNING
	case 3:
		return logger.INFO
	case 4, 5:
		return logger.DEBUG
	default:
		logger.Warningf("Unknown verbosity level %d, defaulting to INFO", c.Verbosity)
		return logger.INFO
	}
}

func (c *Config) GetDataSubDir(subdir string) string {
	return filepath.Join(c.DataDir, subdir)
}

// ListenAddr is the host:port of the HTTP API.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.RPCAddr, c.RPCPort)
}
