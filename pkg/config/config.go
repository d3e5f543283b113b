// Package config loads the service configuration from a sectioned
// key/value file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/ini.v1"
)

var (
	ErrCycleTime  = errors.New("cycle time must be at least 100 us")
	ErrBufferSize = errors.New("buffer size must be a power of two")
	ErrMaxClients = errors.New("max clients must be at least one")
)

type NetworkConfig struct {
	Interface   string
	Driver      string
	Channel     string
	CycleTimeUs uint32
	TimeoutMs   uint32
}

type PerformanceConfig struct {
	RtPriority  int
	CpuAffinity []int
	BufferSize  uint32
}

type LoggingConfig struct {
	Level string
	File  string
}

type SecurityConfig struct {
	BindAddress string
	Port        uint16
	MaxClients  uint32
}

type TelemetryConfig struct {
	Enabled bool
	Listen  string
}

type Config struct {
	Network     NetworkConfig
	Performance PerformanceConfig
	Logging     LoggingConfig
	Security    SecurityConfig
	Telemetry   TelemetryConfig
}

// Default returns the built-in configuration used when no file or key
// is present
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			Interface:   "eth0",
			Driver:      "stub",
			CycleTimeUs: 1000,
			TimeoutMs:   1000,
		},
		Performance: PerformanceConfig{
			RtPriority:  50,
			CpuAffinity: []int{1},
			BufferSize:  8192,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Security: SecurityConfig{
			BindAddress: "127.0.0.1",
			Port:        2346,
			MaxClients:  16,
		},
		Telemetry: TelemetryConfig{
			Listen: "127.0.0.1:9109",
		},
	}
}

// Load reads the configuration file at path on top of the defaults.
// A missing file is not an error, the defaults apply.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Default()

	if _, err := os.Stat(path); err != nil {
		logger.Warn("config file not found, using defaults", "path", path)
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse %v : %w", path, err)
	}

	network := file.Section("network")
	cfg.Network.Interface = network.Key("interface").MustString(cfg.Network.Interface)
	cfg.Network.Driver = network.Key("driver").MustString(cfg.Network.Driver)
	cfg.Network.Channel = network.Key("channel").MustString(cfg.Network.Channel)
	cfg.Network.CycleTimeUs = uint32(network.Key("cycle_time_us").MustUint(uint(cfg.Network.CycleTimeUs)))
	cfg.Network.TimeoutMs = uint32(network.Key("timeout_ms").MustUint(uint(cfg.Network.TimeoutMs)))

	performance := file.Section("performance")
	cfg.Performance.RtPriority = performance.Key("rt_priority").MustInt(cfg.Performance.RtPriority)
	if performance.HasKey("cpu_affinity") {
		cfg.Performance.CpuAffinity = performance.Key("cpu_affinity").Ints(",")
	}
	cfg.Performance.BufferSize = uint32(performance.Key("buffer_size").MustUint(uint(cfg.Performance.BufferSize)))

	logging := file.Section("logging")
	cfg.Logging.Level = logging.Key("level").MustString(cfg.Logging.Level)
	cfg.Logging.File = logging.Key("file").MustString(cfg.Logging.File)

	security := file.Section("security")
	cfg.Security.BindAddress = security.Key("bind_address").MustString(cfg.Security.BindAddress)
	cfg.Security.Port = uint16(security.Key("port").MustUint(uint(cfg.Security.Port)))
	cfg.Security.MaxClients = uint32(security.Key("max_clients").MustUint(uint(cfg.Security.MaxClients)))

	telemetry := file.Section("telemetry")
	cfg.Telemetry.Enabled = telemetry.Key("enabled").MustBool(cfg.Telemetry.Enabled)
	cfg.Telemetry.Listen = telemetry.Key("listen").MustString(cfg.Telemetry.Listen)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.Network.CycleTimeUs < 100 {
		return ErrCycleTime
	}
	size := cfg.Performance.BufferSize
	if size == 0 || size&(size-1) != 0 {
		return ErrBufferSize
	}
	if cfg.Security.MaxClients == 0 {
		return ErrMaxClients
	}
	return nil
}
