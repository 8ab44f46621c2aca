package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/codefionn/signalqueue/internal/consts"
)

// Actuator kinds
const (
	ActuatorLog     = "log"
	ActuatorConsole = "console"
	ActuatorNone    = "none"
)

// Environment overrides
const (
	EnvLogLevel = "SIGNALQUEUE_LOG_LEVEL"
	EnvLogPath  = "SIGNALQUEUE_LOG_PATH"
	EnvPort     = "SIGNALQUEUE_PORT"
	EnvPoolSize = "SIGNALQUEUE_POOL_SIZE"
)

// ServerConfig configures the TCP dispatcher
type ServerConfig struct {
	ListenAddress string `json:"listen_address"`
	Port          int    `json:"port"`
	// Backlog is informational; the Go runtime picks the kernel backlog.
	Backlog  int `json:"backlog"`
	PoolSize int `json:"pool_size"`
	// IdleTimeoutSeconds disconnects a writer that stays silent this long. 0 disables it.
	IdleTimeoutSeconds int `json:"idle_timeout_seconds"`
}

// Address returns host:port for net.Listen
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.ListenAddress, strconv.Itoa(s.Port))
}

// IdleTimeout returns the idle timeout as a duration
func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// AdminConfig configures the HTTP admin API
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
	// Pprof exposes /debug/pprof/ on the admin address
	Pprof bool `json:"pprof"`
}

// Config represents application configuration
type Config struct {
	Server   ServerConfig `json:"server"`
	Admin    AdminConfig  `json:"admin"`
	Actuator string       `json:"actuator"` // log, console, none
	LogLevel string       `json:"log_level"` // debug, info, warn, error, none
	LogPath  string       `json:"log_path"`  // file path, or "-" for stderr
	PidPath  string       `json:"pid_path"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "signalqueue")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "signalqueue")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "signalqueue")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "signalqueue")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "signalqueue")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "signalqueue")
	default:
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "signalqueue")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "signalqueue")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		Server: ServerConfig{
			ListenAddress: consts.DefaultListenAddress,
			Port:          consts.DefaultPort,
			Backlog:       consts.DefaultBacklog,
			PoolSize:      consts.DefaultPoolSize,
		},
		Admin: AdminConfig{
			Enabled: false,
			Address: consts.DefaultAdminAddress,
		},
		Actuator: ActuatorLog,
		LogLevel: "info",
		LogPath:  "-",
		PidPath:  filepath.Join(stateDir, "signalqueue.pid"),
	}
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "signalqueue.json")
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into default config (overrides only provided fields)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Actuator == "" {
		config.Actuator = ActuatorLog
	}
	if config.Admin.Address == "" {
		config.Admin.Address = consts.DefaultAdminAddress
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from environment variables looked up with getenv
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(getenv(EnvLogPath)); v != "" {
		c.LogPath = v
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = port
	}
	if v := strings.TrimSpace(getenv(EnvPoolSize)); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPoolSize, err)
		}
		c.Server.PoolSize = size
	}
	return c.Validate()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if c.Server.PoolSize < 0 || c.Server.PoolSize > consts.MaxPoolSize {
		return fmt.Errorf("server.pool_size must be between 0 and %d", consts.MaxPoolSize)
	}
	if c.Server.Backlog < 1 {
		return fmt.Errorf("server.backlog must be at least 1")
	}
	if c.Server.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("server.idle_timeout_seconds must not be negative")
	}

	switch c.Actuator {
	case ActuatorLog, ActuatorConsole, ActuatorNone:
	default:
		return fmt.Errorf("actuator must be one of %q, %q, %q", ActuatorLog, ActuatorConsole, ActuatorNone)
	}

	if c.Admin.Enabled {
		if _, _, err := net.SplitHostPort(c.Admin.Address); err != nil {
			return fmt.Errorf("admin.address: %w", err)
		}
	}

	return nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
