package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration for either role. Precedence is
// file over environment over defaults.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	Transport *TransportConfig `json:"transport"`
	Inference *InferenceConfig `json:"inference"`
	Health    *HealthConfig    `json:"health"`
	Files     *FilesConfig     `json:"files"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// TransportConfig covers the websocket data channel and UDP discovery.
type TransportConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	BeaconPort        int           `json:"beacon_port"`
	AdvertiseInterval time.Duration `json:"advertise_interval"`
	DiscoveryTimeout  time.Duration `json:"discovery_timeout"`
}

// ListenAddr is the host:port the tutor's listener binds to.
func (t *TransportConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// InferenceConfig points at the local model runtime.
type InferenceConfig struct {
	RuntimeURL string `json:"runtime_url"`
	Model      string `json:"model"`
	StateDir   string `json:"state_dir"`
}

// HealthConfig holds the device safety thresholds consulted before and
// during grading.
type HealthConfig struct {
	MinAvailableRAMBytes uint64  `json:"min_available_ram_bytes"`
	ReducedRAMBytes      uint64  `json:"reduced_ram_bytes"`
	ElevatedTempC        float64 `json:"elevated_temp_c"`
	CriticalTempC        float64 `json:"critical_temp_c"`
}

type FilesConfig struct {
	Root string `json:"root"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./peerclass.db",
			Timeout: 30 * time.Second,
		},
		Transport: &TransportConfig{
			Host:              "0.0.0.0",
			Port:              0, // ephemeral; the beacon carries the bound port
			BeaconPort:        48311,
			AdvertiseInterval: 2 * time.Second,
			DiscoveryTimeout:  30 * time.Second,
		},
		Inference: &InferenceConfig{
			RuntimeURL: "http://127.0.0.1:11434",
			Model:      "gemma3:4b",
			StateDir:   "./peerclass-state",
		},
		Health: &HealthConfig{
			MinAvailableRAMBytes: 1 << 30,
			ReducedRAMBytes:      2 << 30,
			ElevatedTempC:        70,
			CriticalTempC:        85,
		},
		Files: &FilesConfig{
			Root: "./peerclass-files",
		},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.Transport == nil {
		return fmt.Errorf("transport configuration is required")
	}
	if c.Transport.Port < 0 || c.Transport.Port > 65535 {
		return fmt.Errorf("transport port must be between 0 and 65535")
	}
	if c.Transport.BeaconPort <= 0 || c.Transport.BeaconPort > 65535 {
		return fmt.Errorf("beacon port must be between 1 and 65535")
	}
	if c.Transport.AdvertiseInterval <= 0 {
		return fmt.Errorf("advertise interval must be positive")
	}
	if c.Transport.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discovery timeout must be positive")
	}

	if c.Inference == nil {
		return fmt.Errorf("inference configuration is required")
	}
	if c.Inference.RuntimeURL == "" {
		return fmt.Errorf("inference runtime URL cannot be empty")
	}
	if c.Inference.Model == "" {
		return fmt.Errorf("inference model cannot be empty")
	}

	if c.Health == nil {
		return fmt.Errorf("health configuration is required")
	}
	if c.Health.MinAvailableRAMBytes == 0 {
		return fmt.Errorf("minimum available RAM must be positive")
	}
	if c.Health.ReducedRAMBytes < c.Health.MinAvailableRAMBytes {
		return fmt.Errorf("reduced RAM threshold must not be below the minimum")
	}
	if c.Health.CriticalTempC <= c.Health.ElevatedTempC {
		return fmt.Errorf("critical temperature must exceed the elevated threshold")
	}

	if c.Files == nil {
		return fmt.Errorf("files configuration is required")
	}
	if c.Files.Root == "" {
		return fmt.Errorf("file store root cannot be empty")
	}
	return nil
}

// LoadFromEnv builds a config from defaults with environment overrides.
// Malformed values fall back to the default rather than failing startup.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if path := os.Getenv("PEERCLASS_DATABASE_PATH"); path != "" {
		config.Database.Path = path
	}
	if timeout := os.Getenv("PEERCLASS_DATABASE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Database.Timeout = d
		}
	}

	if host := os.Getenv("PEERCLASS_TRANSPORT_HOST"); host != "" {
		config.Transport.Host = host
	}
	if port := os.Getenv("PEERCLASS_TRANSPORT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Transport.Port = p
		}
	}
	if port := os.Getenv("PEERCLASS_BEACON_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Transport.BeaconPort = p
		}
	}
	if interval := os.Getenv("PEERCLASS_ADVERTISE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Transport.AdvertiseInterval = d
		}
	}
	if timeout := os.Getenv("PEERCLASS_DISCOVERY_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Transport.DiscoveryTimeout = d
		}
	}

	if url := os.Getenv("PEERCLASS_INFERENCE_RUNTIME_URL"); url != "" {
		config.Inference.RuntimeURL = url
	}
	if model := os.Getenv("PEERCLASS_INFERENCE_MODEL"); model != "" {
		config.Inference.Model = model
	}
	if dir := os.Getenv("PEERCLASS_STATE_DIR"); dir != "" {
		config.Inference.StateDir = dir
	}

	if root := os.Getenv("PEERCLASS_FILES_ROOT"); root != "" {
		config.Files.Root = root
	}

	return config
}

// ConfigFile mirrors Config for JSON parsing; durations travel as strings.
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	Transport *TransportConfigFile `json:"transport"`
	Inference *InferenceConfig     `json:"inference"`
	Health    *HealthConfig        `json:"health"`
	Files     *FilesConfig         `json:"files"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type TransportConfigFile struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	BeaconPort        int    `json:"beacon_port"`
	AdvertiseInterval string `json:"advertise_interval"`
	DiscoveryTimeout  string `json:"discovery_timeout"`
}

// LoadFromFile reads a JSON config file over defaults and validates the
// result.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Path != "" {
			config.Database.Path = configFile.Database.Path
		}
		if configFile.Database.Timeout != "" {
			if d, err := time.ParseDuration(configFile.Database.Timeout); err == nil {
				config.Database.Timeout = d
			}
		}
	}

	if configFile.Transport != nil {
		if configFile.Transport.Host != "" {
			config.Transport.Host = configFile.Transport.Host
		}
		if configFile.Transport.Port > 0 {
			config.Transport.Port = configFile.Transport.Port
		}
		if configFile.Transport.BeaconPort > 0 {
			config.Transport.BeaconPort = configFile.Transport.BeaconPort
		}
		if configFile.Transport.AdvertiseInterval != "" {
			if d, err := time.ParseDuration(configFile.Transport.AdvertiseInterval); err == nil {
				config.Transport.AdvertiseInterval = d
			}
		}
		if configFile.Transport.DiscoveryTimeout != "" {
			if d, err := time.ParseDuration(configFile.Transport.DiscoveryTimeout); err == nil {
				config.Transport.DiscoveryTimeout = d
			}
		}
	}

	if configFile.Inference != nil {
		if configFile.Inference.RuntimeURL != "" {
			config.Inference.RuntimeURL = configFile.Inference.RuntimeURL
		}
		if configFile.Inference.Model != "" {
			config.Inference.Model = configFile.Inference.Model
		}
		if configFile.Inference.StateDir != "" {
			config.Inference.StateDir = configFile.Inference.StateDir
		}
	}

	if configFile.Health != nil {
		if configFile.Health.MinAvailableRAMBytes > 0 {
			config.Health.MinAvailableRAMBytes = configFile.Health.MinAvailableRAMBytes
		}
		if configFile.Health.ReducedRAMBytes > 0 {
			config.Health.ReducedRAMBytes = configFile.Health.ReducedRAMBytes
		}
		if configFile.Health.ElevatedTempC > 0 {
			config.Health.ElevatedTempC = configFile.Health.ElevatedTempC
		}
		if configFile.Health.CriticalTempC > 0 {
			config.Health.CriticalTempC = configFile.Health.CriticalTempC
		}
	}

	if configFile.Files != nil && configFile.Files.Root != "" {
		config.Files.Root = configFile.Files.Root
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence resolves the effective config: file when given
// and readable, else environment over defaults. A broken file falls back
// silently so a device still starts.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}
	return config
}
