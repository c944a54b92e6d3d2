package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL      = "http://127.0.0.1:7433"
	DefaultLogLevel    = "debug"
	DefaultDataDirName = ".fieldsync"
	ConfigFileName     = ".fieldsync.toml"

	DefaultLogMaxSizeMB  = 20
	DefaultLogMaxBackups = 3

	DefaultMaxRetries          = 3
	DefaultItemTimeout         = 30 * time.Second
	DefaultMaxBackoff          = time.Second
	DefaultProcessedRetention  = 24 * time.Hour
	DefaultMaintenanceInterval = time.Hour

	DefaultProbeInterval = 15 * time.Second

	DefaultCacheCapacityBytes  int64 = 512 * 1024 * 1024
	DefaultCacheTTL                  = 7 * 24 * time.Hour
	DefaultQuotaThreshold            = 0.8
	DefaultEvictRatio                = 0.3
	DefaultEmergencyEvictRatio       = 0.5

	configDirEnvKey          = "FIELDSYNC_CONFIG_DIR"
	trustProjectConfigEnvKey = "FIELDSYNC_TRUST_PROJECT_CONFIG"
	apiURLEnvKey             = "FIELDSYNC_API_URL"
	dataDirEnvKey            = "FIELDSYNC_DATA_DIR"
	backendURLEnvKey         = "FIELDSYNC_BACKEND_URL"
)

// SyncConfig controls drain behavior.
type SyncConfig struct {
	MaxRetries          int           `toml:"max_retries"`
	ItemTimeout         time.Duration `toml:"item_timeout"`
	MaxBackoff          time.Duration `toml:"max_backoff"`
	ProcessedRetention  time.Duration `toml:"processed_retention"`
	MaintenanceInterval time.Duration `toml:"maintenance_interval"`
}

// NetworkConfig controls connectivity tracking.
type NetworkConfig struct {
	ProbeInterval time.Duration `toml:"probe_interval"`
	InitialOnline bool          `toml:"initial_online"`
}

// CacheConfig controls the local blob cache.
type CacheConfig struct {
	CapacityBytes       int64         `toml:"capacity_bytes"`
	TTL                 time.Duration `toml:"ttl"`
	QuotaThreshold      float64       `toml:"quota_threshold"`
	EvictRatio          float64       `toml:"evict_ratio"`
	EmergencyEvictRatio float64       `toml:"emergency_evict_ratio"`
}

// Config defines runtime configuration for fieldsync.
type Config struct {
	APIURL                   string        `toml:"api_url"`
	DataDir                  string        `toml:"data_dir"`
	BackendURL               string        `toml:"backend_url"`
	LogLevel                 string        `toml:"log_level"`
	LogFile                  string        `toml:"log_file"`
	LogMaxSizeMB             int           `toml:"log_max_size_mb"`
	LogMaxBackups            int           `toml:"log_max_backups"`
	Sync                     SyncConfig    `toml:"sync"`
	Network                  NetworkConfig `toml:"network"`
	Cache                    CacheConfig   `toml:"cache"`
	TrustedProjectConfigPath string        `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL:        DefaultAPIURL,
		LogLevel:      DefaultLogLevel,
		LogMaxSizeMB:  DefaultLogMaxSizeMB,
		LogMaxBackups: DefaultLogMaxBackups,
		Sync: SyncConfig{
			MaxRetries:          DefaultMaxRetries,
			ItemTimeout:         DefaultItemTimeout,
			MaxBackoff:          DefaultMaxBackoff,
			ProcessedRetention:  DefaultProcessedRetention,
			MaintenanceInterval: DefaultMaintenanceInterval,
		},
		Network: NetworkConfig{
			ProbeInterval: DefaultProbeInterval,
			InitialOnline: true,
		},
		Cache: CacheConfig{
			CapacityBytes:       DefaultCacheCapacityBytes,
			TTL:                 DefaultCacheTTL,
			QuotaThreshold:      DefaultQuotaThreshold,
			EvictRatio:          DefaultEvictRatio,
			EmergencyEvictRatio: DefaultEmergencyEvictRatio,
		},
	}
}

// QueueDBPath is the SQLite queue file inside the data dir.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.DataDir, "queue.db")
}

// CacheIndexDir is the Badger cache index directory inside the data dir.
func (c *Config) CacheIndexDir() string {
	return filepath.Join(c.DataDir, "cache-index")
}

// BlobDir is the content-addressed blob tree inside the data dir.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, ConfigFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"api_url",
	"data_dir",
	"backend_url",
	"log_level",
	"log_file",
	"log_max_size_mb",
	"log_max_backups",
	"sync.max_retries",
	"sync.item_timeout",
	"sync.max_backoff",
	"sync.processed_retention",
	"sync.maintenance_interval",
	"network.probe_interval",
	"network.initial_online",
	"cache.capacity_bytes",
	"cache.ttl",
	"cache.quota_threshold",
	"cache.evict_ratio",
	"cache.emergency_evict_ratio",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "data_dir":
		return c.DataDir, nil
	case "backend_url":
		return c.BackendURL, nil
	case "log_level":
		return c.LogLevel, nil
	case "log_file":
		return c.LogFile, nil
	case "log_max_size_mb":
		return strconv.Itoa(c.LogMaxSizeMB), nil
	case "log_max_backups":
		return strconv.Itoa(c.LogMaxBackups), nil
	case "sync.max_retries":
		return strconv.Itoa(c.Sync.MaxRetries), nil
	case "sync.item_timeout":
		return c.Sync.ItemTimeout.String(), nil
	case "sync.max_backoff":
		return c.Sync.MaxBackoff.String(), nil
	case "sync.processed_retention":
		return c.Sync.ProcessedRetention.String(), nil
	case "sync.maintenance_interval":
		return c.Sync.MaintenanceInterval.String(), nil
	case "network.probe_interval":
		return c.Network.ProbeInterval.String(), nil
	case "network.initial_online":
		return strconv.FormatBool(c.Network.InitialOnline), nil
	case "cache.capacity_bytes":
		return strconv.FormatInt(c.Cache.CapacityBytes, 10), nil
	case "cache.ttl":
		return c.Cache.TTL.String(), nil
	case "cache.quota_threshold":
		return strconv.FormatFloat(c.Cache.QuotaThreshold, 'f', -1, 64), nil
	case "cache.evict_ratio":
		return strconv.FormatFloat(c.Cache.EvictRatio, 'f', -1, 64), nil
	case "cache.emergency_evict_ratio":
		return strconv.FormatFloat(c.Cache.EmergencyEvictRatio, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, ConfigFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, ConfigFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, ConfigFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if apiURL := os.Getenv(apiURLEnvKey); apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dataDir := os.Getenv(dataDirEnvKey); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if backendURL := os.Getenv(backendURLEnvKey); backendURL != "" {
		cfg.BackendURL = backendURL
	}

	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, DefaultDataDirName)
		} else if cwd, err := os.Getwd(); err == nil {
			cfg.DataDir = filepath.Join(cwd, DefaultDataDirName)
		}
	}

	cfg.normalize()

	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "log_max_size_mb", "log_max_backups", "sync.max_retries":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return parsed, nil
	case "cache.capacity_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return parsed, nil
	case "sync.item_timeout", "sync.max_backoff", "sync.processed_retention", "sync.maintenance_interval",
		"network.probe_interval", "cache.ttl":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a duration such as 30s or 24h", key)
		}
		return parsed.String(), nil
	case "cache.quota_threshold", "cache.evict_ratio", "cache.emergency_evict_ratio":
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil || parsed <= 0 || parsed > 1 {
			return nil, fmt.Errorf("%s must be a ratio in (0, 1]", key)
		}
		return parsed, nil
	case "network.initial_online":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

// normalize replaces out-of-range values with defaults.
func (c *Config) normalize() {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.LogMaxBackups < 0 {
		c.LogMaxBackups = DefaultLogMaxBackups
	}
	if c.Sync.MaxRetries < 0 {
		c.Sync.MaxRetries = DefaultMaxRetries
	}
	if c.Sync.ItemTimeout <= 0 {
		c.Sync.ItemTimeout = DefaultItemTimeout
	}
	if c.Sync.MaxBackoff <= 0 {
		c.Sync.MaxBackoff = DefaultMaxBackoff
	}
	if c.Sync.ProcessedRetention < 0 {
		c.Sync.ProcessedRetention = DefaultProcessedRetention
	}
	if c.Sync.MaintenanceInterval <= 0 {
		c.Sync.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if c.Network.ProbeInterval < 0 {
		c.Network.ProbeInterval = DefaultProbeInterval
	}
	if c.Cache.CapacityBytes < 0 {
		c.Cache.CapacityBytes = DefaultCacheCapacityBytes
	}
	if c.Cache.TTL < 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	c.Cache.QuotaThreshold = normalizeRatio(c.Cache.QuotaThreshold, DefaultQuotaThreshold)
	c.Cache.EvictRatio = normalizeRatio(c.Cache.EvictRatio, DefaultEvictRatio)
	c.Cache.EmergencyEvictRatio = normalizeRatio(c.Cache.EmergencyEvictRatio, DefaultEmergencyEvictRatio)
}

func normalizeRatio(value, fallback float64) float64 {
	if value <= 0 || value > 1 {
		return fallback
	}
	return value
}
