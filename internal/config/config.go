package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const envPrefix = "COURIER_"

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

type NavigationConfig struct {
	Debounce              time.Duration `yaml:"debounce"`
	PendingTTL            time.Duration `yaml:"pending_ttl"`
	TargetScreen          string        `yaml:"target_screen"`
	LandingScreen         string        `yaml:"landing_screen"`
	LandOnUnroutableClick bool          `yaml:"land_on_unroutable_click"`
}

type CredentialsConfig struct {
	Secret string `yaml:"secret"`
}

type PushConfig struct {
	WebsocketURL string        `yaml:"websocket_url"`
	InboxDir     string        `yaml:"inbox_dir"`
	RateLimit    float64       `yaml:"rate_limit"`
	Burst        int           `yaml:"burst"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
}

type DebugConfig struct {
	Addr    string        `yaml:"addr"`
	Secret  string        `yaml:"secret"`
	MaxSkew time.Duration `yaml:"max_skew"`
	DevMode bool          `yaml:"dev_mode"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	API         APIConfig         `yaml:"api"`
	Storage     StorageConfig     `yaml:"storage"`
	Navigation  NavigationConfig  `yaml:"navigation"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Push        PushConfig        `yaml:"push"`
	Debug       DebugConfig       `yaml:"debug"`
	Log         LogConfig         `yaml:"log"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			DSN: "file://" + filepath.Join(defaultDataDir(), "state.json"),
		},
		Navigation: NavigationConfig{
			Debounce:              100 * time.Millisecond,
			PendingTTL:            5 * time.Minute,
			TargetScreen:          "order-details",
			LandingScreen:         "home",
			LandOnUnroutableClick: true,
		},
		Push: PushConfig{
			RateLimit:  5,
			Burst:      10,
			MaxBackoff: 30 * time.Second,
		},
		Debug: DebugConfig{
			Addr:    "127.0.0.1:7070",
			MaxSkew: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "courierlink", "config.yaml")
	}
	return "courierlink.yaml"
}

// Load layers defaults, the YAML file at path and COURIER_* environment
// variables. An empty path reads DefaultPath when it exists.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.DSN) == "" {
		errs = append(errs, errors.New("storage.dsn is required"))
	}
	if c.Navigation.Debounce <= 0 {
		errs = append(errs, errors.New("navigation.debounce must be positive"))
	}
	if c.Navigation.PendingTTL <= 0 {
		errs = append(errs, errors.New("navigation.pending_ttl must be positive"))
	}
	if c.Push.RateLimit < 0 || c.Push.Burst < 0 {
		errs = append(errs, errors.New("push.rate_limit and push.burst must not be negative"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnv() {
	c.API.BaseURL = envOrDefault("API_URL", c.API.BaseURL)
	c.API.Timeout = durationEnv("API_TIMEOUT", c.API.Timeout)
	c.Storage.DSN = envOrDefault("STORAGE_DSN", c.Storage.DSN)
	c.Navigation.Debounce = durationEnv("DEBOUNCE", c.Navigation.Debounce)
	c.Navigation.PendingTTL = durationEnv("PENDING_TTL", c.Navigation.PendingTTL)
	c.Navigation.TargetScreen = envOrDefault("TARGET_SCREEN", c.Navigation.TargetScreen)
	c.Navigation.LandingScreen = envOrDefault("LANDING_SCREEN", c.Navigation.LandingScreen)
	c.Navigation.LandOnUnroutableClick = boolEnv("LAND_ON_UNROUTABLE_CLICK", c.Navigation.LandOnUnroutableClick)
	c.Credentials.Secret = envOrDefault("CREDENTIALS_SECRET", c.Credentials.Secret)
	c.Push.WebsocketURL = envOrDefault("PUSH_WS_URL", c.Push.WebsocketURL)
	c.Push.InboxDir = envOrDefault("PUSH_INBOX", c.Push.InboxDir)
	c.Push.RateLimit = floatEnv("PUSH_RATE", c.Push.RateLimit)
	c.Push.Burst = intEnv("PUSH_BURST", c.Push.Burst)
	c.Push.MaxBackoff = durationEnv("PUSH_MAX_BACKOFF", c.Push.MaxBackoff)
	c.Debug.Addr = envOrDefault("DEBUG_ADDR", c.Debug.Addr)
	c.Debug.Secret = envOrDefault("DEBUG_SECRET", c.Debug.Secret)
	c.Debug.MaxSkew = durationEnv("DEBUG_MAX_SKEW", c.Debug.MaxSkew)
	c.Debug.DevMode = boolEnv("DEV_MODE", c.Debug.DevMode)
	c.Log.Level = envOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("LOG_FORMAT", c.Log.Format)
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "courierlink")
	}
	return filepath.Join(os.TempDir(), "courierlink")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(envPrefix + name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logrus.Warnf("invalid %s%s=%q, using fallback %d", envPrefix, name, raw, fallback)
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logrus.Warnf("invalid %s%s=%q, using fallback %g", envPrefix, name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.Warnf("invalid %s%s=%q, using fallback %t", envPrefix, name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(envPrefix + name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logrus.Warnf("invalid %s%s=%q, using fallback %s", envPrefix, name, raw, fallback.String())
		return fallback
	}
	return value
}
