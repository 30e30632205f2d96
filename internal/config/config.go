package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "5m" or "1s" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// ID is an internal identifier, also the store's source key.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
	// Color is used for events without their own COLOR property.
	Color string `yaml:"color" json:"color"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SyncConfig controls the ICS to store synchronisation.
type SyncConfig struct {
	// Cron is a standard 5-field cron spec.
	Cron         string `yaml:"cron" json:"cron"`
	BackfillDays int    `yaml:"backfill_days" json:"backfill_days"`
	HorizonDays  int    `yaml:"horizon_days" json:"horizon_days"`
	// RequestsPerSecond throttles subscription downloads. Zero disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// WakeLockConfig selects the wake lock held during each fetch. An empty
// Path disables it.
type WakeLockConfig struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// ColorsConfig holds color tags ("#rrggbb", "#aarrggbb" or decimal).
type ColorsConfig struct {
	Background        string `yaml:"background" json:"background"`
	AmbientBackground string `yaml:"ambient_background" json:"ambient_background"`
	Text              string `yaml:"text" json:"text"`
	AmbientEvent      string `yaml:"ambient_event" json:"ambient_event"`
}

// DisplayConfig describes the panel geometry and layout.
type DisplayConfig struct {
	Width         int  `yaml:"width" json:"width"`
	Height        int  `yaml:"height" json:"height"`
	Round         bool `yaml:"round" json:"round"`
	LowBitAmbient bool `yaml:"low_bit_ambient" json:"low_bit_ambient"`

	XOffset        float64 `yaml:"x_offset" json:"x_offset"`
	XOffsetRound   float64 `yaml:"x_offset_round" json:"x_offset_round"`
	YOffset        float64 `yaml:"y_offset" json:"y_offset"`
	CalWidth       float64 `yaml:"cal_width" json:"cal_width"`
	NowMarkerInset float64 `yaml:"now_marker_inset" json:"now_marker_inset"`

	Colors ColorsConfig `yaml:"colors" json:"colors"`
}

// BatteryConfig enables the battery monitor that puts the display into
// ambient mode when the charge is low.
type BatteryConfig struct {
	Enabled             bool     `yaml:"enabled" json:"enabled"`
	AmbientBelowPercent float64  `yaml:"ambient_below_percent" json:"ambient_below_percent"`
	PollInterval        Duration `yaml:"poll_interval" json:"poll_interval"`
	I2CBus              string   `yaml:"i2c_bus" json:"i2c_bus"`
	I2CAddr             uint16   `yaml:"i2c_addr" json:"i2c_addr"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA display timezone (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	DBPath   string `yaml:"db_path" json:"db_path"`
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	FetchInterval Duration `yaml:"fetch_interval" json:"fetch_interval"`
	TickInterval  Duration `yaml:"tick_interval" json:"tick_interval"`
	// FetchWindow is the half-width of the queried range around now.
	FetchWindow Duration `yaml:"fetch_window" json:"fetch_window"`

	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	WakeLock WakeLockConfig `yaml:"wake_lock" json:"wake_lock"`
	Display  DisplayConfig  `yaml:"display" json:"display"`
	Battery  BatteryConfig  `yaml:"battery" json:"battery"`

	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{ICS: []ICSConfig{}}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = "info"
	}
	if c.DBPath == "" {
		c.DBPath = "./var/calface.db"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.FetchInterval <= 0 {
		c.FetchInterval = Duration(5 * time.Minute)
	}
	if c.TickInterval <= 0 {
		c.TickInterval = Duration(time.Second)
	}
	if c.FetchWindow <= 0 {
		c.FetchWindow = Duration(24 * time.Hour)
	}

	if c.Sync.Cron == "" {
		c.Sync.Cron = "*/15 * * * *"
	}
	if c.Sync.BackfillDays <= 0 {
		c.Sync.BackfillDays = 1
	}
	if c.Sync.HorizonDays <= 0 {
		c.Sync.HorizonDays = 7
	}
	if c.Sync.RequestsPerSecond < 0 {
		c.Sync.RequestsPerSecond = 0
	}

	if c.WakeLock.Name == "" {
		c.WakeLock.Name = "calface"
	}

	d := &c.Display
	if d.Width <= 0 {
		d.Width = 400
	}
	if d.Height <= 0 {
		d.Height = 300
	}
	if d.XOffset == 0 {
		d.XOffset = 16
	}
	if d.XOffsetRound == 0 {
		d.XOffsetRound = 48
	}
	if d.YOffset == 0 {
		d.YOffset = 40
	}
	if d.CalWidth <= 0 {
		d.CalWidth = 48
	}
	if d.NowMarkerInset == 0 {
		d.NowMarkerInset = 8
	}
	if d.Colors.Background == "" {
		d.Colors.Background = "#ffffff"
	}
	if d.Colors.AmbientBackground == "" {
		d.Colors.AmbientBackground = "#000000"
	}
	if d.Colors.Text == "" {
		d.Colors.Text = "#000000"
	}
	if d.Colors.AmbientEvent == "" {
		d.Colors.AmbientEvent = "#808080"
	}

	b := &c.Battery
	if b.AmbientBelowPercent <= 0 {
		b.AmbientBelowPercent = 20
	}
	if b.PollInterval <= 0 {
		b.PollInterval = Duration(time.Minute)
	}
	if b.I2CBus == "" {
		b.I2CBus = "1"
	}
	if b.I2CAddr == 0 {
		b.I2CAddr = 0x75
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
		if c.ICS[i].Color == "" {
			c.ICS[i].Color = "#ff000000"
		}
	}
}

// Load reads the YAML config at path. On first run it writes a default
// config (0600) and returns it.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calface-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
