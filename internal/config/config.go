package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"glucose-alerts/internal/logging"
	"glucose-alerts/internal/model"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Dexcom    DexcomConfig    `mapstructure:"dexcom"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory reading store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// AdvisoryLockKey guards each poll cycle with pg_try_advisory_lock so two
	// instances sharing a database never double-fire alerts. Zero disables it.
	AdvisoryLockKey int64 `mapstructure:"advisory_lock_key"`
}

// MonitorConfig governs the polling cadence.
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	Unit         string        `mapstructure:"unit"`
}

// GlucoseUnit returns the configured unit as a model type.
func (m MonitorConfig) GlucoseUnit() model.Unit {
	if strings.EqualFold(m.Unit, string(model.UnitMGDL)) {
		return model.UnitMGDL
	}
	return model.UnitMMOL
}

// AlertsConfig defines thresholds and alert pacing.
type AlertsConfig struct {
	LowThreshold  float64       `mapstructure:"low_threshold"`
	HighThreshold float64       `mapstructure:"high_threshold"`
	UrgentLow     float64       `mapstructure:"urgent_low"`
	AlertInterval time.Duration `mapstructure:"alert_interval"`
	LowPersist    time.Duration `mapstructure:"low_persist"`
	HighPersist   time.Duration `mapstructure:"high_persist"`

	Schedules []ScheduleConfig `mapstructure:"schedules"`
}

// DexcomConfig covers Dexcom Share access.
type DexcomConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Region   string `mapstructure:"region"`
	BaseURL  string `mapstructure:"base_url"`
}

// Configured reports whether Share credentials are present.
func (d DexcomConfig) Configured() bool {
	return d.Username != "" && d.Password != ""
}

// AudioConfig selects the audible sink behaviour. Empty sound paths fall back
// to the built-in synthesised tones.
type AudioConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	LowSound  string `mapstructure:"low_sound"`
	HighSound string `mapstructure:"high_sound"`
}

// MessagingConfig 描述告警联系人推送参数（Telegram）。
type MessagingConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	BotToken string          `mapstructure:"bot_token"`
	APIBase  string          `mapstructure:"api_base"`
	Contacts []ContactConfig `mapstructure:"contacts"`
}

// ContactConfig is one person to notify when an alert fires.
type ContactConfig struct {
	Name           string        `mapstructure:"name"`
	ChatID         string        `mapstructure:"chat_id"`
	OnLow          bool          `mapstructure:"on_low"`
	OnHigh         bool          `mapstructure:"on_high"`
	ResendInterval time.Duration `mapstructure:"resend_interval"`
	LowText        string        `mapstructure:"low_text"`
	HighText       string        `mapstructure:"high_text"`
}

// ServerConfig exposes the local HTTP API (status, history, snooze, metrics).
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GLUCOWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "glucowatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("monitor.poll_interval", "5m")
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.fetch_timeout", "10s")
	v.SetDefault("monitor.unit", "mmol")

	v.SetDefault("alerts.low_threshold", 3.9)
	v.SetDefault("alerts.high_threshold", 10.0)
	v.SetDefault("alerts.urgent_low", 2.8)
	v.SetDefault("alerts.alert_interval", "5m")
	v.SetDefault("alerts.low_persist", "0s")
	v.SetDefault("alerts.high_persist", "0s")

	// Empty defaults register the credential keys with viper so they can be
	// supplied via environment variables alone.
	v.SetDefault("dexcom.username", "")
	v.SetDefault("dexcom.password", "")
	v.SetDefault("dexcom.region", "us")

	v.SetDefault("audio.enabled", true)

	v.SetDefault("messaging.enabled", false)
	v.SetDefault("messaging.bot_token", "")
	v.SetDefault("messaging.api_base", "https://api.telegram.org")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", "127.0.0.1:8712")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", 0)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs the startup sanity checks. A failure here must keep the
// monitor from ever starting a poll cycle.
func (c *Config) Validate() error {
	if c.Monitor.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be greater than zero")
	}
	if c.Monitor.FetchTimeout <= 0 {
		return fmt.Errorf("monitor.fetch_timeout must be greater than zero")
	}
	if c.Monitor.StartupDelay < 0 {
		return fmt.Errorf("monitor.startup_delay cannot be negative")
	}
	switch strings.ToLower(c.Monitor.Unit) {
	case "mmol", "mgdl":
	default:
		return fmt.Errorf("monitor.unit must be %q or %q", "mmol", "mgdl")
	}

	if c.Alerts.LowThreshold <= 0 {
		return fmt.Errorf("alerts.low_threshold must be greater than zero")
	}
	if c.Alerts.HighThreshold <= c.Alerts.LowThreshold {
		return fmt.Errorf("alerts.high_threshold must be greater than alerts.low_threshold")
	}
	if c.Alerts.UrgentLow <= 0 || c.Alerts.UrgentLow > c.Alerts.LowThreshold {
		return fmt.Errorf("alerts.urgent_low must be in (0, low_threshold]")
	}
	if c.Alerts.AlertInterval <= 0 {
		return fmt.Errorf("alerts.alert_interval must be greater than zero")
	}
	if c.Alerts.LowPersist < 0 || c.Alerts.HighPersist < 0 {
		return fmt.Errorf("alerts persistence durations cannot be negative")
	}

	if err := c.Alerts.validateSchedules(); err != nil {
		return err
	}

	switch strings.ToLower(c.Dexcom.Region) {
	case "us", "ous", "jp":
	default:
		return fmt.Errorf("dexcom.region must be one of us, ous, jp")
	}

	if c.Messaging.Enabled {
		if c.Messaging.BotToken == "" {
			return fmt.Errorf("messaging.bot_token 必须配置")
		}
		if len(c.Messaging.Contacts) == 0 {
			return fmt.Errorf("messaging.contacts 不能为空")
		}
		for i, contact := range c.Messaging.Contacts {
			if contact.ChatID == "" {
				return fmt.Errorf("messaging.contacts[%d].chat_id is required", i)
			}
		}
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when server.enabled")
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
