package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"glucose-alerts/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置加载失败: %v", err)
	}

	if cfg.Monitor.PollInterval != 5*time.Minute {
		t.Fatalf("默认轮询间隔应为 5m, 实际 %s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.FetchTimeout != 10*time.Second {
		t.Fatalf("默认拉取超时应为 10s, 实际 %s", cfg.Monitor.FetchTimeout)
	}
	if cfg.Monitor.GlucoseUnit() != model.UnitMMOL {
		t.Fatalf("默认单位应为 mmol, 实际 %s", cfg.Monitor.Unit)
	}
	if cfg.Alerts.LowThreshold != 3.9 || cfg.Alerts.HighThreshold != 10.0 {
		t.Fatalf("默认阈值不正确: %.1f / %.1f", cfg.Alerts.LowThreshold, cfg.Alerts.HighThreshold)
	}
	if cfg.Alerts.AlertInterval != 5*time.Minute {
		t.Fatalf("默认告警间隔应为 5m, 实际 %s", cfg.Alerts.AlertInterval)
	}
	if cfg.Dexcom.Region != "us" {
		t.Fatalf("默认区域应为 us, 实际 %s", cfg.Dexcom.Region)
	}
	if !cfg.Audio.Enabled {
		t.Fatal("音频默认应启用")
	}
	if cfg.Messaging.Enabled {
		t.Fatal("消息推送默认应关闭")
	}
	if !cfg.Server.Enabled || cfg.Server.Addr != "127.0.0.1:8712" {
		t.Fatalf("默认服务地址不正确: %v %s", cfg.Server.Enabled, cfg.Server.Addr)
	}
	if cfg.Database.AdvisoryLockKey != 0 {
		t.Fatalf("advisory lock 默认应关闭, 实际 %d", cfg.Database.AdvisoryLockKey)
	}
	if cfg.Export.MaxDataPoints != 100000 {
		t.Fatalf("默认导出上限不正确: %d", cfg.Export.MaxDataPoints)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
monitor:
  poll_interval: 1m
  unit: mgdl
alerts:
  low_threshold: 70
  high_threshold: 180
  urgent_low: 55
  schedules:
    - name: night
      start: "22:00"
      end: "07:00"
      high_threshold: 200
dexcom:
  username: alice
  password: secret
  region: ous
messaging:
  enabled: true
  bot_token: tok
  contacts:
    - name: partner
      chat_id: "42"
      on_low: true
      resend_interval: 45m
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("配置加载失败: %v", err)
	}

	if cfg.Monitor.PollInterval != time.Minute {
		t.Fatalf("poll_interval 应解析为 1m, 实际 %s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.GlucoseUnit() != model.UnitMGDL {
		t.Fatalf("单位应为 mgdl, 实际 %s", cfg.Monitor.Unit)
	}
	if cfg.Alerts.LowThreshold != 70 || cfg.Alerts.HighThreshold != 180 {
		t.Fatalf("阈值不正确: %.0f / %.0f", cfg.Alerts.LowThreshold, cfg.Alerts.HighThreshold)
	}
	if len(cfg.Alerts.Schedules) != 1 {
		t.Fatalf("应解析出 1 条时段规则, 实际 %d", len(cfg.Alerts.Schedules))
	}
	s := cfg.Alerts.Schedules[0]
	if s.Name != "night" || s.HighThreshold == nil || *s.HighThreshold != 200 {
		t.Fatalf("时段规则解析不正确: %+v", s)
	}
	if s.LowThreshold != nil {
		t.Fatal("未设置的时段阈值应保持为 nil")
	}
	if !cfg.Dexcom.Configured() || cfg.Dexcom.Region != "ous" {
		t.Fatalf("Dexcom 配置不正确: %+v", cfg.Dexcom)
	}
	if len(cfg.Messaging.Contacts) != 1 {
		t.Fatalf("应解析出 1 个联系人, 实际 %d", len(cfg.Messaging.Contacts))
	}
	if c := cfg.Messaging.Contacts[0]; c.ChatID != "42" || !c.OnLow || c.ResendInterval != 45*time.Minute {
		t.Fatalf("联系人解析不正确: %+v", c)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GLUCOWATCHER_DEXCOM_USERNAME", "bob")
	t.Setenv("GLUCOWATCHER_DEXCOM_PASSWORD", "hunter2")
	t.Setenv("GLUCOWATCHER_MONITOR_POLL_INTERVAL", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("配置加载失败: %v", err)
	}

	if cfg.Dexcom.Username != "bob" || cfg.Dexcom.Password != "hunter2" {
		t.Fatalf("环境变量未生效: %+v", cfg.Dexcom)
	}
	if cfg.Monitor.PollInterval != 90*time.Second {
		t.Fatalf("poll_interval 环境变量未生效: %s", cfg.Monitor.PollInterval)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("monitor: ["), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("非法 YAML 应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{
			PollInterval: 5 * time.Minute,
			FetchTimeout: 10 * time.Second,
			Unit:         "mmol",
		},
		Alerts: AlertsConfig{
			LowThreshold:  3.9,
			HighThreshold: 10.0,
			UrgentLow:     2.8,
			AlertInterval: 5 * time.Minute,
		},
		Dexcom: DexcomConfig{Region: "us"},
		Server: ServerConfig{Enabled: true, Addr: "127.0.0.1:8712"},
		Export: ExportConfig{MaxDataPoints: 1000},
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero poll interval", func(c *Config) { c.Monitor.PollInterval = 0 }},
		{"zero fetch timeout", func(c *Config) { c.Monitor.FetchTimeout = 0 }},
		{"negative startup delay", func(c *Config) { c.Monitor.StartupDelay = -time.Second }},
		{"unknown unit", func(c *Config) { c.Monitor.Unit = "oz" }},
		{"low threshold zero", func(c *Config) { c.Alerts.LowThreshold = 0 }},
		{"high below low", func(c *Config) { c.Alerts.HighThreshold = 3.0 }},
		{"urgent low above low", func(c *Config) { c.Alerts.UrgentLow = 4.5 }},
		{"zero alert interval", func(c *Config) { c.Alerts.AlertInterval = 0 }},
		{"negative persistence", func(c *Config) { c.Alerts.LowPersist = -time.Minute }},
		{"unknown region", func(c *Config) { c.Dexcom.Region = "eu" }},
		{"messaging without token", func(c *Config) {
			c.Messaging.Enabled = true
			c.Messaging.Contacts = []ContactConfig{{ChatID: "1"}}
		}},
		{"messaging without contacts", func(c *Config) {
			c.Messaging.Enabled = true
			c.Messaging.BotToken = "tok"
		}},
		{"contact without chat id", func(c *Config) {
			c.Messaging.Enabled = true
			c.Messaging.BotToken = "tok"
			c.Messaging.Contacts = []ContactConfig{{Name: "x"}}
		}},
		{"server without addr", func(c *Config) { c.Server.Addr = "" }},
		{"zero export cap", func(c *Config) { c.Export.MaxDataPoints = 0 }},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: 应校验失败", tc.name)
		}
	}

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("基准配置应通过校验: %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := validConfig()
	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Fatalf("无覆盖时应取配置值, 实际 %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("覆盖值应生效, 实际 %d", got)
	}
}
