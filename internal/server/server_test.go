package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"glucose-alerts/internal/config"
	"glucose-alerts/internal/model"
	"glucose-alerts/internal/service"
	"glucose-alerts/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()

	cfg := &config.Config{
		Monitor: config.MonitorConfig{PollInterval: 5 * time.Minute, FetchTimeout: time.Second, Unit: "mmol"},
		Alerts:  config.AlertsConfig{LowThreshold: 3.9, HighThreshold: 10.0, AlertInterval: 5 * time.Minute},
		Server:  config.ServerConfig{Enabled: true, Addr: "127.0.0.1:0"},
	}

	store := storage.NewMemoryStore()
	svc := service.New(cfg, nil, nil, store, nil, nil, zerolog.Nop())
	srv := New(cfg.Server, cfg.Alerts, svc, store, zerolog.Nop())

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, store
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("期望 200, 实际 %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]string
	getJSON(t, ts.URL+"/healthz", &body)
	if body["status"] != "ok" {
		t.Fatalf("healthz 应返回 ok: %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var status service.Status
	getJSON(t, ts.URL+"/api/status", &status)
	if status.Condition != model.ConditionNormal {
		t.Fatalf("初始状态应为 normal, 实际 %s", status.Condition)
	}
	if status.Unit != model.UnitMMOL {
		t.Fatalf("单位应为 mmol, 实际 %s", status.Unit)
	}
}

func TestReadingsEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	now := time.Now().UTC()

	seed := []struct {
		age   time.Duration
		value string
	}{
		{48 * time.Hour, "5.0"},
		{2 * time.Hour, "6.1"},
		{10 * time.Minute, "7.2"},
	}
	for _, s := range seed {
		v, _ := decimal.NewFromString(s.value)
		if _, err := store.AppendReading(context.Background(), model.Reading{
			Value: v, Timestamp: now.Add(-s.age), Trend: model.TrendSteady,
		}); err != nil {
			t.Fatalf("写入读数失败: %v", err)
		}
	}

	var body struct {
		Count    int             `json:"count"`
		Readings []model.Reading `json:"readings"`
	}
	getJSON(t, ts.URL+"/api/readings", &body)
	if body.Count != 2 {
		t.Fatalf("默认 24h 窗口应返回 2 条, 实际 %d", body.Count)
	}

	getJSON(t, ts.URL+"/api/readings?hours=72", &body)
	if body.Count != 3 {
		t.Fatalf("72h 窗口应返回 3 条, 实际 %d", body.Count)
	}

	resp, err := http.Get(ts.URL + "/api/readings?hours=abc")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("非法 hours 应返回 400, 实际 %d", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	now := time.Now().UTC()

	values := []string{"3.0", "5.5", "12.0", "6.0"}
	for i, raw := range values {
		v, _ := decimal.NewFromString(raw)
		if _, err := store.AppendReading(context.Background(), model.Reading{
			Value: v, Timestamp: now.Add(-time.Duration(i+1) * time.Hour),
		}); err != nil {
			t.Fatalf("写入读数失败: %v", err)
		}
	}

	var body struct {
		Stats model.Stats `json:"stats"`
	}
	getJSON(t, ts.URL+"/api/stats?hours=24", &body)
	if body.Stats.Count != 4 {
		t.Fatalf("期望统计 4 条读数, 实际 %d", body.Stats.Count)
	}
	// Two of four values sit inside [3.9, 10.0].
	if body.Stats.TimeInRange.Cmp(decimal.NewFromFloat(50.0)) != 0 {
		t.Fatalf("期望 TIR 50%%, 实际 %s", body.Stats.TimeInRange)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		if _, err := store.InsertAlertEvent(context.Background(), model.AlertEvent{
			At:        now.Add(-time.Duration(i) * time.Hour),
			Condition: model.ConditionLow,
			Kind:      model.AlertOnset,
			Value:     decimal.NewFromFloat(3.2),
		}); err != nil {
			t.Fatalf("写入告警事件失败: %v", err)
		}
	}

	var body struct {
		Count  int                `json:"count"`
		Alerts []model.AlertEvent `json:"alerts"`
	}
	getJSON(t, ts.URL+"/api/alerts", &body)
	if body.Count != 2 {
		t.Fatalf("期望 2 条告警, 实际 %d", body.Count)
	}

	resp, err := http.Get(ts.URL + "/api/alerts?limit=-1")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("非法 limit 应返回 400, 实际 %d", resp.StatusCode)
	}
}

func TestSnoozeLifecycle(t *testing.T) {
	ts, store := newTestServer(t)

	payload := bytes.NewBufferString(`{"duration":"30m","reason":"meal"}`)
	resp, err := http.Post(ts.URL+"/api/snooze", "application/json", payload)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snooze 应返回 200, 实际 %d", resp.StatusCode)
	}

	var body struct {
		SnoozedUntil time.Time `json:"snoozed_until"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !body.SnoozedUntil.After(time.Now().UTC().Add(25 * time.Minute)) {
		t.Fatalf("snoozed_until 应约为 30 分钟后: %s", body.SnoozedUntil)
	}

	snoozes, err := store.ListRecentSnoozes(context.Background(), 10)
	if err != nil {
		t.Fatalf("读取 snooze 失败: %v", err)
	}
	if len(snoozes) != 1 {
		t.Fatalf("期望 1 条 snooze 记录, 实际 %d", len(snoozes))
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/snooze", nil)
	if err != nil {
		t.Fatalf("构造请求失败: %v", err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("取消 snooze 应返回 204, 实际 %d", delResp.StatusCode)
	}
}

func TestSnoozeRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []string{
		`{"duration":"-5m"}`,
		`{"duration":"soon"}`,
		`not json`,
	}
	for i, payload := range cases {
		resp, err := http.Post(ts.URL+"/api/snooze", "application/json", strings.NewReader(payload))
		if err != nil {
			t.Fatalf("请求失败: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("用例 %d 应返回 400, 实际 %d", i, resp.StatusCode)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics 应返回 200, 实际 %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("读取响应失败: %v", err)
	}
	if !strings.Contains(string(body), "glucowatch_readings_stored_total") {
		t.Fatalf("metrics 输出应包含 glucowatch 指标: %.200s", body)
	}
}
