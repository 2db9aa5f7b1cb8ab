package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"glucose-alerts/internal/model"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// newShareServer stands up the three Share endpoints with a pluggable
// glucose-values handler and counts authenticate/login calls.
func newShareServer(t *testing.T, latest http.HandlerFunc) (*httptest.Server, *atomic.Int64, *atomic.Int64) {
	t.Helper()

	var auths, logins atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc(authPath, func(w http.ResponseWriter, r *http.Request) {
		auths.Add(1)
		var req authRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ApplicationID != shareApplicationID {
			t.Errorf("authenticate 请求缺少 applicationId: %+v", req)
		}
		_ = json.NewEncoder(w).Encode("account-1")
	})
	mux.HandleFunc(loginPath, func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID != "account-1" {
			t.Errorf("login 请求应携带 accountId: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(fmt.Sprintf("session-%d", logins.Load()))
	})
	mux.HandleFunc(latestPath, latest)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &auths, &logins
}

func shareErrorJSON(w http.ResponseWriter, code string) {
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"Code": code, "Message": code})
}

func TestDexcomFetchMissingCredentials(t *testing.T) {
	d := NewDexcom(DexcomOptions{}, noopLogger())
	if _, err := d.FetchLatest(context.Background()); err == nil {
		t.Fatal("缺少凭据时应返回错误")
	}
}

func TestDexcomFetchSuccess(t *testing.T) {
	srv, auths, logins := newShareServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sessionId") == "" {
			t.Error("latest 请求缺少 sessionId")
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"WT":    "Date(1693997520000)",
			"Value": 99,
			"Trend": "Flat",
		}})
	})

	d := NewDexcom(DexcomOptions{
		Username: "user",
		Password: "pass",
		BaseURL:  srv.URL,
		Unit:     model.UnitMMOL,
		Timeout:  time.Second,
	}, noopLogger())

	reading, err := d.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if reading.Value.Cmp(decimal.NewFromFloat(5.5)) != 0 {
		t.Fatalf("期望 99 mg/dL 换算为 5.5 mmol/L, 实际 %s", reading.Value.String())
	}
	if want := time.UnixMilli(1693997520000).UTC(); !reading.Timestamp.Equal(want) {
		t.Fatalf("期望时间戳 %s, 实际 %s", want, reading.Timestamp)
	}
	if reading.Trend != model.TrendSteady {
		t.Fatalf("Flat 应映射为 steady, 实际 %s", reading.Trend)
	}
	if auths.Load() != 1 || logins.Load() != 1 {
		t.Fatalf("期望一次 authenticate 和一次 login, 实际 %d/%d", auths.Load(), logins.Load())
	}
}

func TestDexcomSessionReuse(t *testing.T) {
	srv, _, logins := newShareServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"WT": "Date(1693997520000)", "Value": 120, "Trend": "Flat",
		}})
	})

	d := NewDexcom(DexcomOptions{Username: "u", Password: "p", BaseURL: srv.URL, Unit: model.UnitMGDL}, noopLogger())

	for i := 0; i < 3; i++ {
		if _, err := d.FetchLatest(context.Background()); err != nil {
			t.Fatalf("第 %d 次拉取失败: %v", i+1, err)
		}
	}
	if logins.Load() != 1 {
		t.Fatalf("session 应被复用, 实际 login %d 次", logins.Load())
	}
}

func TestDexcomSessionRenewal(t *testing.T) {
	srv, auths, logins := newShareServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sessionId") == "session-1" {
			shareErrorJSON(w, "SessionIdNotFound")
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"WT": "Date(1693997520000)", "Value": 120, "Trend": "SingleUp",
		}})
	})

	d := NewDexcom(DexcomOptions{Username: "u", Password: "p", BaseURL: srv.URL, Unit: model.UnitMGDL}, noopLogger())

	reading, err := d.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("session 续期后拉取应成功: %v", err)
	}
	if reading.Value.Cmp(decimal.NewFromInt(120)) != 0 {
		t.Fatalf("期望 120 mg/dL, 实际 %s", reading.Value.String())
	}
	if reading.Trend != model.TrendRising {
		t.Fatalf("SingleUp 应映射为 rising, 实际 %s", reading.Trend)
	}
	if logins.Load() != 2 {
		t.Fatalf("续期应触发第二次 login, 实际 %d 次", logins.Load())
	}
	if auths.Load() != 1 {
		t.Fatalf("account id 应被缓存, 实际 authenticate %d 次", auths.Load())
	}
}

func TestDexcomNoReadings(t *testing.T) {
	srv, _, _ := newShareServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})

	d := NewDexcom(DexcomOptions{Username: "u", Password: "p", BaseURL: srv.URL}, noopLogger())

	if _, err := d.FetchLatest(context.Background()); !errors.Is(err, ErrNoReadings) {
		t.Fatalf("空结果应返回 ErrNoReadings, 实际 %v", err)
	}
}

func TestDexcomAuthRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(authPath, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(zeroUUID)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDexcom(DexcomOptions{Username: "u", Password: "bad", BaseURL: srv.URL}, noopLogger())

	if _, err := d.FetchLatest(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("零 UUID 应返回 ErrAuthFailed, 实际 %v", err)
	}
}

func TestDexcomPasswordInvalid(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(authPath, func(w http.ResponseWriter, r *http.Request) {
		shareErrorJSON(w, "AccountPasswordInvalid")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := NewDexcom(DexcomOptions{Username: "u", Password: "bad", BaseURL: srv.URL}, noopLogger())

	if _, err := d.FetchLatest(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("密码错误应返回 ErrAuthFailed, 实际 %v", err)
	}
}

func TestDexcomRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	srv, _, logins := newShareServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			shareErrorJSON(w, "ServerError")
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{
			"WT": "Date(1693997520000)", "Value": 120, "Trend": "Flat",
		}})
	})

	d := NewDexcom(DexcomOptions{Username: "u", Password: "p", BaseURL: srv.URL, Unit: model.UnitMGDL}, noopLogger())
	d.backoff = []time.Duration{0, 0}

	reading, err := d.FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("瞬时错误重试后应成功: %v", err)
	}
	if reading.Value.Cmp(decimal.NewFromInt(120)) != 0 {
		t.Fatalf("期望 120 mg/dL, 实际 %s", reading.Value.String())
	}
	if calls.Load() != 3 {
		t.Fatalf("期望 3 次请求, 实际 %d", calls.Load())
	}
	if logins.Load() != 1 {
		t.Fatalf("瞬时错误不应触发重新登录, 实际 login %d 次", logins.Load())
	}
}

func TestDexcomFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	srv, _, _ := newShareServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		shareErrorJSON(w, "ServerError")
	})

	d := NewDexcom(DexcomOptions{Username: "u", Password: "p", BaseURL: srv.URL}, noopLogger())
	d.backoff = []time.Duration{0, 0}

	if _, err := d.FetchLatest(context.Background()); err == nil {
		t.Fatal("重试耗尽后应返回错误")
	}
	if calls.Load() != 3 {
		t.Fatalf("应尝试 3 次, 实际 %d", calls.Load())
	}
}

func TestGlucoseValueToReading(t *testing.T) {
	g := glucoseValue{WT: "Date(1693997520000)", Value: 180, Trend: "DoubleDown"}

	reading, err := g.toReading(model.UnitMGDL)
	if err != nil {
		t.Fatalf("转换失败: %v", err)
	}
	if reading.Value.Cmp(decimal.NewFromInt(180)) != 0 {
		t.Fatalf("mg/dL 不应换算, 实际 %s", reading.Value.String())
	}
	if reading.Trend != model.TrendFalling {
		t.Fatalf("DoubleDown 应映射为 falling, 实际 %s", reading.Trend)
	}

	if _, err := (glucoseValue{WT: "Date()", Value: 100}).toReading(model.UnitMGDL); err == nil {
		t.Fatal("无法解析的时间戳应报错")
	}
}
