package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"glucose-alerts/internal/model"
)

// Alert 封装一次告警发射的上下文。
type Alert struct {
	At        time.Time
	Kind      model.AlertKind
	Condition model.Condition
	Value     decimal.Decimal
	Unit      model.Unit
	Trend     model.Trend
}

// Messenger 定义紧急联系人消息输送接口。
type Messenger interface {
	Send(ctx context.Context, alert Alert) error
}

// Contact is one recipient with its own routing and pacing rules. A contact
// is messaged at most once per condition within its resend interval.
type Contact struct {
	Name           string
	ChatID         string
	OnLow          bool
	OnHigh         bool
	ResendInterval time.Duration
	LowText        string
	HighText       string
}

func (c Contact) wants(condition model.Condition) bool {
	switch condition {
	case model.ConditionLow:
		return c.OnLow
	case model.ConditionHigh:
		return c.OnHigh
	default:
		return false
	}
}

// TelegramMessenger 通过 Telegram Bot API 推送消息给紧急联系人。
type TelegramMessenger struct {
	botToken string
	baseURL  string
	contacts []Contact
	client   *http.Client
	logger   zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewTelegramMessenger 构造 Telegram 消息器。
func NewTelegramMessenger(botToken, baseURL string, contacts []Contact, timeout time.Duration, logger zerolog.Logger) *TelegramMessenger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	for i := range contacts {
		if contacts[i].ResendInterval <= 0 {
			contacts[i].ResendInterval = 30 * time.Minute
		}
	}

	return &TelegramMessenger{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		contacts: contacts,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
		lastSent: make(map[string]time.Time),
	}
}

// Send 将告警分发给所有符合条件的联系人。
func (m *TelegramMessenger) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, contact := range m.contacts {
		if !contact.wants(alert.Condition) {
			continue
		}
		if !m.due(contact, alert) {
			continue
		}
		if err := m.sendOne(ctx, contact, alert); err != nil {
			errs = append(errs, fmt.Errorf("contact %s: %w", contact.Name, err))
			continue
		}
		m.markSent(contact, alert)
	}
	return errors.Join(errs...)
}

func (m *TelegramMessenger) due(contact Contact, alert Alert) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastSent[sendKey(contact, alert.Condition)]
	if !ok {
		return true
	}
	return alert.At.Sub(last) >= contact.ResendInterval
}

func (m *TelegramMessenger) markSent(contact Contact, alert Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSent[sendKey(contact, alert.Condition)] = alert.At
}

func sendKey(contact Contact, condition model.Condition) string {
	return contact.ChatID + "|" + string(condition)
}

func (m *TelegramMessenger) sendOne(ctx context.Context, contact Contact, alert Alert) error {
	payload := map[string]string{
		"chat_id": contact.ChatID,
		"text":    renderMessage(contact, alert),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", m.baseURL, m.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	m.logger.Info().
		Str("contact", contact.Name).
		Str("condition", string(alert.Condition)).
		Str("kind", string(alert.Kind)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(contact Contact, alert Alert) string {
	if alert.Condition == model.ConditionLow && contact.LowText != "" {
		return contact.LowText
	}
	if alert.Condition == model.ConditionHigh && contact.HighText != "" {
		return contact.HighText
	}

	builder := strings.Builder{}
	builder.WriteString("[Glucose Alert]\n")
	builder.WriteString(fmt.Sprintf("Condition: %s\n", strings.ToUpper(string(alert.Condition))))
	builder.WriteString(fmt.Sprintf("Value: %s %s %s\n", alert.Value.StringFixed(1), alert.Unit.Label(), alert.Trend.Arrow()))
	builder.WriteString(fmt.Sprintf("Time: %s\n", alert.At.Format(time.RFC3339)))
	return builder.String()
}

var _ Messenger = (*TelegramMessenger)(nil)
