package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"glucose-alerts/internal/model"
)

const (
	// Application id of the official Dexcom Share mobile app. The Share API
	// rejects requests that do not carry a known id.
	shareApplicationID = "d89443d2-327c-4a6f-89e5-496bbb0317db"

	authPath   = "/General/AuthenticatePublisherAccount"
	loginPath  = "/General/LoginPublisherAccountById"
	latestPath = "/Publisher/ReadPublisherLatestGlucoseValues"

	// Share signals a failed login by returning the zero UUID instead of an
	// HTTP error.
	zeroUUID = "00000000-0000-0000-0000-000000000000"
)

var regionBaseURLs = map[string]string{
	"us":  "https://share2.dexcom.com/ShareWebServices/Services",
	"ous": "https://shareous1.dexcom.com/ShareWebServices/Services",
	"jp":  "https://share.dexcom.jp/ShareWebServices/Services",
}

// errSessionExpired marks a stale session id. The fetch path logs in again
// and retries without burning a backoff wait.
var errSessionExpired = errors.New("dexcom session expired")

// DexcomOptions parameterise the Share fetcher.
type DexcomOptions struct {
	Username  string
	Password  string
	Region    string
	BaseURL   string
	Unit      model.Unit
	Timeout   time.Duration
	UserAgent string
}

// Dexcom fetches glucose readings from the Dexcom Share API.
type Dexcom struct {
	opts    DexcomOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	// Waits between transient-failure attempts; len(backoff)+1 is the total
	// attempt budget per FetchLatest call.
	backoff []time.Duration

	mu        sync.Mutex
	accountID string
	sessionID string
}

// NewDexcom constructs a Share fetcher.
func NewDexcom(opts DexcomOptions, logger zerolog.Logger) *Dexcom {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = regionBaseURLs[strings.ToLower(opts.Region)]
	}
	if baseURL == "" {
		baseURL = regionBaseURLs["us"]
	}

	return &Dexcom{
		opts:    opts,
		logger:  logger.With().Str("component", "dexcom_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		backoff: []time.Duration{time.Second, 2 * time.Second},
	}
}

// FetchLatest returns the newest glucose value Share has for the account.
// Transient failures retry within the call; auth failures and empty results
// return immediately — retrying a bad password only feeds Dexcom's lockout
// counter.
func (d *Dexcom) FetchLatest(ctx context.Context) (model.Reading, error) {
	if d.opts.Username == "" || d.opts.Password == "" {
		return model.Reading{}, errors.New("dexcom username and password required")
	}

	for attempt := 0; ; attempt++ {
		reading, err := d.fetchOnce(ctx)
		if err == nil || errors.Is(err, ErrNoReadings) || errors.Is(err, ErrAuthFailed) {
			return reading, err
		}
		if attempt >= len(d.backoff) {
			return model.Reading{}, fmt.Errorf("share fetch failed after %d attempts: %w", attempt+1, err)
		}
		d.logger.Warn().Err(err).Dur("backoff", d.backoff[attempt]).Msg("share 拉取失败，稍后重试")
		if err := sleepCtx(ctx, d.backoff[attempt]); err != nil {
			return model.Reading{}, err
		}
	}
}

func (d *Dexcom) fetchOnce(ctx context.Context) (model.Reading, error) {
	sessionID, err := d.session(ctx)
	if err != nil {
		return model.Reading{}, err
	}

	reading, err := d.latestValue(ctx, sessionID)
	if errors.Is(err, errSessionExpired) {
		// Share sessions expire after roughly 24 hours; renew and retry the
		// request with the fresh id.
		sessionID, err = d.renewSession(ctx, sessionID)
		if err != nil {
			return model.Reading{}, err
		}
		reading, err = d.latestValue(ctx, sessionID)
	}
	return reading, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// session returns the cached session id, logging in first if there is none.
func (d *Dexcom) session(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessionID != "" {
		return d.sessionID, nil
	}
	return d.loginLocked(ctx)
}

// renewSession drops a stale session id and logs in again. A concurrent
// caller may already have renewed; its fresh id is reused as is.
func (d *Dexcom) renewSession(ctx context.Context, stale string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessionID != "" && d.sessionID != stale {
		return d.sessionID, nil
	}
	d.sessionID = ""
	d.logger.Warn().Msg("session 已过期，重新登录 Dexcom Share")
	return d.loginLocked(ctx)
}

// loginLocked performs the two-step Share login. Callers hold d.mu.
func (d *Dexcom) loginLocked(ctx context.Context) (string, error) {
	if d.accountID == "" {
		accountID, err := d.postForID(ctx, authPath, authRequest{
			AccountName:   d.opts.Username,
			Password:      d.opts.Password,
			ApplicationID: shareApplicationID,
		})
		if err != nil {
			return "", fmt.Errorf("authenticate account: %w", err)
		}
		if accountID == zeroUUID {
			return "", fmt.Errorf("%w: account not found", ErrAuthFailed)
		}
		d.accountID = accountID
	}

	sessionID, err := d.postForID(ctx, loginPath, loginRequest{
		AccountID:     d.accountID,
		Password:      d.opts.Password,
		ApplicationID: shareApplicationID,
	})
	if err != nil {
		return "", fmt.Errorf("login account: %w", err)
	}
	if sessionID == zeroUUID {
		return "", fmt.Errorf("%w: login rejected", ErrAuthFailed)
	}

	d.sessionID = sessionID
	d.logger.Debug().Msg("dexcom share session established")
	return sessionID, nil
}

// latestValue queries the newest reading for the session. Share keeps the
// last ten minutes queryable, so a sensor gap surfaces as an empty array.
func (d *Dexcom) latestValue(ctx context.Context, sessionID string) (model.Reading, error) {
	query := url.Values{}
	query.Set("sessionId", sessionID)
	query.Set("minutes", "10")
	query.Set("maxCount", "1")

	raw, err := d.post(ctx, latestPath+"?"+query.Encode(), nil)
	if err != nil {
		return model.Reading{}, err
	}

	var values []glucoseValue
	if err := json.Unmarshal(raw, &values); err != nil {
		return model.Reading{}, fmt.Errorf("decode glucose values: %w", err)
	}
	if len(values) == 0 {
		return model.Reading{}, ErrNoReadings
	}

	return values[0].toReading(d.opts.Unit)
}

// postForID posts payload and decodes the quoted UUID Share responds with.
func (d *Dexcom) postForID(ctx context.Context, path string, payload any) (string, error) {
	raw, err := d.post(ctx, path, payload)
	if err != nil {
		return "", err
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("decode share id: %w", err)
	}
	return id, nil
}

func (d *Dexcom) post(ctx context.Context, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "glucowatcher/1.0")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseShareError(resp.StatusCode, payloadBytes)
	}
	return payloadBytes, nil
}

type authRequest struct {
	AccountName   string `json:"accountName"`
	Password      string `json:"password"`
	ApplicationID string `json:"applicationId"`
}

type loginRequest struct {
	AccountID     string `json:"accountId"`
	Password      string `json:"password"`
	ApplicationID string `json:"applicationId"`
}

// glucoseValue is one entry of the ReadPublisherLatestGlucoseValues response.
type glucoseValue struct {
	WT    string `json:"WT"`
	Value int64  `json:"Value"`
	Trend string `json:"Trend"`
}

// Share timestamps arrive as the legacy .NET form "Date(1693997520000)".
var shareTimePattern = regexp.MustCompile(`\d+`)

func (g glucoseValue) toReading(unit model.Unit) (model.Reading, error) {
	millisDigits := shareTimePattern.FindString(g.WT)
	if millisDigits == "" {
		return model.Reading{}, fmt.Errorf("unparseable share timestamp %q", g.WT)
	}
	millis, err := strconv.ParseInt(millisDigits, 10, 64)
	if err != nil {
		return model.Reading{}, fmt.Errorf("parse share timestamp: %w", err)
	}

	return model.Reading{
		Value:     unit.FromMGDL(g.Value),
		Timestamp: time.UnixMilli(millis).UTC(),
		Trend:     model.TrendFromDexcom(g.Trend),
	}, nil
}

type shareError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

func parseShareError(status int, payload []byte) error {
	var apiErr shareError
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Code != "" {
		switch apiErr.Code {
		case "SessionIdNotFound", "SessionNotValid":
			return errSessionExpired
		// SSO_AuthenticateMaxAttemptsExceeed is the code as Dexcom spells it.
		case "AccountPasswordInvalid", "SSO_AuthenticateAccountNotFound",
			"SSO_AuthenticatePasswordInvalid", "SSO_AuthenticateMaxAttemptsExceeed",
			"AccountMaxAttemptsViolated":
			return fmt.Errorf("%w: %s", ErrAuthFailed, apiErr.Code)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("share api error (%d): %s: %s", status, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("share api error (%d): %s", status, apiErr.Code)
	}
	if len(payload) > 0 {
		return fmt.Errorf("share api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("share api error (%d)", status)
}

var _ ReadingSource = (*Dexcom)(nil)
