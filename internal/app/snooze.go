package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Snooze asks the running monitor instance to pause repeat alerts, or to lift
// an active pause. It talks to the instance's HTTP API, so both processes see
// the same state.
func (a *App) Snooze(ctx context.Context, opts SnoozeOptions) error {
	if !a.Config.Server.Enabled {
		return errors.New("server.enabled 必须开启才能远程控制 snooze")
	}

	base := "http://" + a.Config.Server.Addr
	client := &http.Client{Timeout: 10 * time.Second}

	if opts.Cancel {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, base+"/api/snooze", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("reach monitor at %s: %w", base, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			return apiError(resp)
		}
		fmt.Fprintln(os.Stdout, "snooze cancelled")
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"duration": opts.Duration.String(),
		"reason":   opts.Reason,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/snooze", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reach monitor at %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var body struct {
		SnoozedUntil time.Time `json:"snoozed_until"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "alerts snoozed until %s\n", body.SnoozedUntil.Format(time.RFC3339))
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("monitor api error (%d)", resp.StatusCode)
	}
	return fmt.Errorf("monitor api error (%d): %s", resp.StatusCode, msg)
}
