package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"glucose-alerts/internal/alerting"
	"glucose-alerts/internal/config"
	"glucose-alerts/internal/model"
)

// oto supports a single hardware context per process.
var (
	otoCtx     *oto.Context
	otoCtxErr  error
	otoCtxOnce sync.Once
)

const (
	// How many times one trigger replays its pattern before going quiet.
	// Repeat alerts re-trigger playback, so the reminder interval stays
	// audible instead of turning into a continuous siren.
	patternRepeats = 3
	patternGap     = 400 * time.Millisecond

	deviceReadyTimeout = 5 * time.Second
	pollInterval       = 10 * time.Millisecond
)

// Player renders alert tones on the local sound device.
type Player struct {
	logger zerolog.Logger

	lowBuf  []byte
	highBuf []byte

	mu      sync.Mutex
	current *playback
}

type playback struct {
	stop chan struct{}
}

// NewPlayer prepares the alert sounds. Custom WAV files override the built-in
// tone patterns.
func NewPlayer(cfg config.AudioConfig, logger zerolog.Logger) (*Player, error) {
	p := &Player{
		logger:  logger.With().Str("component", "audio").Logger(),
		lowBuf:  repeatPattern(lowPattern(), patternRepeats, patternGap),
		highBuf: repeatPattern(highPattern(), patternRepeats, patternGap),
	}

	if cfg.LowSound != "" {
		buf, err := loadWAV(cfg.LowSound)
		if err != nil {
			return nil, fmt.Errorf("load low sound: %w", err)
		}
		p.lowBuf = buf
	}
	if cfg.HighSound != "" {
		buf, err := loadWAV(cfg.HighSound)
		if err != nil {
			return nil, fmt.Errorf("load high sound: %w", err)
		}
		p.highBuf = buf
	}
	return p, nil
}

// Play starts the pattern for the condition, cutting off whatever was
// sounding before. Playback runs in the background and goes quiet on its own
// once the pattern finishes.
func (p *Player) Play(_ context.Context, condition model.Condition) error {
	buf := p.lowBuf
	if condition == model.ConditionHigh {
		buf = p.highBuf
	}

	ctx, err := audioContext()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	pb := &playback{stop: make(chan struct{})}
	p.current = pb
	go p.run(ctx, pb, buf)

	p.logger.Debug().Str("condition", string(condition)).Msg("alert tone started")
	return nil
}

// Stop silences any running playback.
func (p *Player) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	if p.current == nil {
		return
	}
	close(p.current.stop)
	p.current = nil
}

func (p *Player) run(ctx *oto.Context, pb *playback, buf []byte) {
	player := ctx.NewPlayer(bytes.NewReader(buf))
	defer player.Close()

	player.Play()
	for player.IsPlaying() {
		select {
		case <-pb.stop:
			player.Pause()
			return
		case <-time.After(pollInterval):
		}
	}

	// Pattern ran to completion; forget the playback so Stop is a no-op.
	p.mu.Lock()
	if p.current == pb {
		p.current = nil
	}
	p.mu.Unlock()
}

func audioContext() (*oto.Context, error) {
	otoCtxOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channelCount,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoCtxErr = fmt.Errorf("initialise audio context: %w", err)
			return
		}
		select {
		case <-ready:
		case <-time.After(deviceReadyTimeout):
			otoCtxErr = fmt.Errorf("audio device not ready after %s", deviceReadyTimeout)
			return
		}
		otoCtx = ctx
	})
	if otoCtxErr != nil {
		return nil, otoCtxErr
	}
	return otoCtx, nil
}

var _ alerting.Sink = (*Player)(nil)
