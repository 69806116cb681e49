package qr

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the pause between decode attempts.
const DefaultInterval = 100 * time.Millisecond

// ErrDecoderStopped is returned by Start after Stop has been called.
var ErrDecoderStopped = errors.New("decoder stopped")

// FrameDecoder polls a Camera and decodes each frame until stopped. It
// satisfies scanner.Decoder.
type FrameDecoder struct {
	camera   Camera
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	release sync.Once
}

// NewFrameDecoder returns a decoder over cam. A zero interval uses
// DefaultInterval.
func NewFrameDecoder(cam Camera, interval time.Duration, logger *slog.Logger) *FrameDecoder {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameDecoder{camera: cam, interval: interval, logger: logger}
}

// Start opens the camera and launches the decode loop. onResult is called on
// the loop goroutine for every decoded frame until Stop.
func (d *FrameDecoder) Start(ctx context.Context, onResult func(payload string)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDecoderStopped
	}
	if d.started {
		return errors.New("decoder already started")
	}
	if err := d.camera.Open(); err != nil {
		return err
	}
	d.started = true

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.loop(ctx, onResult)
	return nil
}

func (d *FrameDecoder) loop(ctx context.Context, onResult func(string)) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			d.Stop()
			return
		}
		img, err := d.camera.Frame()
		if errors.Is(err, ErrCameraClosed) {
			return
		}
		if err != nil {
			d.logger.Debug("frame read failed", "error", err)
		} else if payload, err := Decode(img); err == nil {
			onResult(payload)
		}

		select {
		case <-ctx.Done():
			d.Stop()
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the loop and closes the camera exactly once. It does not wait
// for the loop goroutine, so it is safe to call from onResult. A Stop before
// Start makes the later Start fail without opening the camera.
func (d *FrameDecoder) Stop() {
	d.mu.Lock()
	d.stopped = true
	started, cancel := d.started, d.cancel
	d.mu.Unlock()
	if !started {
		return
	}
	d.release.Do(func() {
		cancel()
		if err := d.camera.Close(); err != nil {
			d.logger.Warn("camera close failed", "error", err)
		}
	})
}
