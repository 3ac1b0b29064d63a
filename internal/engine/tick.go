// Package engine provides the frame loop and the economy tick pipeline that
// turns elapsed wall-clock time into coin deltas.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultFrameInterval approximates a 60 fps animation frame.
const DefaultFrameInterval = 16 * time.Millisecond

// Engine drives per-frame callbacks until stopped.
type Engine struct {
	Interval time.Duration // Frame interval (default ~16ms)

	// Callbacks, populated during setup.
	OnFrame  func(frame uint64)        // Every frame
	OnSecond func(frame uint64)        // Roughly once per wall-clock second
	OnPanic  func(frame uint64, v any) // Optional; a panicking frame is skipped

	frame  atomic.Uint64
	paused atomic.Bool
	cancel atomic.Pointer[context.CancelFunc]
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{Interval: DefaultFrameInterval}
}

// Frame returns the number of frames run so far.
func (e *Engine) Frame() uint64 {
	return e.frame.Load()
}

// SetPaused suspends or resumes frame callbacks. Time keeps passing while
// paused, so the first tick after resuming carries the whole gap.
func (e *Engine) SetPaused(p bool) {
	e.paused.Store(p)
}

// Paused reports whether frames are suspended.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// Run starts the frame loop. Blocks until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancel.Store(&cancel)

	interval := e.Interval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	framesPerSecond := uint64(max(1, time.Second/interval))

	slog.Info("frame loop started", "interval", interval, "frame", e.Frame())

	for {
		start := time.Now()

		if !e.paused.Load() {
			e.step(framesPerSecond)
		}

		// Sleep for the remainder of the frame.
		wait := interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			slog.Info("frame loop stopped", "frame", e.Frame())
			return
		case <-time.After(wait):
		}
	}
}

// Stop halts a running loop. Safe to call before Run or more than once.
func (e *Engine) Stop() {
	if c := e.cancel.Load(); c != nil {
		(*c)()
	}
}

// step advances the loop by one frame.
func (e *Engine) step(framesPerSecond uint64) {
	frame := e.frame.Add(1)

	defer func() {
		if v := recover(); v != nil {
			slog.Error("frame panicked", "frame", frame, "panic", v)
			if e.OnPanic != nil {
				e.OnPanic(frame, v)
			}
		}
	}()

	if e.OnFrame != nil {
		e.OnFrame(frame)
	}
	if frame%framesPerSecond == 0 && e.OnSecond != nil {
		e.OnSecond(frame)
	}
}
