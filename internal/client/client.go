// Package client is the high-level facade over the transcription core. It
// decodes input, drives the worker channel, normalizes all progress into a
// single callback, and enforces the two client-side deadlines.
package client

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipscribe/clipscribe/internal/audio"
	"github.com/clipscribe/clipscribe/internal/domain"
	"github.com/clipscribe/clipscribe/internal/history"
	"github.com/clipscribe/clipscribe/internal/models"
	"github.com/clipscribe/clipscribe/internal/transcribe"
	"github.com/clipscribe/clipscribe/internal/worker"
)

// Default client-side deadlines. Loads cover multi-hundred-MB downloads
// and inference covers long files, so both are generous.
const (
	DefaultLoadTimeout      = 10 * time.Minute
	DefaultInferenceTimeout = 15 * time.Minute
)

// Config configures a Client.
type Config struct {
	// ModelsDir is the weight cache directory.
	ModelsDir string
	// ModelID selects the model; empty selects the default.
	ModelID string
	// Device is "auto", "cpu", or "accelerated". "auto" probes at runtime.
	Device string
	// ChunkSeconds and OverlapSeconds tune long-audio windowing. Zero
	// selects the engine defaults.
	ChunkSeconds   float64
	OverlapSeconds float64
	// LoadTimeout bounds model download plus initialization; zero selects
	// the default. InferenceTimeout bounds one transcription run.
	LoadTimeout      time.Duration
	InferenceTimeout time.Duration
	// OnProgress receives every progress event from every job. May be nil.
	OnProgress domain.ProgressFunc
	// History, when non-nil, receives a record per completed transcription.
	// Saves are fire-and-forget and never fail the job.
	History *history.Store
}

// Client is the single entry point the application talks to. One job runs
// at a time; a transcribe issued while one is active fails fast with
// domain.ErrChannelBusy. A deadline that fires abandons the call but does
// not kill the worker, which finishes on its own and stays usable.
type Client struct {
	decoder      *audio.Decoder
	modelID      string
	loadTimeout  time.Duration
	inferTimeout time.Duration
	onProgress   domain.ProgressFunc
	hist         *history.Store

	newChannel func() *worker.Channel

	// busy admits one transcription job at a time. Admission happens here,
	// before any message reaches the worker: while a job runs the worker
	// goroutine is inside inference and cannot answer, so an overlapping
	// call must be rejected up front rather than queued behind it.
	busy atomic.Bool

	mu      sync.Mutex
	channel *worker.Channel
	closed  bool
}

// New builds a client from config.
func New(cfg Config) (*Client, error) {
	engine, err := transcribe.NewEngine(cfg.ChunkSeconds, cfg.OverlapSeconds)
	if err != nil {
		return nil, err
	}

	probe, err := probeFor(cfg.Device)
	if err != nil {
		return nil, err
	}

	newChannel := func() *worker.Channel {
		return worker.New(func(emit domain.ProgressFunc) *models.Loader {
			return models.NewLoader(cfg.ModelsDir, probe, emit)
		}, engine)
	}

	c := &Client{
		decoder:      audio.NewDecoder(),
		modelID:      cfg.ModelID,
		loadTimeout:  cfg.LoadTimeout,
		inferTimeout: cfg.InferenceTimeout,
		onProgress:   cfg.OnProgress,
		hist:         cfg.History,
		newChannel:   newChannel,
	}
	if c.loadTimeout <= 0 {
		c.loadTimeout = DefaultLoadTimeout
	}
	if c.inferTimeout <= 0 {
		c.inferTimeout = DefaultInferenceTimeout
	}
	c.channel = newChannel()
	return c, nil
}

// NewForTests builds a client around injected parts.
func NewForTests(decoder *audio.Decoder, newChannel func() *worker.Channel, cfg Config) *Client {
	c := &Client{
		decoder:      decoder,
		modelID:      cfg.ModelID,
		loadTimeout:  cfg.LoadTimeout,
		inferTimeout: cfg.InferenceTimeout,
		onProgress:   cfg.OnProgress,
		hist:         cfg.History,
		newChannel:   newChannel,
	}
	if c.loadTimeout <= 0 {
		c.loadTimeout = DefaultLoadTimeout
	}
	if c.inferTimeout <= 0 {
		c.inferTimeout = DefaultInferenceTimeout
	}
	c.channel = newChannel()
	return c
}

// probeFor maps the config device string to a loader probe. "auto" means
// probe at runtime.
func probeFor(device string) (models.DeviceProbe, error) {
	switch device {
	case "", "auto":
		return nil, nil
	case "cpu":
		return models.StaticProbe(false), nil
	case "accelerated":
		return models.StaticProbe(true), nil
	default:
		return nil, errors.New("device must be auto, cpu, or accelerated")
	}
}

// TranscribeFile decodes one media file and transcribes it. Exactly one
// terminal progress event (complete or error) is delivered per call, and
// nothing follows it.
func (c *Client) TranscribeFile(ctx context.Context, path string, opts domain.Options) (domain.Result, error) {
	guard := newEmitGuard(c.onProgress)
	guard.emit(domain.Progress{Stage: domain.StageStarting})

	samples, err := c.decoder.Decode(ctx, path)
	if err != nil {
		return domain.Result{}, guard.fail(err)
	}
	return c.run(ctx, guard, samples, opts, filepath.Base(path))
}

// TranscribePCM transcribes already-decoded mono 16 kHz samples, typically
// from the microphone recorder.
func (c *Client) TranscribePCM(ctx context.Context, samples []float32, opts domain.Options) (domain.Result, error) {
	guard := newEmitGuard(c.onProgress)
	guard.emit(domain.Progress{Stage: domain.StageStarting})
	return c.run(ctx, guard, samples, opts, "recording")
}

// run loads the model if needed, then transcribes, under the two deadlines.
// A job overlapping an active one fails fast with ErrChannelBusy.
func (c *Client) run(ctx context.Context, guard *emitGuard, samples []float32, opts domain.Options, title string) (domain.Result, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return domain.Result{}, guard.fail(domain.ErrChannelBusy)
	}
	defer c.busy.Store(false)

	ch, err := c.current()
	if err != nil {
		return domain.Result{}, guard.fail(err)
	}

	_, err = c.await(ctx, c.loadTimeout, "model load", func() (domain.Result, error) {
		return domain.Result{}, ch.Load(ctx, c.modelID, guard.emit)
	})
	if err != nil {
		return domain.Result{}, guard.fail(err)
	}

	result, err := c.await(ctx, c.inferTimeout, "transcription", func() (domain.Result, error) {
		return ch.Transcribe(ctx, samples, opts, guard.emit)
	})
	if err != nil {
		return domain.Result{}, guard.fail(err)
	}

	guard.emit(domain.Progress{Stage: domain.StageComplete, Result: &result})
	c.record(title, result)
	return result, nil
}

// PreloadModel downloads and initializes the model ahead of the first job.
func (c *Client) PreloadModel(ctx context.Context) error {
	guard := newEmitGuard(c.onProgress)

	ch, err := c.current()
	if err != nil {
		return guard.fail(err)
	}
	_, err = c.await(ctx, c.loadTimeout, "model load", func() (domain.Result, error) {
		return domain.Result{}, ch.Load(ctx, c.modelID, guard.emit)
	})
	if err != nil {
		return guard.fail(err)
	}
	return nil
}

// UnloadModel discards the loaded model so a different spec can be loaded.
func (c *Client) UnloadModel(ctx context.Context) error {
	ch, err := c.current()
	if err != nil {
		return err
	}
	return ch.Unload(ctx)
}

// ProbeDevice reports the compute device the worker will use.
func (c *Client) ProbeDevice(ctx context.Context) (domain.DeviceInfo, error) {
	ch, err := c.current()
	if err != nil {
		return domain.DeviceInfo{}, err
	}
	return ch.ProbeDevice(ctx)
}

// Restart is the hard cancel: the worker is torn down, the in-flight job's
// result is discarded, and a fresh worker replaces it. The model must be
// loaded again afterwards.
func (c *Client) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return worker.ErrClosed
	}

	c.channel.Close()
	c.channel = c.newChannel()
	return nil
}

// Close shuts the client down. In-flight work is discarded.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.channel.Close()
}

// current returns the live channel.
func (c *Client) current() (*worker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, worker.ErrClosed
	}
	return c.channel, nil
}

// await runs fn and gives up after the timeout. Giving up abandons the
// call, it does not cancel the work: the worker finishes on its own and is
// usable for the next request. The emit guard suppresses whatever the
// abandoned job reports afterwards.
func (c *Client) await(ctx context.Context, timeout time.Duration, op string, fn func() (domain.Result, error)) (domain.Result, error) {
	type outcome struct {
		result domain.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn()
		done <- outcome{result, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		return domain.Result{}, &domain.TimeoutError{Op: op, Timeout: timeout}
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

// record persists one completed transcript. Best effort; failures are
// logged and never surfaced to the job.
func (c *Client) record(title string, result domain.Result) {
	if c.hist == nil {
		return
	}
	rec := history.Record{
		Title:    title,
		Text:     result.Text,
		Chunks:   result.Chunks,
		Language: result.Language,
		Model:    c.modelID,
		Duration: result.Duration,
	}
	go func() {
		if err := c.hist.Save(rec); err != nil {
			slog.Warn("saving transcript history", "error", err)
		}
	}()
}

// emitGuard enforces the per-job event contract: at most one terminal
// event, and silence after it. An abandoned job's late events are dropped
// here.
type emitGuard struct {
	fn   domain.ProgressFunc
	done atomic.Bool
}

func newEmitGuard(fn domain.ProgressFunc) *emitGuard {
	return &emitGuard{fn: fn}
}

// emit forwards one event unless a terminal event was already delivered.
// A terminal event claims the slot first, so exactly one wins.
func (g *emitGuard) emit(p domain.Progress) {
	switch p.Stage {
	case domain.StageComplete, domain.StageError:
		if !g.done.CompareAndSwap(false, true) {
			return
		}
	default:
		if g.done.Load() {
			return
		}
	}
	g.fn.Emit(p)
}

// fail delivers the terminal error event and returns err unchanged.
func (g *emitGuard) fail(err error) error {
	g.emit(domain.Progress{Stage: domain.StageError, Message: err.Error()})
	return err
}
