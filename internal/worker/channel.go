// Package worker hosts the model loader and transcription engine in an
// isolated goroutine, exposing only an asynchronous typed-message contract
// so callers never block on model loading or inference.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/clipscribe/clipscribe/internal/domain"
	"github.com/clipscribe/clipscribe/internal/models"
	"github.com/clipscribe/clipscribe/internal/transcribe"
)

// ErrClosed is returned for requests submitted after Close.
var ErrClosed = errors.New("worker channel closed")

type msgKind int

const (
	msgLoad msgKind = iota
	msgTranscribe
	msgUnload
	msgProbe
)

// request is one typed message into the worker goroutine.
type request struct {
	kind    msgKind
	modelID string
	samples []float32
	opts    domain.Options
	emit    domain.ProgressFunc
	resp    chan response
}

// response is the worker's reply to one request.
type response struct {
	result domain.Result
	info   domain.DeviceInfo
	err    error
}

// LoaderFactory builds the channel's loader with the channel's progress
// forwarder wired in.
type LoaderFactory func(emit domain.ProgressFunc) *models.Loader

// Channel owns the loader and engine state explicitly — no package-level
// mutable state — so independent channels can coexist in one process.
// It runs a single goroutine; one job may be active at a time, and a
// transcribe submitted while a job runs is rejected with ErrChannelBusy,
// never queued.
type Channel struct {
	loader *models.Loader
	engine *transcribe.Engine

	requests  chan request
	done      chan struct{}
	closeOnce sync.Once

	jobActive  atomic.Bool
	activeEmit atomic.Value // domain.ProgressFunc
}

// New starts a channel goroutine. newLoader receives the channel's
// progress forwarder so loader events reach the active request's callback.
func New(newLoader LoaderFactory, engine *transcribe.Engine) *Channel {
	c := &Channel{
		requests: make(chan request),
		done:     make(chan struct{}),
		engine:   engine,
	}
	c.activeEmit.Store(domain.ProgressFunc(nil))
	c.loader = newLoader(c.forward)

	go c.run()
	return c
}

// run is the worker loop: one message at a time, strictly ordered.
func (c *Channel) run() {
	for {
		select {
		case <-c.done:
			c.loader.Unload()
			return
		case req := <-c.requests:
			c.handle(req)
		}
	}
}

func (c *Channel) handle(req request) {
	switch req.kind {
	case msgProbe:
		req.resp <- response{info: c.loader.DeviceInfo()}

	case msgUnload:
		c.loader.Unload()
		req.resp <- response{}

	case msgLoad:
		c.activeEmit.Store(req.emit)
		_, err := c.loader.EnsureLoaded(context.Background(), req.modelID)
		c.activeEmit.Store(domain.ProgressFunc(nil))
		req.resp <- response{err: err}

	case msgTranscribe:
		c.activeEmit.Store(req.emit)
		result, err := c.transcribe(req)
		c.activeEmit.Store(domain.ProgressFunc(nil))
		c.jobActive.Store(false)
		req.resp <- response{result: result, err: err}
	}
}

// transcribe runs one job against the already-loaded model. The engine
// never triggers loading; a missing model is the caller's ordering bug.
func (c *Channel) transcribe(req request) (domain.Result, error) {
	loaded := c.loader.Loaded()
	if loaded == nil {
		return domain.Result{}, &domain.TranscriptionError{Message: "no model loaded"}
	}
	return c.engine.Run(loaded.Model, req.samples, req.opts, req.emit)
}

// forward routes loader progress to the active request's callback.
func (c *Channel) forward(p domain.Progress) {
	if f, ok := c.activeEmit.Load().(domain.ProgressFunc); ok {
		f.Emit(p)
	}
}

// Load ensures the model is downloaded and ready. Progress events
// (download bytes, model-ready) flow through emit.
func (c *Channel) Load(ctx context.Context, modelID string, emit domain.ProgressFunc) error {
	resp, err := c.submit(ctx, request{
		kind:    msgLoad,
		modelID: modelID,
		emit:    emit,
		resp:    make(chan response, 1),
	})
	if err != nil {
		return err
	}
	return resp.err
}

// Transcribe runs one job over the loaded model. A second Transcribe
// while a job is active fails with domain.ErrChannelBusy.
func (c *Channel) Transcribe(ctx context.Context, samples []float32, opts domain.Options, emit domain.ProgressFunc) (domain.Result, error) {
	if !c.jobActive.CompareAndSwap(false, true) {
		return domain.Result{}, domain.ErrChannelBusy
	}

	req := request{
		kind:    msgTranscribe,
		samples: samples,
		opts:    opts,
		emit:    emit,
		resp:    make(chan response, 1),
	}

	// Deliver. If the request never reaches the worker, clear the
	// admission flag here; once delivered, the worker clears it.
	select {
	case c.requests <- req:
	case <-c.done:
		c.jobActive.Store(false)
		return domain.Result{}, ErrClosed
	case <-ctx.Done():
		c.jobActive.Store(false)
		return domain.Result{}, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		return resp.result, resp.err
	case <-c.done:
		return domain.Result{}, ErrClosed
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

// Unload discards the loaded model so a different spec can be loaded.
func (c *Channel) Unload(ctx context.Context) error {
	_, err := c.submit(ctx, request{kind: msgUnload, resp: make(chan response, 1)})
	return err
}

// ProbeDevice reports the worker's compute device.
func (c *Channel) ProbeDevice(ctx context.Context) (domain.DeviceInfo, error) {
	resp, err := c.submit(ctx, request{kind: msgProbe, resp: make(chan response, 1)})
	if err != nil {
		return domain.DeviceInfo{}, err
	}
	return resp.info, nil
}

// submit delivers one request and waits for its reply. The reply channel
// is buffered so an abandoning caller never blocks the worker.
func (c *Channel) submit(ctx context.Context, req request) (response, error) {
	select {
	case c.requests <- req:
	case <-c.done:
		return response{}, ErrClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		return resp, nil
	case <-c.done:
		return response{}, ErrClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Close terminates the worker. The loaded model and any in-flight job's
// result are discarded; this is the hard-cancel path.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
