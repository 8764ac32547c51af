package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/clipscribe/clipscribe/internal/domain"
	"github.com/clipscribe/clipscribe/internal/transcribe"
)

// Factory builds an inference handle from downloaded weights. Injectable
// so tests can substitute stub models.
type Factory func(info Info, device domain.Device, dir string) (transcribe.Model, error)

func defaultFactory(info Info, device domain.Device, dir string) (transcribe.Model, error) {
	return transcribe.New(info.Backend, dir, device)
}

// Loaded is the device-bound in-memory inference handle. At most one
// Loaded exists per Loader at a time.
type Loaded struct {
	Spec  domain.ModelSpec
	Model transcribe.Model
}

// Loader downloads model weights on demand and owns the single loaded
// model handle. EnsureLoaded is idempotent: an identical spec returns the
// cached handle, and concurrent calls share one in-flight load. A failed
// load leaves nothing behind, so the next call starts fresh.
type Loader struct {
	dir        string
	catalog    Catalog
	downloader *Downloader
	probe      DeviceProbe
	factory    Factory
	emit       domain.ProgressFunc

	mu     sync.Mutex
	probed bool
	device domain.Device
	loaded *Loaded

	group singleflight.Group
}

// NewLoader creates a loader caching weights under dir. A nil probe
// selects the runtime feature check. Progress (download bytes,
// model-ready) is reported through emit.
func NewLoader(dir string, probe DeviceProbe, emit domain.ProgressFunc) *Loader {
	if probe == nil {
		probe = RuntimeProbe{}
	}
	return &Loader{
		dir:        dir,
		catalog:    DefaultCatalog(),
		downloader: NewDownloader(),
		probe:      probe,
		factory:    defaultFactory,
		emit:       emit,
	}
}

// NewLoaderForTests creates a loader with every dependency injectable.
func NewLoaderForTests(
	dir string,
	catalog Catalog,
	downloader *Downloader,
	probe DeviceProbe,
	factory Factory,
	emit domain.ProgressFunc,
) *Loader {
	return &Loader{
		dir:        dir,
		catalog:    catalog,
		downloader: downloader,
		probe:      probe,
		factory:    factory,
		emit:       emit,
	}
}

// Device returns the compute device, probing on first use and caching the
// answer for the loader's lifetime.
func (l *Loader) Device() domain.Device {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.probed {
		if l.probe.DetectAccelerated() {
			l.device = domain.DeviceAccelerated
		} else {
			l.device = domain.DeviceCPU
		}
		l.probed = true
		slog.Debug("device probe", "device", l.device)
	}
	return l.device
}

// DeviceInfo reports the probed device.
func (l *Loader) DeviceInfo() domain.DeviceInfo {
	device := l.Device()
	return domain.DeviceInfo{
		Device:      device,
		Accelerated: device == domain.DeviceAccelerated,
	}
}

// EnsureLoaded returns a ready-to-infer handle for the model ID (empty
// selects the default model). The same spec returns the cached handle
// without touching the network; a different spec while one is loaded
// fails until Unload is called. Concurrent calls for the same spec attach
// to the single in-flight load.
func (l *Loader) EnsureLoaded(ctx context.Context, id string) (*Loaded, error) {
	if id == "" {
		id = DefaultModelID
	}
	spec := domain.ModelSpec{ID: id, Device: l.Device()}

	l.mu.Lock()
	if l.loaded != nil {
		loaded := l.loaded
		l.mu.Unlock()
		if loaded.Spec == spec {
			return loaded, nil
		}
		return nil, &domain.ModelLoadError{
			Spec:    spec,
			Message: fmt.Sprintf("%s is already loaded; unload it first", loaded.Spec),
		}
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(spec.String(), func() (any, error) {
		return l.load(ctx, spec)
	})
	if err != nil {
		var loadErr *domain.ModelLoadError
		if errors.As(err, &loadErr) {
			return nil, err
		}
		return nil, &domain.ModelLoadError{Spec: spec, Message: "load failed", Err: err}
	}
	return v.(*Loaded), nil
}

// load downloads weights, constructs the model, and installs the handle.
// Runs inside singleflight, so at most once per spec at a time; the group
// forgets the key on return, which makes retry after failure possible.
func (l *Loader) load(ctx context.Context, spec domain.ModelSpec) (*Loaded, error) {
	// A concurrent load of the same spec may have finished while this
	// call waited on the singleflight slot.
	l.mu.Lock()
	if l.loaded != nil && l.loaded.Spec == spec {
		loaded := l.loaded
		l.mu.Unlock()
		return loaded, nil
	}
	l.mu.Unlock()

	info, err := l.catalog.Lookup(spec.ID)
	if err != nil {
		return nil, err
	}

	modelDir := filepath.Join(l.dir, spec.ID)
	if err := l.downloader.EnsureFiles(ctx, modelDir, info.FilesFor(spec.Device), l.emit); err != nil {
		return nil, &domain.ModelLoadError{Spec: spec, Message: "download failed", Err: err}
	}

	model, err := l.factory(info, spec.Device, modelDir)
	if err != nil {
		return nil, &domain.ModelLoadError{Spec: spec, Message: "initialization failed", Err: err}
	}

	// Warm-up on the accelerated path forces deferred compilation now
	// instead of during the user's first real request.
	if spec.Device == domain.DeviceAccelerated {
		silence := make([]float32, domain.SampleRate/2)
		if _, err := model.Transcribe(silence, domain.Options{}); err != nil {
			slog.Warn("model warm-up failed", "model", spec.ID, "error", err)
		}
	}

	loaded := &Loaded{Spec: spec, Model: model}

	l.mu.Lock()
	if l.loaded != nil {
		// Another spec won the race. Discard this handle.
		l.mu.Unlock()
		model.Close()
		return nil, &domain.ModelLoadError{Spec: spec, Message: "another model was loaded concurrently"}
	}
	l.loaded = loaded
	l.mu.Unlock()

	l.emit.Emit(domain.Progress{Stage: domain.StageModelReady})
	return loaded, nil
}

// Loaded returns the current handle, or nil when nothing is loaded.
func (l *Loader) Loaded() *Loaded {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Unload discards the loaded handle so a different spec can be loaded.
// No effect when nothing is loaded.
func (l *Loader) Unload() {
	l.mu.Lock()
	loaded := l.loaded
	l.loaded = nil
	l.mu.Unlock()

	if loaded != nil {
		if err := loaded.Model.Close(); err != nil {
			slog.Warn("closing model", "model", loaded.Spec.ID, "error", err)
		}
	}
}
