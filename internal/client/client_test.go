package client

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/clipscribe/clipscribe/internal/audio"
	"github.com/clipscribe/clipscribe/internal/domain"
	"github.com/clipscribe/clipscribe/internal/history"
	"github.com/clipscribe/clipscribe/internal/models"
	"github.com/clipscribe/clipscribe/internal/transcribe"
	"github.com/clipscribe/clipscribe/internal/worker"
)

// scriptModel returns fixed text and can block until released.
type scriptModel struct {
	text     string
	language string
	release  chan struct{}

	mu    sync.Mutex
	calls int
}

func (m *scriptModel) Transcribe(samples []float32, opts domain.Options) (domain.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.release != nil {
		<-m.release
	}
	lang := m.language
	if lang == "" {
		lang = "en"
	}
	return domain.Result{
		Text:     m.text,
		Language: lang,
		Duration: float64(len(samples)) / float64(domain.SampleRate),
	}, nil
}

func (m *scriptModel) Close() error { return nil }

// eventLog collects progress events safely across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []domain.Progress
}

func (l *eventLog) add(p domain.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, p)
}

func (l *eventLog) snapshot() []domain.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Progress(nil), l.events...)
}

func newTestClient(t *testing.T, model transcribe.Model, cfg Config) *Client {
	return newTestClientEngine(t, model, cfg, 0, 0)
}

func newTestClientEngine(t *testing.T, model transcribe.Model, cfg Config, chunkSeconds, overlapSeconds float64) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weights"))
	}))
	t.Cleanup(srv.Close)

	catalog := models.Catalog{
		"tiny": {
			ID:      "tiny",
			Backend: "stub",
			Files:   []models.File{{Name: "weights.bin", URL: srv.URL + "/weights.bin"}},
		},
	}
	factory := func(models.Info, domain.Device, string) (transcribe.Model, error) {
		return model, nil
	}

	engine, err := transcribe.NewEngine(chunkSeconds, overlapSeconds)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	newChannel := func() *worker.Channel {
		return worker.New(func(emit domain.ProgressFunc) *models.Loader {
			return models.NewLoaderForTests(
				dir,
				catalog,
				models.NewDownloaderWithClient(srv.Client()),
				models.StaticProbe(false),
				factory,
				emit,
			)
		}, engine)
	}

	cfg.ModelID = "tiny"
	c := NewForTests(audio.NewDecoder(), newChannel, cfg)
	t.Cleanup(c.Close)
	return c
}

// writeToneWAV writes a mono 16 kHz WAV with a 440 Hz tone.
func writeToneWAV(t *testing.T, path string, seconds float64) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	frames := int(float64(domain.SampleRate) * seconds)
	data := make([]int, frames)
	for i := range data {
		data[i] = int(math.Sin(2*math.Pi*440*float64(i)/domain.SampleRate) * 30000)
	}

	enc := wav.NewEncoder(f, domain.SampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: domain.SampleRate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTranscribeFileEndToEnd(t *testing.T) {
	log := &eventLog{}
	c := newTestClient(t, &scriptModel{text: "hello there"}, Config{OnProgress: log.add})

	path := filepath.Join(t.TempDir(), "tone.wav")
	writeToneWAV(t, path, 2.0)

	res, err := c.TranscribeFile(context.Background(), path, domain.Options{})
	if err != nil {
		t.Fatalf("TranscribeFile() error = %v", err)
	}
	if res.Text != "hello there" {
		t.Errorf("Text = %q, want %q", res.Text, "hello there")
	}
	if res.Duration != 2 {
		t.Errorf("Duration = %g, want 2", res.Duration)
	}

	events := log.snapshot()
	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	if events[0].Stage != domain.StageStarting {
		t.Errorf("first stage = %q, want starting", events[0].Stage)
	}
	last := events[len(events)-1]
	if last.Stage != domain.StageComplete {
		t.Errorf("last stage = %q, want complete", last.Stage)
	}
	if last.Result == nil || last.Result.Text != "hello there" {
		t.Errorf("terminal result = %+v, want the transcript", last.Result)
	}

	terminals := 0
	for _, ev := range events {
		if ev.Stage == domain.StageComplete || ev.Stage == domain.StageError {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want exactly 1", terminals)
	}
}

func TestTranscribeFileDecodeFailure(t *testing.T) {
	log := &eventLog{}
	c := newTestClient(t, &scriptModel{}, Config{OnProgress: log.add})

	path := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(path, []byte("not audio"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := c.TranscribeFile(context.Background(), path, domain.Options{})
	var decodeErr *domain.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %T (%v), want *domain.DecodeError", err, err)
	}

	events := log.snapshot()
	terminals := 0
	for _, ev := range events {
		switch ev.Stage {
		case domain.StageError:
			terminals++
			if ev.Message == "" {
				t.Error("error event has no message")
			}
		case domain.StageComplete:
			t.Error("failed job emitted a complete event")
		}
	}
	if terminals != 1 {
		t.Errorf("error events = %d, want exactly 1", terminals)
	}
}

func TestAutoLanguageResolvesToDetected(t *testing.T) {
	c := newTestClient(t, &scriptModel{text: "hi", language: "en"}, Config{})

	res, err := c.TranscribePCM(context.Background(), make([]float32, domain.SampleRate), domain.Options{Language: "auto"})
	if err != nil {
		t.Fatalf("TranscribePCM() error = %v", err)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
}

func TestInferenceTimeoutThenRecovery(t *testing.T) {
	model := &scriptModel{text: "late", release: make(chan struct{})}
	log := &eventLog{}
	const timeout = 100 * time.Millisecond
	c := newTestClient(t, model, Config{
		InferenceTimeout: timeout,
		OnProgress:       log.add,
	})

	samples := make([]float32, domain.SampleRate)

	start := time.Now()
	_, err := c.TranscribePCM(context.Background(), samples, domain.Options{})
	elapsed := time.Since(start)

	var timeoutErr *domain.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %T (%v), want *domain.TimeoutError", err, err)
	}
	if elapsed < timeout {
		t.Errorf("returned after %s, before the %s deadline", elapsed, timeout)
	}
	if elapsed > timeout+2*time.Second {
		t.Errorf("returned after %s, far beyond the %s deadline", elapsed, timeout)
	}

	// Let the abandoned job finish; the worker must become usable again.
	close(model.release)

	busyRetries := 0
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err = c.TranscribePCM(context.Background(), samples, domain.Options{})
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrChannelBusy) || time.Now().After(deadline) {
			t.Fatalf("TranscribePCM() after timeout error = %v", err)
		}
		busyRetries++
		time.Sleep(10 * time.Millisecond)
	}

	// The abandoned job's late events must have been suppressed: every
	// call shows exactly one terminal (the timeout, each busy rejection,
	// and the final success).
	events := log.snapshot()
	completes, errorEvents := 0, 0
	for _, ev := range events {
		switch ev.Stage {
		case domain.StageComplete:
			completes++
		case domain.StageError:
			errorEvents++
		}
	}
	if completes != 1 {
		t.Errorf("complete events = %d, want 1", completes)
	}
	if errorEvents != 1+busyRetries {
		t.Errorf("error events = %d, want %d (timeout plus busy rejections)", errorEvents, 1+busyRetries)
	}
}

func TestOverlappingJobsRejected(t *testing.T) {
	model := &scriptModel{text: "slow", release: make(chan struct{})}
	c := newTestClient(t, model, Config{})
	samples := make([]float32, domain.SampleRate)

	if err := c.PreloadModel(context.Background()); err != nil {
		t.Fatalf("PreloadModel() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.TranscribePCM(context.Background(), samples, domain.Options{})
		done <- err
	}()

	// Wait for the first job to reach the model.
	deadline := time.Now().Add(5 * time.Second)
	for {
		model.mu.Lock()
		started := model.calls > 0
		model.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first job never reached the model")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The rejection must be immediate: the worker goroutine is parked
	// inside the first job's inference and cannot answer any message, so
	// waiting on it (even for the load step) would hang until the job
	// ends.
	start := time.Now()
	_, err := c.TranscribePCM(context.Background(), samples, domain.Options{})
	elapsed := time.Since(start)
	if !errors.Is(err, domain.ErrChannelBusy) {
		t.Errorf("overlapping call error = %v, want ErrChannelBusy", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("overlapping call took %s, want a fast rejection", elapsed)
	}

	close(model.release)
	if err := <-done; err != nil {
		t.Errorf("first job error = %v", err)
	}

	// The client admits jobs again once the active one finishes.
	if _, err := c.TranscribePCM(context.Background(), samples, domain.Options{}); err != nil {
		t.Errorf("TranscribePCM() after busy job error = %v", err)
	}
}

func TestRestartDiscardsStuckJob(t *testing.T) {
	model := &scriptModel{text: "stuck", release: make(chan struct{})}
	defer close(model.release)
	c := newTestClient(t, model, Config{InferenceTimeout: 100 * time.Millisecond})
	samples := make([]float32, domain.SampleRate)

	_, err := c.TranscribePCM(context.Background(), samples, domain.Options{})
	var timeoutErr *domain.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want *domain.TimeoutError", err)
	}

	// Hard cancel: a fresh worker replaces the stuck one, so the next job
	// runs without waiting for the old one.
	if err := c.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.TranscribePCM(context.Background(), samples, domain.Options{})
		done <- err
	}()

	select {
	case err := <-done:
		// The shared stub still blocks on release, so the only acceptable
		// immediate outcome is a timeout, never ErrChannelBusy.
		if err != nil && !errors.As(err, &timeoutErr) {
			t.Errorf("post-restart job error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("post-restart job never returned")
	}
}

func TestHistorySavedOnCompletion(t *testing.T) {
	dir := t.TempDir()
	store := history.NewStore(dir)
	c := newTestClient(t, &scriptModel{text: "remember me"}, Config{History: store})

	if _, err := c.TranscribePCM(context.Background(), make([]float32, domain.SampleRate), domain.Options{}); err != nil {
		t.Fatalf("TranscribePCM() error = %v", err)
	}

	// The save is asynchronous; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		records, err := store.List(0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(records) == 1 {
			if records[0].Text != "remember me" {
				t.Errorf("record text = %q, want %q", records[0].Text, "remember me")
			}
			if records[0].Title != "recording" {
				t.Errorf("record title = %q, want recording", records[0].Title)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("history records = %d, want 1", len(records))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// chunkingModel reports one word chunk per window.
type chunkingModel struct{}

func (chunkingModel) Transcribe(samples []float32, opts domain.Options) (domain.Result, error) {
	return domain.Result{
		Text:     "tone",
		Language: "en",
		Chunks:   []domain.Chunk{{Start: 0.1, End: 0.4, Text: "tone"}},
		Duration: float64(len(samples)) / float64(domain.SampleRate),
	}, nil
}

func (chunkingModel) Close() error { return nil }

func TestTranscribeStereoFileChunkInvariants(t *testing.T) {
	// 10 s of 44.1 kHz stereo through the full path: decode, downmix,
	// resample, window at 3 s with 0.5 s overlap, merge. Chunk timestamps
	// must be non-decreasing and bounded by the input duration.
	c := newTestClientEngine(t, chunkingModel{}, Config{}, 3, 0.5)

	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	const rate = 44100
	frames := rate * 10
	data := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		v := int(math.Sin(2*math.Pi*440*float64(i)/rate) * 30000)
		data[i*2] = v
		data[i*2+1] = v
	}
	enc := wav.NewEncoder(f, rate, 16, 2, 1)
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: rate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res, err := c.TranscribeFile(context.Background(), path, domain.Options{Timestamps: true})
	if err != nil {
		t.Fatalf("TranscribeFile() error = %v", err)
	}

	if res.Duration < 9.99 || res.Duration > 10.01 {
		t.Errorf("Duration = %g, want ~10", res.Duration)
	}
	if len(res.Chunks) == 0 {
		t.Fatal("no chunks in result")
	}
	prevEnd := 0.0
	for i, ch := range res.Chunks {
		if ch.Start < prevEnd {
			t.Errorf("chunk %d starts at %g before previous end %g", i, ch.Start, prevEnd)
		}
		if ch.End > res.Duration+0.5 {
			t.Errorf("chunk %d ends at %g, beyond the input duration", i, ch.End)
		}
		prevEnd = ch.End
	}
}

func TestProbeDevice(t *testing.T) {
	c := newTestClient(t, &scriptModel{}, Config{})

	info, err := c.ProbeDevice(context.Background())
	if err != nil {
		t.Fatalf("ProbeDevice() error = %v", err)
	}
	if info.Device != domain.DeviceCPU {
		t.Errorf("Device = %q, want cpu", info.Device)
	}
}
