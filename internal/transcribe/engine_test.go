package transcribe

import (
	"errors"
	"fmt"
	"testing"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// windowModel records every window it receives and returns one scripted
// result per call.
type windowModel struct {
	calls   [][]float32
	results []domain.Result
	failAt  int // 1-based call number that fails; 0 never fails
}

func (m *windowModel) Transcribe(samples []float32, opts domain.Options) (domain.Result, error) {
	m.calls = append(m.calls, samples)
	n := len(m.calls)
	if m.failAt != 0 && n == m.failAt {
		return domain.Result{}, errors.New("inference blew up")
	}
	if n <= len(m.results) {
		return m.results[n-1], nil
	}
	return domain.Result{Text: fmt.Sprintf("window %d", n), Language: "en"}, nil
}

func (m *windowModel) Close() error { return nil }

func seconds(s float64) []float32 {
	return make([]float32, int(s*domain.SampleRate))
}

func TestNewEngineValidation(t *testing.T) {
	tests := []struct {
		name    string
		chunk   float64
		overlap float64
		wantErr bool
	}{
		{"defaults", 0, 0, false},
		{"custom", 10, 1, false},
		{"no overlap", 5, 0, false},
		{"negative chunk", -1, 0, true},
		{"negative overlap", 10, -1, true},
		{"overlap equals chunk", 10, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.chunk, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEngine(%g, %g) error = %v, wantErr %v", tt.chunk, tt.overlap, err, tt.wantErr)
			}
		})
	}
}

func TestNewEngineDefaulting(t *testing.T) {
	tests := []struct {
		name        string
		chunk       float64
		overlap     float64
		wantChunk   int
		wantOverlap int
	}{
		{"zero chunk selects both defaults", 0, 0,
			int(DefaultChunkSeconds * domain.SampleRate),
			int(DefaultOverlapSeconds * domain.SampleRate)},
		{"zero chunk keeps explicit overlap", 0, 1,
			int(DefaultChunkSeconds * domain.SampleRate),
			domain.SampleRate},
		{"custom chunk with zero overlap runs without overlap", 5, 0,
			5 * domain.SampleRate, 0},
		{"custom chunk keeps explicit overlap", 5, 1,
			5 * domain.SampleRate, domain.SampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(tt.chunk, tt.overlap)
			if err != nil {
				t.Fatalf("NewEngine(%g, %g) error = %v", tt.chunk, tt.overlap, err)
			}
			if e.chunkSamples != tt.wantChunk {
				t.Errorf("chunkSamples = %d, want %d", e.chunkSamples, tt.wantChunk)
			}
			if got := e.chunkSamples - e.strideSamples; got != tt.wantOverlap {
				t.Errorf("overlap samples = %d, want %d", got, tt.wantOverlap)
			}
		})
	}
}

func TestRunEmptyAudio(t *testing.T) {
	e, err := NewEngine(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Run(&windowModel{}, nil, domain.Options{}, nil)
	var trErr *domain.TranscriptionError
	if !errors.As(err, &trErr) {
		t.Errorf("error = %T, want *domain.TranscriptionError", err)
	}
}

func TestRunShortAudioSingleWindow(t *testing.T) {
	e, err := NewEngine(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	m := &windowModel{results: []domain.Result{{Text: "  hello world  ", Language: "en"}}}

	res, err := e.Run(m, seconds(3), domain.Options{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(m.calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(m.calls))
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want trimmed %q", res.Text, "hello world")
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	if res.Duration != 3 {
		t.Errorf("Duration = %g, want 3", res.Duration)
	}
}

func TestRunWindowsLongAudio(t *testing.T) {
	// 2 s windows, 0.5 s overlap over 4 s of audio: windows start at
	// 0, 1.5, and 3 seconds.
	e, err := NewEngine(2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	m := &windowModel{}

	res, err := e.Run(m, seconds(4), domain.Options{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(m.calls) != 3 {
		t.Fatalf("model calls = %d, want 3", len(m.calls))
	}
	if got := len(m.calls[0]); got != 2*domain.SampleRate {
		t.Errorf("window 1 length = %d, want %d", got, 2*domain.SampleRate)
	}
	// The last window is truncated at the end of the audio.
	if got := len(m.calls[2]); got != domain.SampleRate {
		t.Errorf("window 3 length = %d, want %d", got, domain.SampleRate)
	}
	if res.Text != "window 1 window 2 window 3" {
		t.Errorf("Text = %q, want joined window texts", res.Text)
	}
}

func TestRunProgressOrdering(t *testing.T) {
	e, err := NewEngine(2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	m := &windowModel{}

	var percents []float64
	emit := func(p domain.Progress) {
		if p.Stage != domain.StageTranscribing {
			t.Errorf("unexpected stage %q from engine", p.Stage)
			return
		}
		percents = append(percents, p.Percent)
	}

	if _, err := e.Run(m, seconds(4), domain.Options{}, emit); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(percents) < 2 {
		t.Fatalf("progress events = %d, want at least start and finish", len(percents))
	}
	if percents[0] != 0 {
		t.Errorf("first percent = %g, want 0", percents[0])
	}
	if last := percents[len(percents)-1]; last != 100 {
		t.Errorf("last percent = %g, want 100", last)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Errorf("percent decreased: %g after %g", percents[i], percents[i-1])
		}
	}
}

func TestRunOffsetsChunkTimestamps(t *testing.T) {
	// Windows start at 0 and 1.5 s. Each window reports a chunk at
	// window-relative [0.1, 0.4]; the merged result must be absolute.
	e, err := NewEngine(2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	m := &windowModel{results: []domain.Result{
		{Text: "one", Chunks: []domain.Chunk{{Start: 0.1, End: 0.4, Text: "one"}}, Language: "en"},
		{Text: "two", Chunks: []domain.Chunk{{Start: 0.1, End: 0.4, Text: "two"}}, Language: "en"},
	}}

	res, err := e.Run(m, seconds(3.5), domain.Options{Timestamps: true}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(res.Chunks) != 2 {
		t.Fatalf("chunks = %+v, want 2", res.Chunks)
	}
	if res.Chunks[0].Start != 0.1 || res.Chunks[0].End != 0.4 {
		t.Errorf("chunk 0 = [%g, %g], want [0.1, 0.4]", res.Chunks[0].Start, res.Chunks[0].End)
	}
	if res.Chunks[1].Start != 1.6 || res.Chunks[1].End != 1.9 {
		t.Errorf("chunk 1 = [%g, %g], want [1.6, 1.9]", res.Chunks[1].Start, res.Chunks[1].End)
	}
}

func TestRunDropsOverlapDuplicates(t *testing.T) {
	// The second window re-reports a word already covered by the first
	// window's span; the merge must drop it.
	e, err := NewEngine(2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	m := &windowModel{results: []domain.Result{
		{Text: "one", Chunks: []domain.Chunk{{Start: 1.0, End: 1.8, Text: "one"}}},
		// Window starts at 1.5 s, so this chunk spans [1.6, 1.75] absolute,
		// inside the previous chunk's span.
		{Text: "one", Chunks: []domain.Chunk{{Start: 0.1, End: 0.25, Text: "one"}}},
	}}

	res, err := e.Run(m, seconds(3.5), domain.Options{Timestamps: true}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Chunks) != 1 {
		t.Errorf("chunks = %+v, want the duplicate dropped", res.Chunks)
	}
}

func TestRunChunksOmittedWithoutTimestamps(t *testing.T) {
	e, err := NewEngine(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	m := &windowModel{results: []domain.Result{
		{Text: "hi", Chunks: []domain.Chunk{{Start: 0, End: 1, Text: "hi"}}},
	}}

	res, err := e.Run(m, seconds(1), domain.Options{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Chunks != nil {
		t.Errorf("Chunks = %+v, want nil when timestamps are off", res.Chunks)
	}
}

func TestRunExplicitLanguageOverrides(t *testing.T) {
	e, err := NewEngine(0, 0)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opt  string
		want string
	}{
		{"explicit language wins", "de", "de"},
		{"auto keeps detected", "auto", "en"},
		{"empty keeps detected", "", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &windowModel{results: []domain.Result{{Text: "x", Language: "en"}}}
			res, err := e.Run(m, seconds(1), domain.Options{Language: tt.opt}, nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Language != tt.want {
				t.Errorf("Language = %q, want %q", res.Language, tt.want)
			}
		})
	}
}

func TestRunWrapsModelError(t *testing.T) {
	e, err := NewEngine(2, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	m := &windowModel{failAt: 2}

	_, err = e.Run(m, seconds(4), domain.Options{}, nil)
	var trErr *domain.TranscriptionError
	if !errors.As(err, &trErr) {
		t.Fatalf("error = %T, want *domain.TranscriptionError", err)
	}
	if trErr.Err == nil {
		t.Error("TranscriptionError should wrap the model's error")
	}
}
