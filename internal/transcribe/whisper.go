//go:build whisper

package transcribe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// WhisperModel wraps a whisper.cpp ggml model.
type WhisperModel struct {
	model whisper.Model
}

// NewWhisperModel loads the ggml weights found in modelDir.
func NewWhisperModel(modelDir string) (*WhisperModel, error) {
	path, err := findGGML(modelDir)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	return &WhisperModel{model: model}, nil
}

// Close releases the whisper model resources.
func (w *WhisperModel) Close() error {
	if w.model != nil {
		return w.model.Close()
	}
	return nil
}

// Transcribe converts one window of mono 16 kHz float32 samples to text
// with segment timestamps.
func (w *WhisperModel) Transcribe(samples []float32, opts domain.Options) (domain.Result, error) {
	ctx, err := w.model.NewContext()
	if err != nil {
		return domain.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := strings.ToLower(opts.Language)
	if lang == "" {
		lang = "auto"
	}
	if err := ctx.SetLanguage(lang); err != nil {
		return domain.Result{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}
	ctx.SetTranslate(opts.Translate)

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return domain.Result{}, fmt.Errorf("whisper: process: %w", err)
	}

	var texts []string
	var chunks []domain.Chunk
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.Result{}, fmt.Errorf("whisper: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		chunks = append(chunks, domain.Chunk{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		})
	}

	detected := lang
	if lang == "auto" {
		detected = ctx.DetectedLanguage()
	}

	result := domain.Result{
		Text:     strings.Join(texts, " "),
		Language: detected,
		Duration: float64(len(samples)) / float64(domain.SampleRate),
	}
	if opts.Timestamps {
		result.Chunks = chunks
	}
	return result, nil
}

// findGGML locates the ggml weight file in a model directory. When the
// directory holds several, the lexicographically first wins.
func findGGML(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading model directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in %s", dir)
	}

	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}
