package transcribe

import (
	"fmt"
	"strings"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// Default chunking constants. Long audio is windowed so the model's input
// limit is respected and memory stays bounded; consecutive windows overlap
// so words on a boundary are not cut in half.
const (
	DefaultChunkSeconds   = 15.0
	DefaultOverlapSeconds = 2.0
)

// Engine windows long audio, runs a loaded Model per window, and merges
// the per-window results into one transcript. It never loads models.
type Engine struct {
	chunkSamples  int
	strideSamples int
}

// NewEngine creates an engine with the given window length and overlap in
// seconds. A zero chunk length selects the defaults for both values; a
// custom chunk length with zero overlap runs without overlap.
func NewEngine(chunkSeconds, overlapSeconds float64) (*Engine, error) {
	if chunkSeconds == 0 {
		chunkSeconds = DefaultChunkSeconds
		if overlapSeconds == 0 {
			overlapSeconds = DefaultOverlapSeconds
		}
	}
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("engine: chunk length must be > 0, got %g", chunkSeconds)
	}
	if overlapSeconds < 0 || overlapSeconds >= chunkSeconds {
		return nil, fmt.Errorf("engine: overlap must be in [0, chunk), got %g", overlapSeconds)
	}

	chunk := int(chunkSeconds * domain.SampleRate)
	overlap := int(overlapSeconds * domain.SampleRate)
	return &Engine{
		chunkSamples:  chunk,
		strideSamples: chunk - overlap,
	}, nil
}

// Run transcribes the full PCM buffer through the model. Progress is
// reported as transcribing percentages: 0 at start, one update per
// finished window, and 100 immediately before the result. Reported
// percentages are monotonically non-decreasing. Any inference error fails
// the job with a TranscriptionError and leaves the model reusable.
func (e *Engine) Run(m Model, samples []float32, opts domain.Options, emit domain.ProgressFunc) (domain.Result, error) {
	if len(samples) == 0 {
		return domain.Result{}, &domain.TranscriptionError{Message: "empty audio buffer"}
	}

	total := e.windowCount(len(samples))
	emit.Emit(domain.Progress{Stage: domain.StageTranscribing, Percent: 0})

	var texts []string
	var chunks []domain.Chunk
	language := ""
	lastEnd := -1.0

	for i := 0; i < total; i++ {
		start := i * e.strideSamples
		end := start + e.chunkSamples
		if end > len(samples) {
			end = len(samples)
		}

		res, err := m.Transcribe(samples[start:end], opts)
		if err != nil {
			return domain.Result{}, &domain.TranscriptionError{
				Message: fmt.Sprintf("window %d/%d failed", i+1, total),
				Err:     err,
			}
		}

		if text := strings.TrimSpace(res.Text); text != "" {
			texts = append(texts, text)
		}
		if language == "" && res.Language != "" {
			language = res.Language
		}

		// Shift window-relative timestamps to absolute positions and
		// drop fragments already covered by the previous window's span.
		offset := float64(start) / float64(domain.SampleRate)
		for _, c := range res.Chunks {
			abs := domain.Chunk{Start: c.Start + offset, End: c.End + offset, Text: c.Text}
			if abs.End <= lastEnd {
				continue
			}
			chunks = append(chunks, abs)
			lastEnd = abs.End
		}

		if i+1 < total {
			emit.Emit(domain.Progress{
				Stage:   domain.StageTranscribing,
				Percent: float64(i+1) / float64(total) * 100,
			})
		}
	}

	emit.Emit(domain.Progress{Stage: domain.StageTranscribing, Percent: 100})

	if lang := strings.ToLower(opts.Language); lang != "" && lang != "auto" {
		language = lang
	}

	result := domain.Result{
		Text:     strings.Join(texts, " "),
		Language: language,
		Duration: float64(len(samples)) / float64(domain.SampleRate),
	}
	if opts.Timestamps {
		result.Chunks = chunks
	}
	return result, nil
}

// windowCount returns how many windows cover n samples.
func (e *Engine) windowCount(n int) int {
	if n <= e.chunkSamples {
		return 1
	}
	count := 1
	for start := e.strideSamples; start < n; start += e.strideSamples {
		count++
	}
	return count
}
