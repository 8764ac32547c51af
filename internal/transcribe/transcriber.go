// Package transcribe provides speech-to-text backends and the chunking
// engine that runs them over long audio.
//
// Supported backends:
//   - parakeet-tdt: Parakeet TDT 0.6B v2 via ONNX Runtime (default)
//   - whisper-ggml: whisper.cpp via Go bindings (requires -tags whisper)
package transcribe

import (
	"fmt"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// Model is a loaded, device-bound inference handle. Implementations are
// not reentrant: at most one Transcribe call may be active per Model.
type Model interface {
	// Transcribe converts mono 16 kHz float32 samples to a result. The
	// samples must fit in one model window; longer audio goes through
	// the Engine, which windows and merges.
	Transcribe(samples []float32, opts domain.Options) (domain.Result, error)
	// Close releases backend resources.
	Close() error
}

// New creates a Model for the named backend with weights from modelDir.
func New(backend, modelDir string, device domain.Device) (Model, error) {
	switch backend {
	case "parakeet-tdt":
		return NewParakeetModel(modelDir, device)
	case "whisper-ggml":
		return NewWhisperModel(modelDir)
	default:
		return nil, fmt.Errorf("transcribe: unknown backend %q (supported: parakeet-tdt, whisper-ggml)", backend)
	}
}
