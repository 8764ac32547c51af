//go:build !whisper

package transcribe

import (
	"fmt"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// NewWhisperModel is the placeholder used when the binary is built without
// the whisper.cpp bindings. Build with -tags whisper (and the
// third_party/whisper.cpp submodule checked out) to enable the backend.
func NewWhisperModel(modelDir string) (*whisperStub, error) {
	return nil, fmt.Errorf("whisper backend not compiled in: rebuild with -tags whisper (model dir: %s)", modelDir)
}

// whisperStub satisfies the Model interface for the untagged build.
type whisperStub struct{}

func (w *whisperStub) Transcribe([]float32, domain.Options) (domain.Result, error) {
	return domain.Result{}, fmt.Errorf("whisper backend not compiled in")
}

func (w *whisperStub) Close() error { return nil }
