package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrChannelBusy is returned when a transcribe request arrives while the
// worker channel already has an active job. Overlapping jobs are rejected,
// never queued; the caller decides whether to retry.
var ErrChannelBusy = errors.New("transcription job already running")

// DecodeError reports unreadable, corrupt, or empty input audio.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Message, e.Err)
	}
	return "decode: " + e.Message
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ModelLoadError reports a model download or initialization failure.
type ModelLoadError struct {
	Spec    ModelSpec
	Message string
	Err     error
}

func (e *ModelLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model %s: %s: %v", e.Spec, e.Message, e.Err)
	}
	return fmt.Sprintf("model %s: %s", e.Spec, e.Message)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// TranscriptionError reports an inference-time failure. The loaded model
// remains usable for the next job.
type TranscriptionError struct {
	Message string
	Err     error
}

func (e *TranscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcription: %s: %v", e.Message, e.Err)
	}
	return "transcription: " + e.Message
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// TimeoutError reports a client-side deadline exceeded while waiting on a
// load or inference. It is a giving-up, not a worker kill: the channel
// returns to idle on its own and stays usable.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %s", e.Op, e.Timeout)
}
