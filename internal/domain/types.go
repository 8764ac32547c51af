// Package domain holds the shared vocabulary of the transcription core:
// sample formats, model specs, results, progress events, and the error
// taxonomy. Every other package speaks in these types.
package domain

// SampleRate is the fixed sample rate (Hz) of all PCM handed to the engine.
const SampleRate = 16000

// Device is the compute backend inference runs on.
type Device string

const (
	// DeviceAccelerated uses a hardware execution provider (GPU / ANE).
	DeviceAccelerated Device = "accelerated"
	// DeviceCPU is the generic fallback backend.
	DeviceCPU Device = "cpu"
)

// ModelSpec identifies one speech model variant bound to a compute device.
// It is immutable once a load request is issued.
type ModelSpec struct {
	ID     string `json:"id"`
	Device Device `json:"device"`
}

// String keys the cached loaded-model instance.
func (s ModelSpec) String() string {
	return s.ID + "@" + string(s.Device)
}

// Options are per-job transcription settings.
type Options struct {
	// Language is a language hint ("en", ...), "auto", or empty for auto.
	Language string
	// Translate asks the model to translate the transcript to English.
	Translate bool
	// Timestamps requests word-level timestamped chunks in the result.
	Timestamps bool
}

// Chunk is one timestamped fragment of the transcript. Times are seconds
// from the start of the input audio.
type Chunk struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the immutable outcome of one completed transcription job.
type Result struct {
	Text     string  `json:"text"`
	Chunks   []Chunk `json:"chunks,omitempty"`
	Language string  `json:"language"`
	// Duration is the input audio length in seconds.
	Duration float64 `json:"duration"`
}

// Stage tags one progress event. Per job the observed sequence is a
// subsequence of: download* -> model-ready -> transcribing* -> complete,
// with error replacing complete on failure and nothing following either.
type Stage string

const (
	StageStarting     Stage = "starting"
	StageDownload     Stage = "model-download-progress"
	StageModelReady   Stage = "model-ready"
	StageTranscribing Stage = "transcribing"
	StageComplete     Stage = "complete"
	StageError        Stage = "error"
)

// Progress is the tagged event union delivered to OnProgress callbacks.
// Only the fields relevant to the Stage are set.
type Progress struct {
	Stage Stage

	// Download fields: cumulative bytes per model weight file.
	File   string
	Loaded int64
	Total  int64

	// Transcribing: monotonically non-decreasing within a job, 0..100.
	Percent float64

	// Terminal payloads.
	Result  *Result
	Message string
}

// ProgressFunc receives progress events. A nil ProgressFunc is allowed
// everywhere and means the caller does not care.
type ProgressFunc func(Progress)

// Emit invokes f when non-nil.
func (f ProgressFunc) Emit(p Progress) {
	if f != nil {
		f(p)
	}
}

// DeviceInfo is the reply to a probe-device request.
type DeviceInfo struct {
	Device      Device `json:"device"`
	Accelerated bool   `json:"accelerated"`
}
