// Package models resolves, downloads, and loads speech model weights.
package models

import (
	"fmt"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// DefaultModelID is used when the caller does not pick a model.
const DefaultModelID = "parakeet-tdt-0.6b-v2"

const (
	parakeetRepo = "https://huggingface.co/FluidInference/parakeet-tdt-0.6b-v2-onnx/resolve/main/"
	whisperRepo  = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"
)

// File is one downloadable model artifact.
type File struct {
	Name string
	URL  string
}

// Info describes a model variant in the catalog: which transcribe backend
// runs it and which files each compute device needs.
type Info struct {
	ID      string
	Backend string
	// Files are needed on every device (vocabularies, fp32 preprocessor).
	Files []File
	// DeviceFiles are the precision-specific weights per device. The CPU
	// set uses int8 quantization to bound memory and load time.
	DeviceFiles map[domain.Device][]File
}

// FilesFor returns everything the given device needs, common files first.
func (i Info) FilesFor(device domain.Device) []File {
	out := make([]File, 0, len(i.Files)+len(i.DeviceFiles[device]))
	out = append(out, i.Files...)
	out = append(out, i.DeviceFiles[device]...)
	return out
}

// Catalog maps model IDs to their descriptions.
type Catalog map[string]Info

// Lookup resolves a model ID, failing with a ModelLoadError for unknown IDs.
func (c Catalog) Lookup(id string) (Info, error) {
	info, ok := c[id]
	if !ok {
		return Info{}, &domain.ModelLoadError{
			Spec:    domain.ModelSpec{ID: id},
			Message: fmt.Sprintf("unknown model (known: %s)", c.ids()),
		}
	}
	return info, nil
}

func (c Catalog) ids() string {
	s := ""
	for id := range c {
		if s != "" {
			s += ", "
		}
		s += id
	}
	return s
}

// DefaultCatalog returns the built-in model catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		"parakeet-tdt-0.6b-v2": {
			ID:      "parakeet-tdt-0.6b-v2",
			Backend: "parakeet-tdt",
			Files: []File{
				{Name: "Preprocessor.onnx", URL: parakeetRepo + "Preprocessor.onnx"},
				{Name: "parakeet_vocab.json", URL: parakeetRepo + "parakeet_vocab.json"},
			},
			DeviceFiles: map[domain.Device][]File{
				domain.DeviceAccelerated: {
					{Name: "Encoder.onnx", URL: parakeetRepo + "Encoder.onnx"},
					{Name: "Decoder.onnx", URL: parakeetRepo + "Decoder.onnx"},
					{Name: "JointDecision.onnx", URL: parakeetRepo + "JointDecision.onnx"},
				},
				domain.DeviceCPU: {
					{Name: "Encoder.int8.onnx", URL: parakeetRepo + "Encoder.int8.onnx"},
					{Name: "Decoder.int8.onnx", URL: parakeetRepo + "Decoder.int8.onnx"},
					{Name: "JointDecision.int8.onnx", URL: parakeetRepo + "JointDecision.int8.onnx"},
				},
			},
		},
		"whisper-base.en": {
			ID:      "whisper-base.en",
			Backend: "whisper-ggml",
			Files: []File{
				{Name: "ggml-base.en.bin", URL: whisperRepo + "ggml-base.en.bin"},
			},
		},
	}
}
