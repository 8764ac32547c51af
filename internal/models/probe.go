package models

import "github.com/clipscribe/clipscribe/internal/transcribe"

// DeviceProbe detects hardware acceleration capability. The probe runs
// once per loader and its result is cached for the loader's lifetime.
type DeviceProbe interface {
	DetectAccelerated() bool
}

// RuntimeProbe feature-checks the ONNX runtime for an accelerated
// execution provider.
type RuntimeProbe struct{}

func (RuntimeProbe) DetectAccelerated() bool {
	return transcribe.ProbeAccelerated()
}

// StaticProbe reports a fixed answer. Used for explicit device overrides
// in config and for deterministic tests.
type StaticProbe bool

func (s StaticProbe) DetectAccelerated() bool { return bool(s) }
