package transcribe

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// ONNXRuntimeEnv overrides the onnxruntime shared library location.
const ONNXRuntimeEnv = "CLIPSCRIBE_ONNXRUNTIME"

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// EnsureRuntime initializes the process-wide ONNX Runtime environment
// exactly once. Safe to call from any goroutine.
func EnsureRuntime() error {
	runtimeOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if path := os.Getenv(ONNXRuntimeEnv); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			runtimeErr = fmt.Errorf("initializing onnxruntime: %w", err)
		}
	})
	return runtimeErr
}

// ProbeAccelerated reports whether a hardware execution provider can be
// enabled in this process. The check builds (and immediately discards) a
// set of accelerated session options; failure of any step means the
// generic CPU backend is the only option.
func ProbeAccelerated() bool {
	if EnsureRuntime() != nil {
		return false
	}
	opts, err := newSessionOptions(domain.DeviceAccelerated)
	if err != nil {
		return false
	}
	opts.Destroy()
	return true
}

// newSessionOptions builds session options for the chosen device. The
// accelerated path appends a hardware execution provider; the CPU path
// keeps the defaults.
func newSessionOptions(device domain.Device) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}

	if device != domain.DeviceAccelerated {
		return opts, nil
	}

	if runtime.GOOS == "darwin" {
		if err := opts.AppendExecutionProviderCoreML(0); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("enabling CoreML provider: %w", err)
		}
		return opts, nil
	}

	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("creating CUDA provider options: %w", err)
	}
	defer cudaOpts.Destroy()

	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("enabling CUDA provider: %w", err)
	}
	return opts, nil
}
