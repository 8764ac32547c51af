package transcribe

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/clipscribe/clipscribe/internal/domain"
)

const parakeetMaxSamples = 240000 // 15s at 16kHz

// parakeetWeights maps each pipeline stage to its ONNX file. The CPU
// device uses int8-quantized weights to bound memory and load time; the
// preprocessor (mel spectrogram) always runs fp32 on CPU, where it is
// faster anyway.
func parakeetWeights(device domain.Device) map[string]string {
	suffix := ".onnx"
	if device == domain.DeviceCPU {
		suffix = ".int8.onnx"
	}
	return map[string]string{
		"preprocessor": "Preprocessor.onnx",
		"encoder":      "Encoder" + suffix,
		"decoder":      "Decoder" + suffix,
		"joint":        "JointDecision" + suffix,
	}
}

// ParakeetModel runs Parakeet TDT 0.6B v2 via ONNX Runtime.
type ParakeetModel struct {
	preprocessor *ort.DynamicAdvancedSession
	encoder      *ort.DynamicAdvancedSession
	decoder      *ort.DynamicAdvancedSession
	joint        *ort.DynamicAdvancedSession
	vocab        []string
}

// NewParakeetModel loads the 4 ONNX sessions and vocabulary from modelDir.
func NewParakeetModel(modelDir string, device domain.Device) (*ParakeetModel, error) {
	if err := EnsureRuntime(); err != nil {
		return nil, fmt.Errorf("parakeet: %w", err)
	}

	vocab, err := loadVocabulary(filepath.Join(modelDir, "parakeet_vocab.json"))
	if err != nil {
		return nil, fmt.Errorf("parakeet: %w", err)
	}

	weights := parakeetWeights(device)

	// Preprocessor stays on CPU regardless of device.
	cpuOpts, err := newSessionOptions(domain.DeviceCPU)
	if err != nil {
		return nil, fmt.Errorf("parakeet: %w", err)
	}
	defer cpuOpts.Destroy()

	preprocessor, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, weights["preprocessor"]),
		[]string{"audio_signal", "audio_length"},
		[]string{"features", "features_length"},
		cpuOpts,
	)
	if err != nil {
		return nil, fmt.Errorf("parakeet: load preprocessor: %w", err)
	}

	opts, err := newSessionOptions(device)
	if err != nil {
		preprocessor.Destroy()
		return nil, fmt.Errorf("parakeet: %w", err)
	}
	defer opts.Destroy()

	encoder, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, weights["encoder"]),
		[]string{"features", "features_length"},
		[]string{"encoder", "encoder_length"},
		opts,
	)
	if err != nil {
		preprocessor.Destroy()
		return nil, fmt.Errorf("parakeet: load encoder: %w", err)
	}

	decoder, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, weights["decoder"]),
		[]string{"targets", "target_length", "h_in", "c_in"},
		[]string{"decoder", "h_out", "c_out"},
		opts,
	)
	if err != nil {
		preprocessor.Destroy()
		encoder.Destroy()
		return nil, fmt.Errorf("parakeet: load decoder: %w", err)
	}

	joint, err := ort.NewDynamicAdvancedSession(
		filepath.Join(modelDir, weights["joint"]),
		[]string{"encoder_step", "decoder_step"},
		[]string{"token_id", "duration"},
		opts,
	)
	if err != nil {
		preprocessor.Destroy()
		encoder.Destroy()
		decoder.Destroy()
		return nil, fmt.Errorf("parakeet: load joint: %w", err)
	}

	slog.Debug("parakeet sessions loaded", "dir", modelDir, "device", device)

	return &ParakeetModel{
		preprocessor: preprocessor,
		encoder:      encoder,
		decoder:      decoder,
		joint:        joint,
		vocab:        vocab,
	}, nil
}

// Close releases all ONNX session resources.
func (p *ParakeetModel) Close() error {
	for _, s := range []*ort.DynamicAdvancedSession{p.preprocessor, p.encoder, p.decoder, p.joint} {
		if s != nil {
			s.Destroy()
		}
	}
	return nil
}

// Transcribe converts one window of mono 16 kHz float32 samples to text.
// The backend is English-only: explicit non-English languages and the
// translate flag are rejected.
func (p *ParakeetModel) Transcribe(samples []float32, opts domain.Options) (domain.Result, error) {
	if opts.Translate {
		return domain.Result{}, fmt.Errorf("parakeet: translation is not supported by this backend")
	}
	switch strings.ToLower(opts.Language) {
	case "", "auto", "en", "english":
	default:
		return domain.Result{}, fmt.Errorf("parakeet: unsupported language %q (backend is English-only)", opts.Language)
	}

	padded := padAudio(samples, parakeetMaxSamples)

	encoderOutput, encoderLength, err := p.encode(padded)
	if err != nil {
		return domain.Result{}, err
	}

	slog.Debug("parakeet encoder", "frames", encoderLength, "totalFloats", len(encoderOutput))

	events, err := tdtDecode(encoderOutput, encoderLength, p, p)
	if err != nil {
		return domain.Result{}, fmt.Errorf("parakeet: decode: %w", err)
	}

	text, chunks := assembleWords(events, p.vocab)
	result := domain.Result{
		Text:     text,
		Language: "en",
		Duration: float64(len(samples)) / float64(domain.SampleRate),
	}
	if opts.Timestamps {
		result.Chunks = chunks
	}
	return result, nil
}

// encode runs preprocessor + encoder and returns the hidden states
// transposed to [T, H] flat layout plus the number of valid frames.
func (p *ParakeetModel) encode(audio []float32) ([]float32, int, error) {
	audioTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(audio))), audio)
	if err != nil {
		return nil, 0, fmt.Errorf("parakeet: create audio tensor: %w", err)
	}
	defer audioTensor.Destroy()

	audioLen, err := ort.NewTensor(ort.NewShape(1), []int32{int32(len(audio))})
	if err != nil {
		return nil, 0, fmt.Errorf("parakeet: create audio_length tensor: %w", err)
	}
	defer audioLen.Destroy()

	prepOut := make([]ort.Value, 2)
	if err := p.preprocessor.Run([]ort.Value{audioTensor, audioLen}, prepOut); err != nil {
		return nil, 0, fmt.Errorf("parakeet: preprocessor: %w", err)
	}
	defer destroyValues(prepOut)

	encOut := make([]ort.Value, 2)
	if err := p.encoder.Run(prepOut, encOut); err != nil {
		return nil, 0, fmt.Errorf("parakeet: encoder: %w", err)
	}
	defer destroyValues(encOut)

	encoderTensor, ok := encOut[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, fmt.Errorf("parakeet: encoder output has unexpected type %T", encOut[0])
	}

	// Encoder output shape: [1, H, T]
	shape := encoderTensor.GetShape()
	if len(shape) != 3 {
		return nil, 0, fmt.Errorf("parakeet: encoder output has rank %d, expected 3", len(shape))
	}
	H := int(shape[1])
	T := int(shape[2])

	encoderLength := T
	if lengthTensor, ok := encOut[1].(*ort.Tensor[int32]); ok {
		if data := lengthTensor.GetData(); len(data) > 0 {
			encoderLength = int(data[0])
		}
	}
	if encoderLength > T {
		encoderLength = T
	}

	// The decode loop indexes frames as [t*H + h]; transpose [H, T] -> [T, H].
	src := encoderTensor.GetData()
	encoderData := make([]float32, H*T)
	for h := 0; h < H; h++ {
		for t := 0; t < T; t++ {
			encoderData[t*H+h] = src[h*T+t]
		}
	}

	return encoderData, encoderLength, nil
}

// Ensure ParakeetModel implements decoderRunner and jointRunner.
var _ decoderRunner = (*ParakeetModel)(nil)
var _ jointRunner = (*ParakeetModel)(nil)

// runDecoder runs the LSTM decoder for one step.
func (p *ParakeetModel) runDecoder(targetID int32, hIn, cIn []float32) (decoderOut, hOut, cOut []float32, err error) {
	targets, err := ort.NewTensor(ort.NewShape(1, 1), []int32{targetID})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create targets tensor: %w", err)
	}
	defer targets.Destroy()

	targetLen, err := ort.NewTensor(ort.NewShape(1), []int32{1})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create target_length tensor: %w", err)
	}
	defer targetLen.Destroy()

	stateShape := ort.NewShape(parakeetLSTMLayers, 1, parakeetDecoderHidden)
	hTensor, err := ort.NewTensor(stateShape, hIn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create h_in tensor: %w", err)
	}
	defer hTensor.Destroy()

	cTensor, err := ort.NewTensor(stateShape, cIn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create c_in tensor: %w", err)
	}
	defer cTensor.Destroy()

	out := make([]ort.Value, 3)
	if err := p.decoder.Run([]ort.Value{targets, targetLen, hTensor, cTensor}, out); err != nil {
		return nil, nil, nil, fmt.Errorf("predict: %w", err)
	}
	defer destroyValues(out)

	decoderOut, err = copyFloat32(out[0], parakeetDecoderHidden)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decoder output: %w", err)
	}
	lstmStateSize := parakeetLSTMLayers * parakeetDecoderHidden
	hOut, err = copyFloat32(out[1], lstmStateSize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("h_out: %w", err)
	}
	cOut, err = copyFloat32(out[2], lstmStateSize)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("c_out: %w", err)
	}

	return decoderOut, hOut, cOut, nil
}

// runJoint runs the joint decision network for one step.
func (p *ParakeetModel) runJoint(encoderStep, decoderStep []float32) (tokenID, duration int32, err error) {
	encStep := make([]float32, parakeetEncoderHidden)
	copy(encStep, encoderStep)
	encTensor, err := ort.NewTensor(ort.NewShape(1, parakeetEncoderHidden, 1), encStep)
	if err != nil {
		return 0, 0, fmt.Errorf("create encoder_step tensor: %w", err)
	}
	defer encTensor.Destroy()

	decStep := make([]float32, parakeetDecoderHidden)
	copy(decStep, decoderStep)
	decTensor, err := ort.NewTensor(ort.NewShape(1, parakeetDecoderHidden, 1), decStep)
	if err != nil {
		return 0, 0, fmt.Errorf("create decoder_step tensor: %w", err)
	}
	defer decTensor.Destroy()

	out := make([]ort.Value, 2)
	if err := p.joint.Run([]ort.Value{encTensor, decTensor}, out); err != nil {
		return 0, 0, fmt.Errorf("predict: %w", err)
	}
	defer destroyValues(out)

	tokenID, err = scalarInt32(out[0])
	if err != nil {
		return 0, 0, fmt.Errorf("token_id: %w", err)
	}
	duration, err = scalarInt32(out[1])
	if err != nil {
		return 0, 0, fmt.Errorf("duration: %w", err)
	}

	// Clamp duration to valid range
	if duration < 0 {
		duration = 0
	}
	if int(duration) >= len(parakeetDurationBins) {
		duration = int32(len(parakeetDurationBins) - 1)
	}

	return tokenID, duration, nil
}

// padAudio pads or truncates audio to exactly maxSamples.
func padAudio(samples []float32, maxSamples int) []float32 {
	if len(samples) >= maxSamples {
		return samples[:maxSamples]
	}
	padded := make([]float32, maxSamples)
	copy(padded, samples)
	return padded
}

// copyFloat32 copies the first n float32 values out of a runtime-allocated
// output tensor.
func copyFloat32(v ort.Value, n int) ([]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected tensor type %T", v)
	}
	data := t.GetData()
	if len(data) < n {
		return nil, fmt.Errorf("tensor has %d values, need %d", len(data), n)
	}
	out := make([]float32, n)
	copy(out, data[:n])
	return out, nil
}

// scalarInt32 extracts a single int32 from an output tensor.
func scalarInt32(v ort.Value) (int32, error) {
	t, ok := v.(*ort.Tensor[int32])
	if !ok {
		return 0, fmt.Errorf("unexpected tensor type %T", v)
	}
	data := t.GetData()
	if len(data) == 0 {
		return 0, fmt.Errorf("tensor is empty")
	}
	return data[0], nil
}

// destroyValues releases runtime-allocated output tensors.
func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
