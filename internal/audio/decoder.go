// Package audio converts arbitrary media files and microphone input into
// the fixed PCM format the speech engine consumes: mono, 16 kHz, float32.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	// Run executes one command and returns captured stderr for error context.
	Run(ctx context.Context, name string, args ...string) (stderr string, err error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	err := cmd.Run()
	return errBuf.String(), err
}

// Decoder turns an audio or video file into a mono 16 kHz float32 buffer.
// Container and codec handling is delegated to ffmpeg; downmixing and
// resampling happen in-process so they are deterministic and testable.
type Decoder struct {
	ffmpegPath string
	runner     commandRunner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
}

// NewDecoder constructs the production decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		ffmpegPath: "ffmpeg",
		runner:     execRunner{},
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
	}
}

// NewDecoderForTests constructs a decoder with injectable dependencies.
func NewDecoderForTests(ffmpegPath string, runner commandRunner) *Decoder {
	return &Decoder{
		ffmpegPath: ffmpegPath,
		runner:     runner,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
	}
}

// Decode reads a media file (audio, or video with an audio track), decodes
// it at its native sample rate and channel count, then downmixes and
// resamples to mono 16 kHz. Corrupt, unsupported, or zero-duration input
// fails with a DecodeError; no partial buffer is ever returned.
func (d *Decoder) Decode(ctx context.Context, path string) ([]float32, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &domain.DecodeError{Message: "cannot access input", Err: err}
	}
	if info.Size() == 0 {
		return nil, &domain.DecodeError{Message: "input file is empty"}
	}

	// WAV input skips the ffmpeg pass. The extension is only a hint: a
	// mislabeled container falls through to ffmpeg, which decides from
	// the actual content.
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		if samples, err := d.decodeWAVPath(path); err == nil {
			return samples, nil
		}
	}

	tmpDir, err := d.mkdirTemp("", "clipscribe-decode-*")
	if err != nil {
		return nil, &domain.DecodeError{Message: "creating temp workspace", Err: err}
	}
	defer func() { _ = d.removeAll(tmpDir) }()

	outPath := filepath.Join(tmpDir, "native.wav")
	// -vn drops video streams, so the same invocation extracts the audio
	// track from video containers. Rate and channel count stay native;
	// downmix and resample happen in Go.
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", path,
		"-vn",
		"-acodec", "pcm_s16le",
		outPath,
	}

	stderr, runErr := d.runner.Run(ctx, d.ffmpegPath, args...)
	if runErr != nil {
		return nil, &domain.DecodeError{
			Message: fmt.Sprintf("ffmpeg failed: %s", lastLine(stderr)),
			Err:     runErr,
		}
	}

	return d.decodeWAVPath(outPath)
}

// decodeWAVPath parses a WAV file and converts it to mono 16 kHz.
func (d *Decoder) decodeWAVPath(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.DecodeError{Message: "opening decoded audio", Err: err}
	}
	defer f.Close()

	samples, rate, channels, err := DecodeWAV(f)
	if err != nil {
		return nil, err
	}
	return ToPCM(samples, rate, channels)
}

// DecodeWAV parses WAV data into interleaved float32 samples normalized to
// [-1, 1], returning the native sample rate and channel count.
func DecodeWAV(r io.ReadSeeker) ([]float32, int, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, 0, &domain.DecodeError{Message: "not a valid WAV file"}
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, &domain.DecodeError{Message: "reading PCM data", Err: err}
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, 0, &domain.DecodeError{Message: "audio contains no samples"}
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	samples := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = float32(s) / scale
	}

	return samples, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

// ToPCM downmixes interleaved samples to mono by averaging channels and
// resamples to the engine rate. Mono input already at 16 kHz is returned
// unchanged. The resampled length is ceil(frames * 16000 / rate).
func ToPCM(samples []float32, rate, channels int) ([]float32, error) {
	if rate <= 0 || channels <= 0 {
		return nil, &domain.DecodeError{
			Message: fmt.Sprintf("invalid format: %d Hz, %d channels", rate, channels),
		}
	}
	if len(samples) == 0 {
		return nil, &domain.DecodeError{Message: "audio contains no samples"}
	}

	mono := downmixMono(samples, channels)
	out := resampleLinear(mono, rate, domain.SampleRate)
	if len(out) == 0 {
		return nil, &domain.DecodeError{Message: "audio contains no samples"}
	}
	return out, nil
}

// lastLine extracts the final non-empty line of command output, which is
// where ffmpeg puts its actual error.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
