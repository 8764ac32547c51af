package transcribe

import "fmt"

const (
	parakeetBlankID        = 1024 // blank token index for the v2 conversion
	parakeetMaxSymsPerStep = 10
	parakeetEncoderHidden  = 1024
	parakeetDecoderHidden  = 640
	parakeetLSTMLayers     = 2

	// parakeetFrameSeconds is the audio span of one encoder frame:
	// 10 ms mel hop with 8x encoder subsampling.
	parakeetFrameSeconds = 0.08
)

var parakeetDurationBins = []int32{0, 1, 2, 3, 4}

// decoderRunner runs the LSTM decoder for one step.
type decoderRunner interface {
	runDecoder(targetID int32, hIn, cIn []float32) (decoderOut, hOut, cOut []float32, err error)
}

// jointRunner runs the joint decision network for one step.
type jointRunner interface {
	runJoint(encoderStep, decoderStep []float32) (tokenID, duration int32, err error)
}

// tokenEvent is one emitted token and the encoder frame it was emitted at,
// which anchors its timestamp.
type tokenEvent struct {
	id    int32
	frame int
}

// tdtDecode runs the TDT greedy decode algorithm over encoder output frames.
// encoderOutput shape: [T, encoderHidden] flattened.
// encoderLength: number of valid frames.
// Returns emitted token events (blank tokens excluded) in order.
func tdtDecode(
	encoderOutput []float32,
	encoderLength int,
	dec decoderRunner,
	joint jointRunner,
) ([]tokenEvent, error) {
	// Initialize LSTM state (zeros)
	lstmStateSize := parakeetLSTMLayers * parakeetDecoderHidden
	hState := make([]float32, lstmStateSize)
	cState := make([]float32, lstmStateSize)

	// Initial decoder run with blank token
	decoderOut, hState, cState, err := dec.runDecoder(int32(parakeetBlankID), hState, cState)
	if err != nil {
		return nil, fmt.Errorf("initial decoder run: %w", err)
	}

	var events []tokenEvent
	t := 0

	for t < encoderLength {
		frameStart := t * parakeetEncoderHidden
		encoderFrame := encoderOutput[frameStart : frameStart+parakeetEncoderHidden]

		symCount := 0
		for symCount < parakeetMaxSymsPerStep {
			tokenID, durIdx, err := joint.runJoint(encoderFrame, decoderOut)
			if err != nil {
				return nil, fmt.Errorf("joint at frame %d: %w", t, err)
			}

			dur := parakeetDurationBins[durIdx]

			if tokenID == parakeetBlankID {
				if dur == 0 {
					dur = 1 // prevent infinite loop
				}
				t += int(dur)
				break
			}

			// Non-blank: emit token, update decoder state
			events = append(events, tokenEvent{id: tokenID, frame: t})
			decoderOut, hState, cState, err = dec.runDecoder(tokenID, hState, cState)
			if err != nil {
				return nil, fmt.Errorf("decoder at frame %d: %w", t, err)
			}

			if dur > 0 {
				t += int(dur)
				break
			}

			symCount++
		}

		if symCount >= parakeetMaxSymsPerStep {
			t++
		}
	}

	return events, nil
}
