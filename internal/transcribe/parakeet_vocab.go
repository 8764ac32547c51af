package transcribe

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/clipscribe/clipscribe/internal/domain"
)

// loadVocabulary reads parakeet_vocab.json and returns a token ID -> string
// mapping. The JSON format is {"0": "▁the", "1": "▁a", ...} where keys are
// string token IDs.
func loadVocabulary(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing vocabulary JSON: %w", err)
	}

	maxID := 0
	for k := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("invalid token ID %q: %w", k, err)
		}
		if id > maxID {
			maxID = id
		}
	}

	vocab := make([]string, maxID+1)
	for k, v := range raw {
		id, _ := strconv.Atoi(k)
		vocab[id] = v
	}

	return vocab, nil
}

// assembleWords converts a sequence of token events into the transcript
// text and word-level timestamped chunks. SentencePiece "▁" markers open a
// new word; a word spans from the frame of its first token to the frame
// after its last token.
func assembleWords(events []tokenEvent, vocab []string) (string, []domain.Chunk) {
	var chunks []domain.Chunk
	var word strings.Builder
	wordStart := 0
	lastFrame := 0

	flush := func() {
		if word.Len() == 0 {
			return
		}
		chunks = append(chunks, domain.Chunk{
			Start: float64(wordStart) * parakeetFrameSeconds,
			End:   float64(lastFrame+1) * parakeetFrameSeconds,
			Text:  word.String(),
		})
		word.Reset()
	}

	for _, ev := range events {
		if int(ev.id) >= len(vocab) {
			continue
		}
		piece := vocab[ev.id]
		if piece == "" {
			continue
		}

		if strings.HasPrefix(piece, "▁") {
			flush()
			wordStart = ev.frame
			piece = strings.TrimPrefix(piece, "▁")
		}
		word.WriteString(piece)
		lastFrame = ev.frame
	}
	flush()

	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, " "), chunks
}
