package chunk

import (
	"context"
	"strings"

	"github.com/tracemap/cartograph/pkg/common"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultChunkSize is the span size in tokens used when no size is
	// configured.
	DefaultChunkSize = 512
	// DefaultOverlap is the number of tokens shared between consecutive
	// spans when no overlap is configured.
	DefaultOverlap = 50

	defaultEncoding = "cl100k_base"
)

// Span is one contiguous piece of a document's content. Spans are ordered by
// Index and consecutive spans share the configured token overlap.
type Span struct {
	Index      int
	Text       string
	TokenCount int
}

// Splitter turns raw document content into an ordered sequence of spans.
type Splitter interface {
	Split(ctx context.Context, text string) ([]Span, error)
}

// Encoder converts between text and token ids. The default implementation is
// backed by tiktoken.
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// TokenSplitter splits text into fixed-size token windows with an overlap
// between consecutive windows. The final window may be shorter than the
// configured size.
//
// A TokenSplitter should be created using NewTokenSplitter.
type TokenSplitter struct {
	encoder   Encoder
	chunkSize int
	overlap   int
}

// NewTokenSplitterParams defines the configuration parameters for creating
// a new TokenSplitter.
//
// TokenEncoder names the tiktoken encoding used for counting, for example
// "cl100k_base" or "o200k_base". Encoder, when set, replaces the tiktoken
// lookup entirely. ChunkSize is the maximum number of tokens per span and
// Overlap is the number of tokens repeated at the start of the next span;
// Overlap must stay below ChunkSize.
type NewTokenSplitterParams struct {
	TokenEncoder string
	ChunkSize    int
	Overlap      int
	Encoder      Encoder
}

// NewTokenSplitter creates and returns a new TokenSplitter configured with
// the provided parameters.
func NewTokenSplitter(params NewTokenSplitterParams) (*TokenSplitter, error) {
	chunkSize := params.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	overlap := params.Overlap
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= chunkSize {
		return nil, &common.ValidationError{
			Field:  "Overlap",
			Reason: "must be smaller than ChunkSize",
		}
	}

	encoder := params.Encoder
	if encoder == nil {
		name := params.TokenEncoder
		if name == "" {
			name = defaultEncoding
		}
		enc, err := tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
		encoder = &tiktokenEncoder{enc: enc}
	}

	s := &TokenSplitter{
		encoder:   encoder,
		chunkSize: chunkSize,
		overlap:   overlap,
	}

	return s, nil
}

func (s *TokenSplitter) Split(ctx context.Context, text string) ([]Span, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	tokens := s.encoder.Encode(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	step := s.chunkSize - s.overlap
	var spans []Span

	for start := 0; start < len(tokens); start += step {
		end := min(start+s.chunkSize, len(tokens))
		window := tokens[start:end]

		spanText := strings.TrimSpace(s.encoder.Decode(window))
		if spanText != "" {
			spans = append(spans, Span{
				Index:      len(spans),
				Text:       spanText,
				TokenCount: len(window),
			})
		}

		// A window ending at the last token already covers the rest of
		// the text; stepping again would only re-emit its tail.
		if end == len(tokens) {
			break
		}
	}

	return spans, nil
}

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenEncoder) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenEncoder) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}
