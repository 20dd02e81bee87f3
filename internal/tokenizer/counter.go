// Package tokenizer counts tokens with a character-length fallback.
//
// DESIGN: Exact counts come from tiktoken. When the encoding cannot be
// loaded (offline start, unknown encoding) or counting fails, the counter
// degrades to ceil(len/3.35) instead of propagating an error: accounting must
// never block or fail a generation, at worst it undercounts.
package tokenizer

import (
	"context"
	"math"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/tokenledger/token-ledger/internal/config"
)

// DefaultEncoding is the tiktoken encoding used for counting.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text. The zero value is usable and always uses
// the heuristic.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// New creates a Counter backed by the named tiktoken encoding. If the
// encoding cannot be loaded the counter still works via the heuristic.
func New(encoding string) *Counter {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Msg("tokenizer: encoding unavailable, using heuristic")
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the token count for text. It never returns an error; on any
// failure it falls back to Estimate. The context is honored between chunks
// only in the sense that callers may already be cancelled; counting itself
// is CPU-bound and short.
func (c *Counter) Count(ctx context.Context, text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.enc == nil {
		return Estimate(text)
	}
	if err := ctx.Err(); err != nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimate returns the character-length heuristic count: ceil(len/3.35).
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / config.TokenEstimateRatio))
}
