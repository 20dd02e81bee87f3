// Package tracker - background.go meters direct request/response calls that
// bypass the normal message-received path (quiet generations issued by other
// subsystems).
package tracker

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tokenledger/token-ledger/internal/usage"
)

// TrackBackgroundCall meters one background model call: input is counted
// before the call is issued, output from its return value, and exactly one
// record is emitted. A tracker-wide guard prevents double counting when one
// instrumented call internally invokes another; the inner call runs
// unmetered. The guard is released in a deferred block so an error can never
// leave the tracker permanently stuck.
func (t *Tracker) TrackBackgroundCall(ctx context.Context, modelID, sourceID, prompt string, call func(context.Context) (string, error)) (string, error) {
	t.mu.Lock()
	if t.trackingBackground {
		t.mu.Unlock()
		return call(ctx)
	}
	t.trackingBackground = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.trackingBackground = false
		t.mu.Unlock()
	}()

	input := t.counter.Count(ctx, prompt)

	out, err := call(ctx)
	output := 0
	if err == nil {
		output = t.counter.Count(ctx, out)
	} else {
		// The prompt was still sent; record the consumed input.
		log.Warn().Err(err).Str("model", modelID).Msg("tracker: background call failed, recording input only")
	}

	t.store.Record(usage.Record{
		Input:    int64(input),
		Output:   int64(output),
		ChatID:   t.chat.CurrentChatID(),
		ModelID:  modelID,
		SourceID: sourceID,
	})
	return out, err
}
