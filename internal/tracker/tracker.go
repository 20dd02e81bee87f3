// Package tracker turns the host's generation-lifecycle events into exactly
// one usage record per completed (or abandoned-with-cost) exchange.
//
// DESIGN: Token counts for one logical exchange arrive at different times
// from different async sources: the prompt count starts at generate-after-
// data, the continue baseline at generation-started, the output count at
// message-received. The tracker coordinates them through a single exclusive
// genContext. Lifecycle handlers are invoked in host emission order from one
// dispatch goroutine (the bridge); the mutex exists for the background-call
// path and for ownership handoff.
//
// State machine: Idle -> AwaitingCompletion -> {Recorded | Abandoned}.
// Starting a new generation implicitly abandons an unfinished one; a chat
// change abandons unconditionally (quiet generations flush first).
//
// FILES:
//   - tracker.go:    Lifecycle handlers and finalization
//   - context.go:    genContext and countTask
//   - payload.go:    Prompt payload text extraction
//   - background.go: Quiet/background call mini-protocol
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tokenledger/token-ledger/internal/config"
	"github.com/tokenledger/token-ledger/internal/host"
	"github.com/tokenledger/token-ledger/internal/usage"
)

// Recorder is the sink for finalized exchanges. *usage.Store implements it.
type Recorder interface {
	Record(usage.Record)
}

// TokenCounter counts tokens in text. *tokenizer.Counter implements it.
type TokenCounter interface {
	Count(ctx context.Context, text string) int
}

// Tracker is the generation-lifecycle state machine.
type Tracker struct {
	store   Recorder
	counter TokenCounter
	chat    host.ChatService

	// waitTimeout bounds how long finalization waits for an in-flight
	// count task.
	waitTimeout time.Duration

	mu                 sync.Mutex
	cur                *genContext
	trackingBackground bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWaitTimeout overrides the finalization wait bound.
func WithWaitTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.waitTimeout = d }
}

// New creates a Tracker in the Idle state.
func New(store Recorder, counter TokenCounter, chat host.ChatService, opts ...Option) *Tracker {
	t := &Tracker{
		store:       store,
		counter:     counter,
		chat:        chat,
		waitTimeout: config.DefaultCountWait,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnGenerationStarted begins a new exchange. Any unfinished context is
// implicitly abandoned; its pending count results are discarded, never
// recorded later. For continue generations the current response's existing
// token count is captured as the baseline, synchronously when the host
// already knows it, otherwise as a spawned measurement that the finalize
// path joins explicitly.
func (t *Tracker) OnGenerationStarted(ctx context.Context, genType host.GenerationType) {
	gc := &genContext{
		id:        uuid.New(),
		genType:   genType,
		chatID:    t.chat.CurrentChatID(),
		startedAt: time.Now(),
	}

	if genType == host.GenContinue {
		if msg, ok := t.chat.LastMessage(); ok {
			if msg.TokenCount > 0 {
				gc.baseline = resolvedCount(msg.TokenCount)
			} else {
				text := msg.Text
				gc.baseline = spawnCount(func() int { return t.counter.Count(ctx, text) })
			}
		} else {
			gc.baseline = resolvedCount(0)
		}
	}

	t.mu.Lock()
	prev := t.cur
	t.cur = gc
	t.mu.Unlock()

	if prev != nil {
		log.Debug().Str("id", prev.id.String()).Str("type", string(prev.genType)).
			Msg("tracker: abandoning unfinished exchange")
	}
	log.Debug().Str("id", gc.id.String()).Str("type", string(genType)).Msg("tracker: generation started")
}

// OnGenerateAfterData captures the model/source identity and starts the
// full-prompt token count without awaiting it. Dry runs are estimation-only
// calls and are ignored entirely.
func (t *Tracker) OnGenerateAfterData(ctx context.Context, promptPayload []byte, dryRun bool) {
	if dryRun {
		return
	}
	t.mu.Lock()
	gc := t.cur
	t.mu.Unlock()
	if gc == nil {
		return
	}

	gc.modelID = t.chat.CurrentModelID()
	gc.sourceID = t.chat.CurrentSourceID()

	text := promptText(promptPayload)
	gc.pendingInput = spawnCount(func() int { return t.counter.Count(ctx, text) })
}

// OnMessageReceived finalizes the exchange from the received message.
// Subtypes that do not correspond to a real model call are ignored, as are
// late or duplicate events arriving with no in-flight context.
func (t *Tracker) OnMessageReceived(ctx context.Context, messageIndex int, genType host.GenerationType) {
	if !isModelCall(genType) {
		return
	}
	gc := t.take()
	if gc == nil {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.waitTimeout)
	defer cancel()

	msg, ok := t.chat.Message(messageIndex)
	if !ok {
		log.Warn().Int("index", messageIndex).Msg("tracker: received message not found, recording prompt only")
		t.record(waitCtx, gc, 0, 0)
		return
	}

	reasoning := 0
	if msg.Reasoning != "" {
		reasoning = t.counter.Count(waitCtx, msg.Reasoning)
	}

	var output int
	if msg.TokenCount > 0 {
		output = msg.TokenCount
		// The host's pre-computed count covers the whole message; when
		// it exceeds the reasoning count it includes it, so subtract
		// to avoid double counting.
		if reasoning > 0 && output > reasoning {
			output -= reasoning
		}
	} else {
		output = t.counter.Count(waitCtx, msg.Text)
	}

	if gc.genType == host.GenContinue {
		baseline := gc.baseline.wait(waitCtx)
		output -= baseline
		if output < 0 {
			output = 0
		}
	}

	t.record(waitCtx, gc, output, reasoning)
}

// OnGenerationStopped finalizes a cancelled generation. Whatever partial
// output streamed is the final output count: the prompt tokens were consumed
// regardless, so the exchange is recorded, not discarded.
func (t *Tracker) OnGenerationStopped(ctx context.Context) {
	gc := t.take()
	if gc == nil {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.waitTimeout)
	defer cancel()

	output := 0
	if partial := t.chat.StreamingText(); partial != "" {
		output = t.counter.Count(waitCtx, partial)
	}
	t.record(waitCtx, gc, output, 0)
}

// OnImpersonateReady finalizes an impersonation: output tokens come from the
// supplied text rather than a transcript message.
func (t *Tracker) OnImpersonateReady(ctx context.Context, text string) {
	gc := t.take()
	if gc == nil {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, t.waitTimeout)
	defer cancel()

	t.record(waitCtx, gc, t.counter.Count(waitCtx, text), 0)
}

// OnChatChanged abandons any in-flight context: model, source, and baseline
// captured under the old chat are meaningless for the new one. A quiet
// generation is flushed first so its consumed prompt tokens are not lost.
func (t *Tracker) OnChatChanged(ctx context.Context, chatID string) {
	gc := t.take()
	if gc == nil {
		return
	}

	if gc.genType == host.GenQuiet {
		waitCtx, cancel := context.WithTimeout(ctx, t.waitTimeout)
		defer cancel()
		output := 0
		if partial := t.chat.StreamingText(); partial != "" {
			output = t.counter.Count(waitCtx, partial)
		}
		log.Debug().Str("id", gc.id.String()).Msg("tracker: flushing quiet generation on chat change")
		t.record(waitCtx, gc, output, 0)
		return
	}

	log.Debug().Str("id", gc.id.String()).Str("type", string(gc.genType)).
		Msg("tracker: abandoned on chat change")
}

// Reset forcibly clears all in-flight coordination state. The bridge calls
// this after a handler panic so a coordination error can never leave the
// tracker stuck or double-counting.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.cur = nil
	t.mu.Unlock()
}

// take transfers ownership of the in-flight context to the caller.
func (t *Tracker) take() *genContext {
	t.mu.Lock()
	gc := t.cur
	t.cur = nil
	t.mu.Unlock()
	return gc
}

// record awaits the in-flight prompt count and emits exactly one usage
// record for the exchange.
func (t *Tracker) record(ctx context.Context, gc *genContext, output, reasoning int) {
	input := gc.pendingInput.wait(ctx)
	t.store.Record(usage.Record{
		Input:     int64(input),
		Output:    int64(output),
		Reasoning: int64(reasoning),
		ChatID:    gc.chatID,
		ModelID:   gc.modelID,
		SourceID:  gc.sourceID,
	})
	log.Debug().Str("id", gc.id.String()).Int("input", input).Int("output", output).
		Int("reasoning", reasoning).Str("model", gc.modelID).Msg("tracker: recorded exchange")
}
