// Package host - bridge.go subscribes to the chat host's websocket event
// stream and dispatches lifecycle events in arrival order.
//
// DESIGN: One connection, one read loop, one dispatch goroutine - the
// tracker relies on events arriving in host emission order, so dispatch is
// strictly sequential. Reconnects use exponential backoff; a handler panic
// is logged and resets the dispatcher instead of killing the loop.
package host

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/tokenledger/token-ledger/internal/utils"
)

// maxEventSize bounds a single event frame. Prompt payloads dominate; chat
// prompts can reach megabytes with large context windows.
const maxEventSize = 16 << 20

// Dispatcher receives lifecycle events. *tracker.Tracker implements it.
type Dispatcher interface {
	OnGenerationStarted(ctx context.Context, genType GenerationType)
	OnGenerateAfterData(ctx context.Context, promptPayload []byte, dryRun bool)
	OnMessageReceived(ctx context.Context, messageIndex int, genType GenerationType)
	OnGenerationStopped(ctx context.Context)
	OnImpersonateReady(ctx context.Context, text string)
	OnChatChanged(ctx context.Context, chatID string)
	Reset()
}

// Bridge connects to the host and feeds a Dispatcher.
type Bridge struct {
	url        string
	dispatcher Dispatcher
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewBridge creates a Bridge.
func NewBridge(url string, d Dispatcher, initialBackoff, maxBackoff time.Duration) *Bridge {
	return &Bridge{url: url, dispatcher: d, backoff: initialBackoff, maxBackoff: maxBackoff}
}

// Run connects and dispatches events until ctx is cancelled. Connection
// failures are retried with exponential backoff.
func (b *Bridge) Run(ctx context.Context) error {
	backoff := b.backoff
	for {
		err := b.runConn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("retry_in", backoff).Msg("host: connection lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.maxBackoff {
			backoff = b.maxBackoff
		}
	}
}

func (b *Bridge) runConn(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, b.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxEventSize)
	log.Info().Str("url", b.url).Msg("host: connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		b.dispatch(ctx, data)
	}
}

// dispatch decodes one event frame and invokes the matching handler. A
// panicking handler must not leave stale coordination state behind, so the
// dispatcher is reset before the loop continues.
func (b *Bridge) dispatch(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).
				Str("frame", utils.Truncate(string(data), 200)).
				Msg("host: handler panicked, resetting tracker state")
			b.dispatcher.Reset()
		}
	}()

	event := gjson.GetBytes(data, "event").String()
	payload := gjson.GetBytes(data, "data")

	switch event {
	case EventGenerationStarted:
		if payload.Get("isDryRun").Bool() {
			return
		}
		b.dispatcher.OnGenerationStarted(ctx, GenerationType(payload.Get("type").String()))
	case EventGenerateAfterData:
		b.dispatcher.OnGenerateAfterData(ctx, []byte(payload.Get("payload").Raw), payload.Get("isDryRun").Bool())
	case EventMessageReceived:
		b.dispatcher.OnMessageReceived(ctx, int(payload.Get("messageIndex").Int()), GenerationType(payload.Get("type").String()))
	case EventGenerationStopped:
		b.dispatcher.OnGenerationStopped(ctx)
	case EventChatChanged:
		b.dispatcher.OnChatChanged(ctx, payload.Get("chatId").String())
	case EventImpersonateReady:
		b.dispatcher.OnImpersonateReady(ctx, payload.Get("text").String())
	default:
		log.Debug().Str("event", event).Msg("host: ignoring unknown event")
	}
}
