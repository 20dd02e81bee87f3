package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	name    string
	genType GenerationType
	payload string
	dryRun  bool
	index   int
	text    string
	chatID  string
}

type recordingDispatcher struct {
	events []recordedEvent
	panics bool
	resets int
}

func (r *recordingDispatcher) OnGenerationStarted(_ context.Context, genType GenerationType) {
	if r.panics {
		panic("boom")
	}
	r.events = append(r.events, recordedEvent{name: "started", genType: genType})
}

func (r *recordingDispatcher) OnGenerateAfterData(_ context.Context, payload []byte, dryRun bool) {
	r.events = append(r.events, recordedEvent{name: "afterData", payload: string(payload), dryRun: dryRun})
}

func (r *recordingDispatcher) OnMessageReceived(_ context.Context, index int, genType GenerationType) {
	r.events = append(r.events, recordedEvent{name: "message", index: index, genType: genType})
}

func (r *recordingDispatcher) OnGenerationStopped(context.Context) {
	r.events = append(r.events, recordedEvent{name: "stopped"})
}

func (r *recordingDispatcher) OnImpersonateReady(_ context.Context, text string) {
	r.events = append(r.events, recordedEvent{name: "impersonate", text: text})
}

func (r *recordingDispatcher) OnChatChanged(_ context.Context, chatID string) {
	r.events = append(r.events, recordedEvent{name: "chatChanged", chatID: chatID})
}

func (r *recordingDispatcher) Reset() { r.resets++ }

func newTestBridge(d Dispatcher) *Bridge {
	return NewBridge("ws://unused", d, time.Second, time.Minute)
}

func TestDispatchRoutesLifecycleEvents(t *testing.T) {
	d := &recordingDispatcher{}
	b := newTestBridge(d)
	ctx := context.Background()

	frames := []string{
		`{"event": "generation_started", "data": {"type": "continue"}}`,
		`{"event": "generate_after_data", "data": {"payload": {"prompt": "hi"}, "isDryRun": false}}`,
		`{"event": "message_received", "data": {"messageIndex": 4, "type": "normal"}}`,
		`{"event": "generation_stopped", "data": {}}`,
		`{"event": "impersonate_ready", "data": {"text": "as you"}}`,
		`{"event": "chat_changed", "data": {"chatId": "chat42"}}`,
	}
	for _, f := range frames {
		b.dispatch(ctx, []byte(f))
	}

	require.Len(t, d.events, 6)
	assert.Equal(t, GenContinue, d.events[0].genType)
	assert.JSONEq(t, `{"prompt": "hi"}`, d.events[1].payload)
	assert.Equal(t, 4, d.events[2].index)
	assert.Equal(t, GenNormal, d.events[2].genType)
	assert.Equal(t, "stopped", d.events[3].name)
	assert.Equal(t, "as you", d.events[4].text)
	assert.Equal(t, "chat42", d.events[5].chatID)
}

func TestDispatchSkipsDryRunGenerationStart(t *testing.T) {
	d := &recordingDispatcher{}
	b := newTestBridge(d)

	b.dispatch(context.Background(), []byte(`{"event": "generation_started", "data": {"type": "normal", "isDryRun": true}}`))

	assert.Empty(t, d.events)
}

func TestDispatchForwardsDryRunFlagOnAfterData(t *testing.T) {
	d := &recordingDispatcher{}
	b := newTestBridge(d)

	b.dispatch(context.Background(), []byte(`{"event": "generate_after_data", "data": {"payload": {}, "isDryRun": true}}`))

	require.Len(t, d.events, 1)
	assert.True(t, d.events[0].dryRun)
}

func TestDispatchIgnoresUnknownEvents(t *testing.T) {
	d := &recordingDispatcher{}
	b := newTestBridge(d)

	b.dispatch(context.Background(), []byte(`{"event": "typing_indicator", "data": {}}`))
	b.dispatch(context.Background(), []byte(`not even json`))

	assert.Empty(t, d.events)
	assert.Zero(t, d.resets)
}

func TestDispatchResetsDispatcherOnHandlerPanic(t *testing.T) {
	d := &recordingDispatcher{panics: true}
	b := newTestBridge(d)

	b.dispatch(context.Background(), []byte(`{"event": "generation_started", "data": {"type": "normal"}}`))

	assert.Equal(t, 1, d.resets)

	// The loop keeps dispatching after a panic.
	d.panics = false
	b.dispatch(context.Background(), []byte(`{"event": "generation_started", "data": {"type": "normal"}}`))
	assert.Len(t, d.events, 1)
}
