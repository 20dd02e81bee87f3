// Package tracker - context.go holds the in-flight generation context and
// the async count-task primitive.
package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tokenledger/token-ledger/internal/host"
)

// isModelCall reports whether a message-received subtype corresponds to a
// real model call. Quiet generations bypass the message path entirely and
// are handled by the background mini-protocol.
func isModelCall(t host.GenerationType) bool {
	switch t {
	case host.GenNormal, host.GenContinue, host.GenSwipe, host.GenRegenerate, host.GenImpersonate:
		return true
	}
	return false
}

// genContext is the single in-flight exchange. Ownership is exclusive: the
// tracker holds at most one, and a terminal event takes it (sets the tracker
// field to nil) before finalizing, so a context can never record twice.
type genContext struct {
	id        uuid.UUID
	genType   host.GenerationType
	chatID    string
	modelID   string
	sourceID  string
	startedAt time.Time

	// pendingInput is the in-flight prompt token count, started by
	// generate-after-data without awaiting.
	pendingInput *countTask
	// baseline is the pre-continue token count of the existing response.
	// Only set for continue generations. The finalize path awaits it
	// explicitly; completion order relative to pendingInput is undefined.
	baseline *countTask
}

// countTask is a spawned token-count computation with an explicit join
// point.
type countTask struct {
	done   chan struct{}
	tokens int
}

// spawnCount runs fn on its own goroutine.
func spawnCount(fn func() int) *countTask {
	t := &countTask{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		t.tokens = fn()
	}()
	return t
}

// resolvedCount returns an already-completed task, for counts the host
// supplied synchronously.
func resolvedCount(tokens int) *countTask {
	t := &countTask{done: make(chan struct{}), tokens: tokens}
	close(t.done)
	return t
}

// wait joins the task. A nil task or a cancelled context yields zero; an
// exchange is undercounted rather than blocked forever.
func (t *countTask) wait(ctx context.Context) int {
	if t == nil {
		return 0
	}
	select {
	case <-t.done:
		return t.tokens
	case <-ctx.Done():
		return 0
	}
}
