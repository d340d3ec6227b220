package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vthunder/pulseloop/internal/external"
)

func newTestExecutor() *DiscordExecutor {
	e := NewDiscordExecutor(nil)
	e.maxRetryDuration = 50 * time.Millisecond
	return e
}

func TestChunkMessage_SplitsOnParagraphBoundary(t *testing.T) {
	content := strings.Repeat("a", 10) + "\n\n" + strings.Repeat("b", 10)
	chunks := chunkMessage(content, 15)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 10) {
		t.Errorf("first chunk = %q", chunks[0])
	}
}

func TestChunkMessage_ShortMessageUnsplit(t *testing.T) {
	chunks := chunkMessage("hello", MaxMessageLength)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Errorf("expected single unsplit chunk, got %v", chunks)
	}
}

func TestIsNonRetryable(t *testing.T) {
	if !isNonRetryable("missing channel_id") {
		t.Error("missing-field errors should be non-retryable")
	}
	if isNonRetryable("connection reset by peer") {
		t.Error("transient network errors should be retryable")
	}
}

func TestExecuteAction_UnsupportedKindReportsFailure(t *testing.T) {
	e := newTestExecutor()

	var mu sync.Mutex
	var gotResult external.ActionResult
	done := make(chan struct{})
	e.RegisterPostExecutionCallback(func(actionID string, result external.ActionResult) {
		mu.Lock()
		gotResult = result
		mu.Unlock()
		close(done)
	})

	actionID, err := e.ExecuteAction(context.Background(), "unknown_kind", nil, 5, "test", false)
	if err != nil {
		t.Fatalf("ExecuteAction returned error for async dispatch: %v", err)
	}
	if actionID == "" {
		t.Fatal("expected a generated action id")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-execution callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotResult.Success {
		t.Error("unsupported action kind should fail")
	}
}

func TestExecuteAction_WaitForCompletionReturnsErrorSynchronously(t *testing.T) {
	e := newTestExecutor()
	_, err := e.ExecuteAction(context.Background(), "send_message", map[string]any{}, 5, "test", true)
	if err == nil {
		t.Fatal("expected an error for a send_message with no channel_id/content")
	}
}
