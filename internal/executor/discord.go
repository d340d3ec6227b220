// Package executor provides a reference implementation of the action
// executor capability: a Discord-backed dispatcher for send_message and
// add_reaction decisions. Grounded on internal/effectors/discord.go's
// retry/backoff and chunking, reshaped from its outbox-polling loop into
// the push-style execute_action/register_post_execution_callback
// contract external.ActionExecutor expects.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/vthunder/pulseloop/internal/external"
	"github.com/vthunder/pulseloop/internal/logging"
)

// MaxMessageLength is Discord's maximum message length.
const MaxMessageLength = 2000

// DefaultMaxRetryDuration is how long to retry a transient failure
// before giving up on an action.
const DefaultMaxRetryDuration = 5 * time.Minute

type retryState struct {
	attempts     int
	firstFailure time.Time
}

// DiscordExecutor dispatches action decisions against a Discord session.
type DiscordExecutor struct {
	session          *discordgo.Session
	maxRetryDuration time.Duration

	mu       sync.Mutex
	callback external.PostExecutionCallback

	retryMu     sync.Mutex
	retryStates map[string]*retryState
}

// NewDiscordExecutor wraps an already-authenticated Discord session.
func NewDiscordExecutor(session *discordgo.Session) *DiscordExecutor {
	return &DiscordExecutor{
		session:          session,
		maxRetryDuration: DefaultMaxRetryDuration,
		retryStates:      make(map[string]*retryState),
	}
}

// SetMaxRetryDuration overrides DefaultMaxRetryDuration.
func (e *DiscordExecutor) SetMaxRetryDuration(d time.Duration) {
	e.maxRetryDuration = d
}

// Interface wires this executor's methods into the capability-probed
// external.ActionExecutor shape.
func (e *DiscordExecutor) Interface() *external.ActionExecutor {
	return &external.ActionExecutor{
		ExecuteAction:                 e.ExecuteAction,
		RegisterPostExecutionCallback: e.RegisterPostExecutionCallback,
	}
}

// RegisterPostExecutionCallback installs the callback invoked once an
// action's outcome (including retries) is known.
func (e *DiscordExecutor) RegisterPostExecutionCallback(cb external.PostExecutionCallback) {
	e.mu.Lock()
	e.callback = cb
	e.mu.Unlock()
}

// ExecuteAction dispatches actionKind against Discord. When
// waitForCompletion is false (the common case for a feedback-loop
// cycle) it returns immediately with a generated id and runs the
// retry loop in a goroutine, reporting the final outcome through the
// post-execution callback. When true, it blocks for the first attempt
// only — a background cycle rarely wants to hold up the tick loop for
// Discord's retry window.
func (e *DiscordExecutor) ExecuteAction(ctx context.Context, actionKind string, parameters map[string]any, priority int, triggerSource string, waitForCompletion bool) (string, error) {
	actionID := uuid.NewString()

	if waitForCompletion {
		result := e.attempt(actionKind, parameters)
		e.report(actionID, result)
		if !result.Success {
			return actionID, fmt.Errorf("%s", result.Error)
		}
		return actionID, nil
	}

	go e.runWithRetry(actionID, actionKind, parameters)
	return actionID, nil
}

func (e *DiscordExecutor) runWithRetry(actionID, actionKind string, parameters map[string]any) {
	for {
		result := e.attempt(actionKind, parameters)
		if result.Success {
			e.clearRetryState(actionID)
			e.report(actionID, result)
			return
		}

		if isNonRetryable(result.Error) {
			e.clearRetryState(actionID)
			e.report(actionID, result)
			return
		}

		backoff, giveUp := e.nextBackoff(actionID)
		if giveUp {
			e.clearRetryState(actionID)
			result.Error = fmt.Sprintf("gave up after %v: %s", e.maxRetryDuration, result.Error)
			e.report(actionID, result)
			return
		}

		logging.Debug("executor", "action %s failed, retrying in %v: %s", actionID, backoff, result.Error)
		time.Sleep(backoff)
	}
}

// nextBackoff returns the next exponential backoff (1s, 2s, 4s... capped
// at 60s) or reports giveUp once maxRetryDuration has elapsed.
func (e *DiscordExecutor) nextBackoff(actionID string) (backoff time.Duration, giveUp bool) {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()

	now := time.Now()
	state, ok := e.retryStates[actionID]
	if !ok {
		state = &retryState{firstFailure: now}
		e.retryStates[actionID] = state
	}
	state.attempts++

	if now.Sub(state.firstFailure) >= e.maxRetryDuration {
		return 0, true
	}

	backoff = time.Duration(1<<uint(state.attempts-1)) * time.Second
	if backoff > 60*time.Second {
		backoff = 60 * time.Second
	}
	return backoff, false
}

func (e *DiscordExecutor) clearRetryState(actionID string) {
	e.retryMu.Lock()
	delete(e.retryStates, actionID)
	e.retryMu.Unlock()
}

func (e *DiscordExecutor) report(actionID string, result external.ActionResult) {
	e.mu.Lock()
	cb := e.callback
	e.mu.Unlock()
	if cb != nil {
		cb(actionID, result)
	}
}

func (e *DiscordExecutor) attempt(actionKind string, parameters map[string]any) external.ActionResult {
	var err error
	switch actionKind {
	case "send_message":
		err = e.sendMessage(parameters)
	case "add_reaction":
		err = e.addReaction(parameters)
	default:
		err = fmt.Errorf("unsupported action kind: %s", actionKind)
	}
	if err != nil {
		return external.ActionResult{Success: false, Error: err.Error()}
	}
	return external.ActionResult{Success: true}
}

func (e *DiscordExecutor) sendMessage(parameters map[string]any) error {
	channelID, _ := parameters["channel_id"].(string)
	if channelID == "" {
		return fmt.Errorf("missing channel_id")
	}
	content, _ := parameters["content"].(string)
	if content == "" {
		return fmt.Errorf("missing content")
	}

	for i, chunk := range chunkMessage(content, MaxMessageLength) {
		if _, err := e.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send chunk %d: %w", i+1, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

func (e *DiscordExecutor) addReaction(parameters map[string]any) error {
	channelID, _ := parameters["channel_id"].(string)
	messageID, _ := parameters["message_id"].(string)
	emoji, _ := parameters["emoji"].(string)
	if channelID == "" || messageID == "" || emoji == "" {
		return fmt.Errorf("missing channel_id, message_id or emoji")
	}
	return e.session.MessageReactionAdd(channelID, messageID, emoji)
}

func isNonRetryable(errMsg string) bool {
	return strings.Contains(errMsg, "missing") || strings.Contains(errMsg, "unsupported action kind")
}

// chunkMessage splits content on paragraph, line, then word boundaries
// so no chunk exceeds maxLen.
func chunkMessage(content string, maxLen int) []string {
	if len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	remaining := content
	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, remaining)
			break
		}
		splitAt := findSplitPoint(remaining, maxLen)
		chunks = append(chunks, strings.TrimRight(remaining[:splitAt], " \n"))
		remaining = strings.TrimLeft(remaining[splitAt:], " \n")
	}
	return chunks
}

func findSplitPoint(content string, maxLen int) int {
	searchArea := content[:maxLen]
	if idx := strings.LastIndex(searchArea, "\n\n"); idx > maxLen/2 {
		return idx + 2
	}
	if idx := strings.LastIndex(searchArea, "\n"); idx > maxLen/2 {
		return idx + 1
	}
	if idx := strings.LastIndex(searchArea, " "); idx > maxLen/2 {
		return idx + 1
	}
	return maxLen
}
