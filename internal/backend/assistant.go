package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RunStatus is the lifecycle state of a hosted-assistant run
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether polling can stop. requires_action counts as
// terminal because tool outputs are never submitted.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled,
		RunStatusExpired, RunStatusIncomplete, RunStatusRequiresAction:
		return true
	}
	return false
}

// Thread represents a provider-side conversation thread
type Thread struct {
	ID string `json:"id"`
}

// ThreadMessageRequest represents the body used to post a message to a thread
type ThreadMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunRequest represents the body used to start a run
type RunRequest struct {
	AssistantID  string `json:"assistant_id"`
	Instructions string `json:"instructions,omitempty"`
}

// Run represents a run of an assistant on a thread
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    RunStatus `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// ThreadMessageList represents one page of thread messages
type ThreadMessageList struct {
	Data []ThreadMessage `json:"data"`
}

// ThreadMessage represents a message stored on a thread
type ThreadMessage struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	CreatedAt int64            `json:"created_at"`
	Content   []MessageContent `json:"content"`
}

// MessageContent is one content part of a thread message
type MessageContent struct {
	Type string       `json:"type"`
	Text *MessageText `json:"text,omitempty"`
}

// MessageText holds the text value of a content part and its annotations
type MessageText struct {
	Value       string       `json:"value"`
	Annotations []Annotation `json:"annotations"`
}

var errRunPending = errors.New("run not finished")

// CompleteAssistantThread creates a thread, posts newUserText, runs the
// assistant with instructions and polls the run until it finishes or the poll
// bound is reached.
func (c *OpenAIClient) CompleteAssistantThread(ctx context.Context, instructions, newUserText, assistantID string) (string, error) {
	var thread Thread
	if err := c.doJSON(ctx, "create thread", http.MethodPost, "/threads", struct{}{}, &thread); err != nil {
		return "", err
	}

	threadPath := "/threads/" + url.PathEscape(thread.ID)
	msgReq := ThreadMessageRequest{Role: "user", Content: newUserText}
	if err := c.doJSON(ctx, "create message", http.MethodPost, threadPath+"/messages", msgReq, nil); err != nil {
		return "", err
	}

	var run Run
	runReq := RunRequest{AssistantID: assistantID, Instructions: instructions}
	if err := c.doJSON(ctx, "create run", http.MethodPost, threadPath+"/runs", runReq, &run); err != nil {
		return "", err
	}

	log := c.logger.With("thread_id", thread.ID, "run_id", run.ID, "assistant_id", assistantID)
	log.Debug("assistant run started", "status", run.Status)

	run, err := c.waitForRun(ctx, thread.ID, run)
	if err != nil {
		log.Warn("assistant run did not finish", "error", err)
		return "", err
	}

	if run.Status != RunStatusCompleted {
		runErr := &RunError{RunID: run.ID, Status: run.Status}
		if run.LastError != nil {
			runErr.Reason = run.LastError.Message
		}
		log.Warn("assistant run ended without an answer", "status", run.Status)
		return "", runErr
	}

	var list ThreadMessageList
	if err := c.doJSON(ctx, "list messages", http.MethodGet, threadPath+"/messages?order=desc&limit=20", nil, &list); err != nil {
		return "", err
	}

	text, annotations, ok := latestAssistantText(list.Data)
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("thread %s: %w", thread.ID, ErrEmptyResponse)
	}

	if len(annotations) > 0 {
		text = ApplyCitations(ctx, text, annotations, c)
	}
	return text, nil
}

// waitForRun polls the run with exponential backoff until it is terminal
func (c *OpenAIClient) waitForRun(ctx context.Context, threadID string, run Run) (Run, error) {
	if run.Status.Terminal() {
		return run, nil
	}

	start := time.Now()
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(run.ID)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.poll.Interval
	policy.MaxInterval = c.poll.MaxInterval
	policy.MaxElapsedTime = c.poll.Timeout
	policy.Multiplier = 1.5
	policy.RandomizationFactor = 0.2
	policy.Reset()

	operation := func() error {
		var current Run
		if err := c.doJSON(ctx, "retrieve run", http.MethodGet, path, nil, &current); err != nil {
			// transport failures are surfaced, not retried
			return backoff.Permanent(err)
		}
		run = current
		if !current.Status.Terminal() {
			return errRunPending
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	switch {
	case err == nil:
		return run, nil
	case errors.Is(err, errRunPending):
		return run, &TimeoutError{RunID: run.ID, Status: run.Status, Elapsed: time.Since(start)}
	default:
		return run, err
	}
}

// latestAssistantText returns the first text part of the newest assistant
// message. messages must be ordered newest first.
func latestAssistantText(messages []ThreadMessage) (string, []Annotation, bool) {
	for _, msg := range messages {
		if msg.Role != "assistant" {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text != nil {
				return part.Text.Value, part.Text.Annotations, true
			}
		}
	}
	return "", nil, false
}
