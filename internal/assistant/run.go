package assistant

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// RunResult reports how the retry loop ended
type RunResult struct {
	Completed bool
	LastErr   error
	Attempts  int
	Run       openai.Run
}

// runToCompletion submits the user turn and runs the assistant, retrying up to the attempt limit.
// The user message is resubmitted on every attempt.
func (o *Orchestrator) runToCompletion(ctx context.Context, log *zap.Logger, chatID int64, threadID, userMessage string) RunResult {
	var result RunResult
	seen := make(map[string]bool)

	for attempt := 1; attempt <= o.opts.AttemptLimit; attempt++ {
		result.Attempts = attempt

		run, err := o.attempt(ctx, log, chatID, threadID, userMessage, seen)
		result.Run = run
		if err != nil {
			result.LastErr = err
			return result
		}

		if run.Status == openai.RunStatusCompleted {
			result.Completed = true
			result.LastErr = nil
			return result
		}

		result.LastErr = runFailure(run)
		log.Warn("Assistant run did not complete",
			zap.Int("attempt", attempt),
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Error(result.LastErr),
		)

		if attempt == o.opts.AttemptLimit {
			break
		}
		if err := o.sleep(ctx); err != nil {
			result.LastErr = err
			return result
		}
	}

	result.LastErr = fmt.Errorf("%w after %d attempts: %v", ErrRunExhausted, result.Attempts, result.LastErr)
	return result
}

// attempt performs one submission and drives the run until it leaves the pending and action states
func (o *Orchestrator) attempt(ctx context.Context, log *zap.Logger, chatID int64, threadID, userMessage string, seen map[string]bool) (openai.Run, error) {
	_, err := o.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})
	if err != nil {
		return openai.Run{}, fmt.Errorf("failed to submit message: %w", err)
	}

	run, err := o.api.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID:            o.opts.AssistantID,
		AdditionalInstructions: o.opts.AdditionalInstructions,
	})
	if err != nil {
		return openai.Run{}, fmt.Errorf("failed to create run: %w", err)
	}

	run, err = o.waitForRun(ctx, threadID, run)
	if err != nil {
		return run, err
	}

	for rounds := 0; run.Status == openai.RunStatusRequiresAction; rounds++ {
		if rounds == maxToolRounds {
			return run, fmt.Errorf("run %s requested tools %d times", run.ID, rounds)
		}

		run, err = o.fulfillToolCalls(ctx, log, chatID, threadID, run, seen)
		if err != nil {
			return run, err
		}

		run, err = o.waitForRun(ctx, threadID, run)
		if err != nil {
			return run, err
		}
	}

	return run, nil
}

// waitForRun polls until the run is no longer queued or in progress
func (o *Orchestrator) waitForRun(ctx context.Context, threadID string, run openai.Run) (openai.Run, error) {
	for isPending(run.Status) {
		if err := o.sleep(ctx); err != nil {
			return run, fmt.Errorf("run %s did not settle: %w", run.ID, err)
		}

		next, err := o.api.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return run, fmt.Errorf("failed to poll run %s: %w", run.ID, err)
		}
		run = next
	}
	return run, nil
}

// fulfillToolCalls acknowledges every pending tool call by echoing its arguments and resumes the run.
// save_value candidates are handed to the validator once per tool call id, whether or not the run completes.
func (o *Orchestrator) fulfillToolCalls(ctx context.Context, log *zap.Logger, chatID int64, threadID string, run openai.Run, seen map[string]bool) (openai.Run, error) {
	calls := pendingToolCalls(run)

	outputs := make([]openai.ToolOutput, 0, len(calls))
	var staged [][]string
	for _, call := range calls {
		outputs = append(outputs, openai.ToolOutput{
			ToolCallID: call.ID,
			Output:     call.Function.Arguments,
		})

		if seen[call.ID] {
			continue
		}
		seen[call.ID] = true

		if call.Function.Name != SaveValueTool {
			log.Warn("Ignoring unknown tool call", zap.String("tool", call.Function.Name), zap.String("tool_call_id", call.ID))
			continue
		}

		values, err := ParseSaveValueArgs(call.Function.Arguments)
		if err != nil {
			log.Warn("Malformed save_value arguments", zap.String("tool_call_id", call.ID), zap.Error(err))
			continue
		}
		staged = append(staged, values)
	}

	next, err := o.api.SubmitToolOutputs(ctx, threadID, run.ID, openai.SubmitToolOutputsRequest{
		ToolOutputs: outputs,
	})

	for _, values := range staged {
		o.validateAsync(ctx, chatID, values)
	}

	if err != nil {
		return run, fmt.Errorf("failed to submit tool outputs for run %s: %w", run.ID, err)
	}

	log.Info("Tool outputs submitted", zap.String("run_id", run.ID), zap.Int("tool_calls", len(outputs)))
	return next, nil
}

func pendingToolCalls(run openai.Run) []openai.ToolCall {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return nil
	}
	return run.RequiredAction.SubmitToolOutputs.ToolCalls
}

func isPending(status openai.RunStatus) bool {
	switch status {
	case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
		return true
	}
	return false
}

func runFailure(run openai.Run) error {
	if run.LastError != nil && run.LastError.Message != "" {
		return fmt.Errorf("run %s %s: %s: %s", run.ID, run.Status, run.LastError.Code, run.LastError.Message)
	}
	return fmt.Errorf("run %s %s", run.ID, run.Status)
}
