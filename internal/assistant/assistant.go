// Package assistant drives request/response exchanges with the hosted assistant job API.
//
// One exchange resolves the chat's thread, submits the user turn, runs the assistant until it
// settles, fulfils save_value tool calls, extracts the latest assistant reply with citations
// rewritten to file names, and hands the text to speech synthesis.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var (
	// ErrRunExhausted means every attempt ended without a completed run
	ErrRunExhausted = errors.New("assistant run exhausted")

	// ErrNoReply means the thread holds no assistant text to return
	ErrNoReply = errors.New("no assistant reply")
)

const (
	DefaultAttemptLimit = 3
	DefaultPollInterval = 2 * time.Second
	DefaultRunTimeout   = 2 * time.Minute

	defaultValidationTimeout = time.Minute
	maxToolRounds            = 8
	messagePageSize          = 20
)

// API is the subset of the OpenAI client used for assistant runs; *openai.Client satisfies it
type API interface {
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID string, runID string, request openai.SubmitToolOutputsRequest) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
	GetFile(ctx context.Context, fileID string) (openai.File, error)
}

// ThreadResolver returns the conversation thread of a chat, creating it if needed
type ThreadResolver interface {
	EnsureThread(ctx context.Context, chatID int64) (string, error)
}

// Validator checks candidate values surfaced through save_value and persists accepted ones
type Validator interface {
	Validate(ctx context.Context, chatID int64, values []string)
}

// Synthesizer turns reply text into a voice note
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Options is the process-wide assistant configuration, fixed at startup
type Options struct {
	AssistantID            string
	AdditionalInstructions string
	AttemptLimit           int
	PollInterval           time.Duration
	RunTimeout             time.Duration
	ValidationTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.AttemptLimit <= 0 {
		o.AttemptLimit = DefaultAttemptLimit
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	if o.ValidationTimeout <= 0 {
		o.ValidationTimeout = defaultValidationTimeout
	}
	return o
}

// Orchestrator runs exchanges; it is safe for concurrent use by many chats
type Orchestrator struct {
	api       API
	threads   ThreadResolver
	validator Validator
	synth     Synthesizer
	opts      Options
	logger    *zap.Logger

	validations sync.WaitGroup
}

func NewOrchestrator(api API, threads ThreadResolver, validator Validator, synth Synthesizer, opts Options, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		api:       api,
		threads:   threads,
		validator: validator,
		synth:     synth,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// Exchange sends userMessage on the chat's thread and returns the spoken reply.
// Every failure is logged here; the caller only needs to apologise to the user.
func (o *Orchestrator) Exchange(ctx context.Context, chatID int64, userMessage string) ([]byte, error) {
	reply, err := o.Reply(ctx, chatID, userMessage)
	if err != nil {
		return nil, err
	}

	audio, err := o.synth.Synthesize(ctx, reply)
	if err != nil {
		o.logger.Error("Failed to synthesize reply", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil, fmt.Errorf("failed to synthesize reply: %w", err)
	}
	return audio, nil
}

// Reply performs the exchange up to the reply text, bounded by the run timeout
func (o *Orchestrator) Reply(ctx context.Context, chatID int64, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	log := o.logger.With(zap.Int64("chat_id", chatID))

	threadID, err := o.threads.EnsureThread(ctx, chatID)
	if err != nil {
		log.Error("Failed to resolve thread", zap.Error(err))
		return "", err
	}
	log = log.With(zap.String("thread_id", threadID))

	result := o.runToCompletion(ctx, log, chatID, threadID, userMessage)
	if !result.Completed {
		if errors.Is(result.LastErr, ErrRunExhausted) {
			log.Error("Assistant run exhausted", zap.Int("attempts", result.Attempts), zap.Error(result.LastErr))
		} else {
			log.Error("Assistant run failed", zap.Int("attempts", result.Attempts), zap.Error(result.LastErr))
		}
		return "", result.LastErr
	}

	reply, err := o.latestReply(ctx, log, threadID)
	if err != nil {
		log.Error("Failed to read assistant reply", zap.Error(err))
		return "", err
	}

	log.Info("Assistant replied", zap.Int("attempts", result.Attempts), zap.Int("reply_len", len(reply)))
	return reply, nil
}

// Wait blocks until background validations started by earlier exchanges finish
func (o *Orchestrator) Wait() {
	o.validations.Wait()
}

// validateAsync runs the validator detached from the exchange so run completion does not gate it
func (o *Orchestrator) validateAsync(ctx context.Context, chatID int64, values []string) {
	if o.validator == nil || len(values) == 0 {
		return
	}

	o.validations.Add(1)
	go func() {
		defer o.validations.Done()

		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ValidationTimeout)
		defer cancel()

		o.validator.Validate(vctx, chatID, values)
	}()
}

func (o *Orchestrator) sleep(ctx context.Context) error {
	t := time.NewTimer(o.opts.PollInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
