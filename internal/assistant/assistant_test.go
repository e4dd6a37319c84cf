package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// step is one observed state of a run
type step struct {
	status openai.RunStatus
	calls  []openai.ToolCall
}

// fakeAPI plays back one script of run states per CreateRun call
type fakeAPI struct {
	mu sync.Mutex

	scripts [][]step
	runs    map[string][]step
	cursor  map[string]int
	created int

	events    []string
	messages  []openai.MessageRequest
	submitted []openai.SubmitToolOutputsRequest
	list      openai.MessagesList
	files     map[string]string

	pollErr   error
	submitErr error
}

func newFakeAPI(scripts ...[]step) *fakeAPI {
	return &fakeAPI{
		scripts: scripts,
		runs:    make(map[string][]step),
		cursor:  make(map[string]int),
		files:   make(map[string]string),
		list:    assistantMessages("Hello there"),
	}
}

func (f *fakeAPI) CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, "message")
	f.messages = append(f.messages, request)
	return openai.Message{ID: fmt.Sprintf("msg_%d", len(f.messages))}, nil
}

func (f *fakeAPI) CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	script := f.scripts[min(f.created, len(f.scripts)-1)]
	f.created++
	id := fmt.Sprintf("run_%d", f.created)
	f.runs[id] = script
	f.events = append(f.events, "create_run")
	return openai.Run{ID: id, ThreadID: threadID, AssistantID: request.AssistantID, Status: openai.RunStatusQueued}, nil
}

func (f *fakeAPI) RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, "poll")
	if f.pollErr != nil {
		return openai.Run{}, f.pollErr
	}

	script := f.runs[runID]
	pos := f.cursor[runID]
	if pos < len(script)-1 {
		f.cursor[runID] = pos + 1
	} else {
		pos = len(script) - 1
	}

	s := script[pos]
	run := openai.Run{ID: runID, ThreadID: threadID, Status: s.status}
	if s.status == openai.RunStatusRequiresAction {
		run.RequiredAction = &openai.RunRequiredAction{
			Type:              openai.RequiredActionTypeSubmitToolOutputs,
			SubmitToolOutputs: &openai.SubmitToolOutputs{ToolCalls: s.calls},
		}
	}
	if s.status == openai.RunStatusFailed {
		run.LastError = &openai.RunLastError{Code: openai.RunErrorServerError, Message: "upstream failed"}
	}
	return run, nil
}

func (f *fakeAPI) SubmitToolOutputs(ctx context.Context, threadID string, runID string, request openai.SubmitToolOutputsRequest) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, "submit")
	f.submitted = append(f.submitted, request)
	if f.submitErr != nil {
		return openai.Run{}, f.submitErr
	}
	return openai.Run{ID: runID, ThreadID: threadID, Status: openai.RunStatusQueued}, nil
}

func (f *fakeAPI) ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, "list")
	return f.list, nil
}

func (f *fakeAPI) GetFile(ctx context.Context, fileID string) (openai.File, error) {
	name, ok := f.files[fileID]
	if !ok {
		return openai.File{}, fmt.Errorf("no such file %s", fileID)
	}
	return openai.File{ID: fileID, FileName: name}, nil
}

func assistantMessages(texts ...string) openai.MessagesList {
	var msgs []openai.Message
	for _, text := range texts {
		msgs = append(msgs, openai.Message{
			Role: openai.ChatMessageRoleAssistant,
			Content: []openai.MessageContent{{
				Type: "text",
				Text: &openai.MessageText{Value: text},
			}},
		})
	}
	return openai.MessagesList{Messages: msgs}
}

type staticThreads struct {
	err error
}

func (s staticThreads) EnsureThread(ctx context.Context, chatID int64) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("thread_%d", chatID), nil
}

type recordingValidator struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingValidator) Validate(ctx context.Context, chatID int64, values []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, values)
}

type echoSynth struct {
	text string
	err  error
}

func (e *echoSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	e.text = text
	if e.err != nil {
		return nil, e.err
	}
	return []byte("ogg:" + text), nil
}

func testOptions() Options {
	return Options{
		AssistantID:  "asst_1",
		PollInterval: time.Millisecond,
		RunTimeout:   5 * time.Second,
	}
}

func saveValueCall(id, args string) openai.ToolCall {
	return openai.ToolCall{
		ID:       id,
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: SaveValueTool, Arguments: args},
	}
}

func TestExchange_CompletesFirstAttempt(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusInProgress}, {status: openai.RunStatusCompleted}})
	synth := &echoSynth{}
	o := NewOrchestrator(api, staticThreads{}, &recordingValidator{}, synth, testOptions(), zap.NewNop())

	audio, err := o.Exchange(context.Background(), 42, "hello")
	require.NoError(t, err)

	assert.Equal(t, []byte("ogg:Hello there"), audio)
	assert.Equal(t, "Hello there", synth.text)
	require.Len(t, api.messages, 1)
	assert.Equal(t, "hello", api.messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, api.messages[0].Role)
}

func TestExchange_ToolCallsThenCompleted(t *testing.T) {
	calls := []openai.ToolCall{
		saveValueCall("call_a", `{"values":["honesty","family"]}`),
		saveValueCall("call_b", `{"values":["freedom"]}`),
	}
	api := newFakeAPI([]step{
		{status: openai.RunStatusRequiresAction, calls: calls},
		{status: openai.RunStatusCompleted},
	})
	validator := &recordingValidator{}
	o := NewOrchestrator(api, staticThreads{}, validator, &echoSynth{}, testOptions(), zap.NewNop())

	audio, err := o.Exchange(context.Background(), 42, "I love my family")
	require.NoError(t, err)
	require.NotNil(t, audio)
	o.Wait()

	// One output per pending call, echoing the arguments
	require.Len(t, api.submitted, 1)
	outputs := api.submitted[0].ToolOutputs
	require.Len(t, outputs, 2)
	assert.Equal(t, "call_a", outputs[0].ToolCallID)
	assert.Equal(t, `{"values":["honesty","family"]}`, outputs[0].Output)
	assert.Equal(t, "call_b", outputs[1].ToolCallID)

	// Submission happens before the run is polled again
	submitAt := indexOf(api.events, "submit")
	require.GreaterOrEqual(t, submitAt, 0)
	assert.Equal(t, "poll", api.events[submitAt+1])

	assert.ElementsMatch(t, [][]string{{"honesty", "family"}, {"freedom"}}, validator.calls)
}

func TestExchange_RepeatedToolCallValidatedOnce(t *testing.T) {
	call := saveValueCall("call_a", `{"values":["honesty"]}`)
	api := newFakeAPI([]step{
		{status: openai.RunStatusRequiresAction, calls: []openai.ToolCall{call}},
		{status: openai.RunStatusRequiresAction, calls: []openai.ToolCall{call}},
		{status: openai.RunStatusCompleted},
	})
	validator := &recordingValidator{}
	o := NewOrchestrator(api, staticThreads{}, validator, &echoSynth{}, testOptions(), zap.NewNop())

	_, err := o.Exchange(context.Background(), 42, "hi")
	require.NoError(t, err)
	o.Wait()

	assert.Len(t, api.submitted, 2, "every pending call is acknowledged")
	assert.Len(t, validator.calls, 1)
}

func TestExchange_MalformedToolArgumentsStillAcknowledged(t *testing.T) {
	api := newFakeAPI([]step{
		{status: openai.RunStatusRequiresAction, calls: []openai.ToolCall{
			saveValueCall("call_bad", `{"values":`),
			{ID: "call_other", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "lookup", Arguments: `{}`}},
		}},
		{status: openai.RunStatusCompleted},
	})
	validator := &recordingValidator{}
	o := NewOrchestrator(api, staticThreads{}, validator, &echoSynth{}, testOptions(), zap.NewNop())

	_, err := o.Exchange(context.Background(), 42, "hi")
	require.NoError(t, err)
	o.Wait()

	require.Len(t, api.submitted, 1)
	assert.Len(t, api.submitted[0].ToolOutputs, 2)
	assert.Empty(t, validator.calls)
}

func TestExchange_ValidationRunsWhenSubmitFails(t *testing.T) {
	api := newFakeAPI([]step{
		{status: openai.RunStatusRequiresAction, calls: []openai.ToolCall{saveValueCall("call_a", `{"values":["health"]}`)}},
	})
	api.submitErr = errors.New("conflict")
	validator := &recordingValidator{}
	o := NewOrchestrator(api, staticThreads{}, validator, &echoSynth{}, testOptions(), zap.NewNop())

	audio, err := o.Exchange(context.Background(), 42, "hi")
	assert.Error(t, err)
	assert.Nil(t, audio)
	o.Wait()

	assert.Equal(t, [][]string{{"health"}}, validator.calls)
}

func TestExchange_RunExhausted(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusInProgress}, {status: openai.RunStatusFailed}})
	core, logs := observer.New(zapcore.InfoLevel)
	o := NewOrchestrator(api, staticThreads{}, &recordingValidator{}, &echoSynth{}, testOptions(), zap.New(core))

	audio, err := o.Exchange(context.Background(), 42, "hello")

	assert.Nil(t, audio)
	assert.ErrorIs(t, err, ErrRunExhausted)
	assert.Len(t, api.messages, DefaultAttemptLimit, "user message is resubmitted on every attempt")
	assert.Equal(t, DefaultAttemptLimit, api.created)
	assert.Equal(t, 1, logs.FilterMessage("Assistant run exhausted").Len())
	assert.NotContains(t, api.events, "list")
}

func TestExchange_RecoversOnLaterAttempt(t *testing.T) {
	api := newFakeAPI(
		[]step{{status: openai.RunStatusCancelled}},
		[]step{{status: openai.RunStatusCompleted}},
	)
	o := NewOrchestrator(api, staticThreads{}, &recordingValidator{}, &echoSynth{}, testOptions(), zap.NewNop())

	audio, err := o.Exchange(context.Background(), 42, "hello")
	require.NoError(t, err)
	assert.NotNil(t, audio)
	assert.Equal(t, 2, api.created)
}

func TestRunToCompletion_Result(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusExpired}})
	o := NewOrchestrator(api, staticThreads{}, nil, &echoSynth{}, testOptions(), zap.NewNop())

	res := o.runToCompletion(context.Background(), zap.NewNop(), 1, "thread_1", "hi")
	assert.False(t, res.Completed)
	assert.Equal(t, DefaultAttemptLimit, res.Attempts)
	assert.ErrorIs(t, res.LastErr, ErrRunExhausted)
	assert.Equal(t, openai.RunStatusExpired, res.Run.Status)
}

func TestExchange_PollFailureIsNotRetried(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusCompleted}})
	api.pollErr = errors.New("connection reset")
	o := NewOrchestrator(api, staticThreads{}, &recordingValidator{}, &echoSynth{}, testOptions(), zap.NewNop())

	audio, err := o.Exchange(context.Background(), 42, "hello")
	assert.Nil(t, audio)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunExhausted)
	assert.Equal(t, 1, api.created)
}

func TestExchange_Deadline(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusInProgress}})
	opts := testOptions()
	opts.RunTimeout = 30 * time.Millisecond
	o := NewOrchestrator(api, staticThreads{}, &recordingValidator{}, &echoSynth{}, opts, zap.NewNop())

	audio, err := o.Exchange(context.Background(), 42, "hello")
	assert.Nil(t, audio)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExchange_ThreadFailure(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusCompleted}})
	o := NewOrchestrator(api, staticThreads{err: errors.New("redis down")}, nil, &echoSynth{}, testOptions(), zap.NewNop())

	audio, err := o.Exchange(context.Background(), 42, "hello")
	assert.Nil(t, audio)
	assert.Error(t, err)
	assert.Empty(t, api.messages)
}

func TestExchange_SynthesisFailure(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusCompleted}})
	o := NewOrchestrator(api, staticThreads{}, nil, &echoSynth{err: errors.New("tts down")}, testOptions(), zap.NewNop())

	audio, err := o.Exchange(context.Background(), 42, "hello")
	assert.Nil(t, audio)
	assert.Error(t, err)
}

func TestReply_PicksLatestAssistantMessage(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusCompleted}})
	api.list = openai.MessagesList{Messages: []openai.Message{
		{Role: openai.ChatMessageRoleUser, Content: []openai.MessageContent{{Type: "text", Text: &openai.MessageText{Value: "hello"}}}},
		{Role: openai.ChatMessageRoleAssistant, Content: []openai.MessageContent{{Type: "text", Text: &openai.MessageText{Value: "newest"}}}},
		{Role: openai.ChatMessageRoleAssistant, Content: []openai.MessageContent{{Type: "text", Text: &openai.MessageText{Value: "older"}}}},
	}}
	o := NewOrchestrator(api, staticThreads{}, nil, &echoSynth{}, testOptions(), zap.NewNop())

	reply, err := o.Reply(context.Background(), 1, "hello")
	require.NoError(t, err)
	assert.Equal(t, "newest", reply)
}

func TestReply_NoAssistantMessage(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusCompleted}})
	api.list = openai.MessagesList{}
	o := NewOrchestrator(api, staticThreads{}, nil, &echoSynth{}, testOptions(), zap.NewNop())

	_, err := o.Reply(context.Background(), 1, "hello")
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestReply_ResolvesCitations(t *testing.T) {
	api := newFakeAPI([]step{{status: openai.RunStatusCompleted}})
	api.files["file_1"] = "doc.docx"
	api.list = openai.MessagesList{Messages: []openai.Message{{
		Role: openai.ChatMessageRoleAssistant,
		Content: []openai.MessageContent{{
			Type: "text",
			Text: &openai.MessageText{
				Value: "See [1]",
				Annotations: []any{map[string]any{
					"type":          "file_citation",
					"text":          "[1]",
					"start_index":   4,
					"end_index":     7,
					"file_citation": map[string]any{"file_id": "file_1"},
				}},
			},
		}},
	}}}
	o := NewOrchestrator(api, staticThreads{}, nil, &echoSynth{}, testOptions(), zap.NewNop())

	reply, err := o.Reply(context.Background(), 1, "hello")
	require.NoError(t, err)
	assert.Equal(t, "See [doc.docx]", reply)
}

func indexOf(events []string, name string) int {
	for i, e := range events {
		if e == name {
			return i
		}
	}
	return -1
}
