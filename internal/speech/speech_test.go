package speech

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPI struct {
	transcript    string
	transcribeErr error
	speech        []byte
	speechErr     error

	lastAudio  openai.AudioRequest
	lastSpeech openai.CreateSpeechRequest
}

func (f *fakeAPI) CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error) {
	f.lastAudio = request
	if f.transcribeErr != nil {
		return openai.AudioResponse{}, f.transcribeErr
	}
	return openai.AudioResponse{Text: f.transcript}, nil
}

func (f *fakeAPI) CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error) {
	f.lastSpeech = request
	if f.speechErr != nil {
		return openai.RawResponse{}, f.speechErr
	}
	return openai.RawResponse{ReadCloser: io.NopCloser(bytes.NewReader(f.speech))}, nil
}

type fakeEncoder struct {
	rate int
	err  error
}

func (f *fakeEncoder) PCMToOggOpus(ctx context.Context, samples []byte, sampleRate int) ([]byte, error) {
	f.rate = sampleRate
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("OggS"), samples...), nil
}

func TestTranscribe(t *testing.T) {
	api := &fakeAPI{transcript: "  hello  "}
	s := NewService(api, &fakeEncoder{}, Options{}, zap.NewNop())

	text, err := s.Transcribe(context.Background(), "/tmp/voice.ogg")
	require.NoError(t, err)

	assert.Equal(t, "hello", text)
	assert.Equal(t, openai.Whisper1, api.lastAudio.Model)
	assert.Equal(t, "/tmp/voice.ogg", api.lastAudio.FilePath)
}

func TestTranscribe_Failures(t *testing.T) {
	ctx := context.Background()

	s := NewService(&fakeAPI{transcribeErr: errors.New("503")}, &fakeEncoder{}, Options{}, zap.NewNop())
	_, err := s.Transcribe(ctx, "voice.ogg")
	assert.Error(t, err)

	s = NewService(&fakeAPI{transcript: " "}, &fakeEncoder{}, Options{}, zap.NewNop())
	_, err = s.Transcribe(ctx, "voice.ogg")
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestSynthesize(t *testing.T) {
	api := &fakeAPI{speech: []byte{1, 2}}
	enc := &fakeEncoder{}
	s := NewService(api, enc, Options{Voice: "nova"}, zap.NewNop())

	voice, err := s.Synthesize(context.Background(), "hi there")
	require.NoError(t, err)

	assert.Equal(t, []byte{'O', 'g', 'g', 'S', 1, 2}, voice)
	assert.Equal(t, pcmSampleRate, enc.rate)
	assert.Equal(t, "hi there", api.lastSpeech.Input)
	assert.Equal(t, openai.SpeechVoice("nova"), api.lastSpeech.Voice)
	assert.Equal(t, openai.SpeechResponseFormatPcm, api.lastSpeech.ResponseFormat)
}

func TestSynthesize_Failures(t *testing.T) {
	ctx := context.Background()

	s := NewService(&fakeAPI{speechErr: errors.New("429")}, &fakeEncoder{}, Options{}, zap.NewNop())
	voice, err := s.Synthesize(ctx, "hi")
	assert.Error(t, err)
	assert.Nil(t, voice)

	s = NewService(&fakeAPI{speech: []byte{1}}, &fakeEncoder{err: errors.New("ffmpeg missing")}, Options{}, zap.NewNop())
	voice, err = s.Synthesize(ctx, "hi")
	assert.Error(t, err)
	assert.Nil(t, voice)
}
