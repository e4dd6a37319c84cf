// Package speech wraps the remote speech-to-text and text-to-speech endpoints.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// pcmSampleRate is the fixed rate of the "pcm" speech response format
const pcmSampleRate = 24000

var ErrEmptyTranscript = errors.New("empty transcript")

// API is the subset of the OpenAI client used for audio; *openai.Client satisfies it
type API interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// Encoder turns raw PCM into the voice-note container
type Encoder interface {
	PCMToOggOpus(ctx context.Context, samples []byte, sampleRate int) ([]byte, error)
}

type Options struct {
	TranscriptionModel string
	SpeechModel        string
	Voice              string
}

type Service struct {
	api     API
	encoder Encoder
	opts    Options
	logger  *zap.Logger
}

func NewService(api API, encoder Encoder, opts Options, logger *zap.Logger) *Service {
	if opts.TranscriptionModel == "" {
		opts.TranscriptionModel = openai.Whisper1
	}
	if opts.SpeechModel == "" {
		opts.SpeechModel = string(openai.TTSModel1)
	}
	if opts.Voice == "" {
		opts.Voice = string(openai.VoiceAlloy)
	}
	return &Service{
		api:     api,
		encoder: encoder,
		opts:    opts,
		logger:  logger,
	}
}

// Transcribe converts the audio file at path to text
func (s *Service) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := s.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.opts.TranscriptionModel,
		FilePath: path,
	})
	if err != nil {
		s.logger.Error("Transcription request failed", zap.Error(err), zap.String("path", path))
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		s.logger.Warn("Transcription returned no text", zap.String("path", path))
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// Synthesize speaks text and returns an OGG/Opus voice note
func (s *Service) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.opts.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.opts.Voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		s.logger.Error("Speech request failed", zap.Error(err))
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()

	samples, err := io.ReadAll(resp)
	if err != nil {
		s.logger.Error("Failed to read speech response", zap.Error(err))
		return nil, fmt.Errorf("failed to read speech: %w", err)
	}

	voice, err := s.encoder.PCMToOggOpus(ctx, samples, pcmSampleRate)
	if err != nil {
		s.logger.Error("Failed to encode voice note", zap.Error(err), zap.Int("pcm_bytes", len(samples)))
		return nil, err
	}
	return voice, nil
}
