// Package mood describes the mood of a person in a photo with a single vision request.
package mood

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const prompt = "Look at the person in this photo and describe their mood in one or two warm, " +
	"supportive sentences addressed directly to them."

var ErrNoDescription = errors.New("no mood description")

// ChatAPI is the subset of the OpenAI client used here; *openai.Client satisfies it
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Classifier struct {
	api   ChatAPI
	model string
}

func NewClassifier(api ChatAPI, model string) *Classifier {
	if model == "" {
		model = openai.GPT4o
	}
	return &Classifier{api: api, model: model}
}

// Describe returns a short mood description for a base64-encoded JPEG image
func (c *Classifier) Describe(ctx context.Context, imageBase64 string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 300,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:image/jpeg;base64," + imageBase64,
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("mood request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoDescription
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrNoDescription
	}
	return text, nil
}
