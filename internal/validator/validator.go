// Package validator double-checks candidate key life values with a classification call before saving them.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"
)

const (
	toolName   = "is_key_life_value"
	answerKey  = "is_value"
	acceptWord = "true"

	systemPrompt = "You decide whether a phrase names a key life value of a person " +
		"(for example family, honesty, freedom, health). Answer only through the " + toolName + " function."
)

// ChatAPI is the subset of the OpenAI client used for classification; *openai.Client satisfies it
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Saver persists accepted values
type Saver interface {
	UpsertUserValue(ctx context.Context, userID int64, value string) error
}

type Validator struct {
	api    ChatAPI
	saver  Saver
	model  string
	logger *zap.Logger
}

func New(api ChatAPI, saver Saver, model string, logger *zap.Logger) *Validator {
	if model == "" {
		model = openai.GPT4o
	}
	return &Validator{
		api:    api,
		saver:  saver,
		model:  model,
		logger: logger,
	}
}

// Validate classifies every candidate and saves the accepted ones for chatID.
// Failures are logged per candidate and never stop the remaining candidates.
func (v *Validator) Validate(ctx context.Context, chatID int64, values []string) {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		log := v.logger.With(zap.Int64("chat_id", chatID), zap.String("value", value))

		ok, err := v.IsKeyValue(ctx, value)
		if err != nil {
			log.Error("Value validation failed", zap.Error(err))
			continue
		}
		if !ok {
			log.Info("Value rejected")
			continue
		}

		if err := v.saver.UpsertUserValue(ctx, chatID, value); err != nil {
			log.Error("Failed to save value", zap.Error(err))
			continue
		}
		log.Info("Value saved")
	}
}

// IsKeyValue asks the model whether value is a key life value.
// Only an exact "true" answer is accepted; malformed or missing answers count as rejection.
// An error is returned only when the remote call itself fails.
func (v *Validator) IsKeyValue(ctx context.Context, value string) (bool, error) {
	resp, err := v.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Is %q a key life value?", value)},
		},
		Tools: []openai.Tool{classificationTool()},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: toolName},
		},
	})
	if err != nil {
		return false, fmt.Errorf("classification request failed: %w", err)
	}

	return parseAnswer(resp), nil
}

func parseAnswer(resp openai.ChatCompletionResponse) bool {
	if len(resp.Choices) == 0 {
		return false
	}
	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name != toolName {
			continue
		}
		answer, err := decodeAnswer(call.Function.Arguments)
		if err != nil {
			return false
		}
		return answer == acceptWord
	}
	return false
}

func decodeAnswer(arguments string) (string, error) {
	var args map[string]json.RawMessage
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", err
	}
	raw, ok := args[answerKey]
	if !ok {
		return "", errors.New("missing answer")
	}
	var answer string
	if err := json.Unmarshal(raw, &answer); err != nil {
		return "", err
	}
	return answer, nil
}

func classificationTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolName,
			Description: "Report whether the phrase is a key life value",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					answerKey: {
						Type:        jsonschema.String,
						Enum:        []string{"true", "false"},
						Description: "\"true\" if the phrase is a key life value, otherwise \"false\"",
					},
				},
				Required: []string{answerKey},
			},
		},
	}
}
