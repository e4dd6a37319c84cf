package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Annotation is a citation marker inside assistant text
type Annotation struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	StartIndex   int           `json:"start_index"`
	EndIndex     int           `json:"end_index"`
	FileCitation *FileCitation `json:"file_citation,omitempty"`
}

type FileCitation struct {
	FileID string `json:"file_id"`
}

// FileLookup resolves uploaded file metadata; *openai.Client satisfies it
type FileLookup interface {
	GetFile(ctx context.Context, fileID string) (openai.File, error)
}

// latestReply returns the text of the most recent assistant message with citations resolved
func (o *Orchestrator) latestReply(ctx context.Context, log *zap.Logger, threadID string) (string, error) {
	limit := messagePageSize
	order := "desc"
	list, err := o.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to list messages: %w", err)
	}

	for _, msg := range list.Messages {
		if msg.Role != openai.ChatMessageRoleAssistant {
			continue
		}

		text, annotations := messageText(msg)
		if text == "" {
			return "", ErrNoReply
		}

		resolved, err := ResolveCitations(ctx, text, annotations, o.api)
		if err != nil {
			// Partially resolved text is still worth speaking
			log.Warn("Failed to resolve some citations", zap.Error(err))
		}
		return resolved, nil
	}

	return "", ErrNoReply
}

// messageText joins the text parts of a message and decodes their annotations
func messageText(msg openai.Message) (string, []Annotation) {
	var parts []string
	var annotations []Annotation
	for _, content := range msg.Content {
		if content.Text == nil || content.Text.Value == "" {
			continue
		}
		parts = append(parts, content.Text.Value)
		annotations = append(annotations, decodeAnnotations(content.Text.Annotations)...)
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), annotations
}

// decodeAnnotations converts loosely typed annotations; undecodable entries are dropped
func decodeAnnotations(raw []any) []Annotation {
	out := make([]Annotation, 0, len(raw))
	for _, item := range raw {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var a Annotation
		if err := json.Unmarshal(data, &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

// ResolveCitations rewrites each file citation marker to the cited file name in brackets.
// When the marker is absent from the text, the file name is appended instead.
// Citations whose file cannot be resolved are left untouched and reported in the returned error.
func ResolveCitations(ctx context.Context, text string, annotations []Annotation, files FileLookup) (string, error) {
	names := make(map[string]string)
	var errs []error

	for _, a := range annotations {
		if a.FileCitation == nil || a.FileCitation.FileID == "" {
			continue
		}
		fileID := a.FileCitation.FileID

		name, ok := names[fileID]
		if !ok {
			file, err := files.GetFile(ctx, fileID)
			if err != nil {
				errs = append(errs, fmt.Errorf("file %s: %w", fileID, err))
				continue
			}
			name = file.FileName
			if name == "" {
				name = fileID
			}
			names[fileID] = name
		}

		label := "[" + name + "]"
		if a.Text != "" && strings.Contains(text, a.Text) {
			text = strings.ReplaceAll(text, a.Text, label)
		} else if !strings.Contains(text, label) {
			text = text + " " + label
		}
	}

	return text, errors.Join(errs...)
}
