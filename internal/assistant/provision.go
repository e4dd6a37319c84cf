package assistant

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultAssistantName = "Chat Assistant"

	DefaultInstructions = `You are the chat assistant. You can answer questions and participate in the conversation.
Analyze the user messages and try to identify the user's key life values based on your
communication. If any values are found, then call the save_value function. Don't forget
to continue your ordinary dialogue with the user after you call save_value function.`

	FileSearchInstructions = `Always look for information using the file_search tool before giving an answer.
If file_search does not return relevant information, proceed with your own knowledge.`
)

// ProvisionAPI is the subset of the OpenAI client used to set up the assistant; *openai.Client satisfies it
type ProvisionAPI interface {
	CreateAssistant(ctx context.Context, request openai.AssistantRequest) (openai.Assistant, error)
	RetrieveAssistant(ctx context.Context, assistantID string) (openai.Assistant, error)
	ModifyAssistant(ctx context.Context, assistantID string, request openai.AssistantRequest) (openai.Assistant, error)
	CreateFile(ctx context.Context, request openai.FileRequest) (openai.File, error)
	CreateVectorStore(ctx context.Context, request openai.VectorStoreRequest) (openai.VectorStore, error)
}

type Provisioner struct {
	api    ProvisionAPI
	logger *zap.Logger
}

func NewProvisioner(api ProvisionAPI, logger *zap.Logger) *Provisioner {
	return &Provisioner{api: api, logger: logger}
}

// CreateAssistant registers an assistant that reports key life values through save_value
func (p *Provisioner) CreateAssistant(ctx context.Context, name, model string) (string, error) {
	if name == "" {
		name = DefaultAssistantName
	}
	if model == "" {
		model = openai.GPT4o
	}
	instructions := DefaultInstructions

	a, err := p.api.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        model,
		Name:         &name,
		Instructions: &instructions,
		Tools: []openai.AssistantTool{{
			Type:     openai.AssistantToolTypeFunction,
			Function: SaveValueFunction(),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create assistant: %w", err)
	}

	p.logger.Info("Assistant created", zap.String("assistant_id", a.ID), zap.String("model", model))
	return a.ID, nil
}

// AttachFiles uploads reference documents into a new vector store and enables file_search on the assistant.
// Existing tools and instructions are kept.
func (p *Provisioner) AttachFiles(ctx context.Context, assistantID, storeName string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("no files to attach")
	}

	fileIDs := make([]string, 0, len(paths))
	for _, path := range paths {
		f, err := p.api.CreateFile(ctx, openai.FileRequest{
			FileName: filepath.Base(path),
			FilePath: path,
			Purpose:  string(openai.PurposeAssistants),
		})
		if err != nil {
			return "", fmt.Errorf("failed to upload %s: %w", path, err)
		}
		p.logger.Info("File uploaded", zap.String("path", path), zap.String("file_id", f.ID))
		fileIDs = append(fileIDs, f.ID)
	}

	store, err := p.api.CreateVectorStore(ctx, openai.VectorStoreRequest{
		Name:    storeName,
		FileIDs: fileIDs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create vector store: %w", err)
	}

	current, err := p.api.RetrieveAssistant(ctx, assistantID)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve assistant: %w", err)
	}

	instructions := FileSearchInstructions
	if current.Instructions != nil && *current.Instructions != "" {
		instructions = strings.TrimSpace(*current.Instructions) + "\n\n" + FileSearchInstructions
	}

	tools := current.Tools
	if !hasTool(tools, openai.AssistantToolTypeFileSearch) {
		tools = append(tools, openai.AssistantTool{Type: openai.AssistantToolTypeFileSearch})
	}

	_, err = p.api.ModifyAssistant(ctx, assistantID, openai.AssistantRequest{
		Model:        current.Model,
		Instructions: &instructions,
		Tools:        tools,
		ToolResources: &openai.AssistantToolResource{
			FileSearch: &openai.AssistantToolFileSearch{VectorStoreIDs: []string{store.ID}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to update assistant: %w", err)
	}

	p.logger.Info("File search enabled",
		zap.String("assistant_id", assistantID),
		zap.String("vector_store_id", store.ID),
		zap.Int("files", len(fileIDs)),
	)
	return store.ID, nil
}

func hasTool(tools []openai.AssistantTool, kind openai.AssistantToolType) bool {
	for _, t := range tools {
		if t.Type == kind {
			return true
		}
	}
	return false
}
