package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voicebot/internal/app"
	"voicebot/internal/assistant"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "provision",
		Short:         "Create and configure the OpenAI assistant used by the voice bot",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	cmd.AddCommand(newCreateCmd(&logLevel))
	cmd.AddCommand(newAttachFilesCmd(&logLevel))
	return cmd
}

func newProvisioner(logLevel string) (*assistant.Provisioner, *zap.Logger, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	logger, err := app.NewLogger(logLevel)
	if err != nil {
		return nil, nil, err
	}
	return assistant.NewProvisioner(openai.NewClient(key), logger), logger, nil
}

func newCreateCmd(logLevel *string) *cobra.Command {
	var name, model string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an assistant with the save_value tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, logger, err := newProvisioner(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			id, err := p.CreateAssistant(cmd.Context(), name, model)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OPENAI_ASSISTANT_ID=%s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", assistant.DefaultAssistantName, "assistant name")
	cmd.Flags().StringVar(&model, "model", openai.GPT4o, "assistant model")
	return cmd
}

func newAttachFilesCmd(logLevel *string) *cobra.Command {
	var assistantID, storeName string

	cmd := &cobra.Command{
		Use:   "attach-files <file>...",
		Short: "Upload reference documents and enable file_search on the assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if assistantID == "" {
				assistantID = os.Getenv("OPENAI_ASSISTANT_ID")
			}
			if assistantID == "" {
				return fmt.Errorf("--assistant or OPENAI_ASSISTANT_ID is required")
			}

			p, logger, err := newProvisioner(*logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			storeID, err := p.AttachFiles(cmd.Context(), assistantID, storeName, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "vector store %s attached to %s\n", storeID, assistantID)
			return nil
		},
	}
	cmd.Flags().StringVar(&assistantID, "assistant", "", "assistant ID (defaults to OPENAI_ASSISTANT_ID)")
	cmd.Flags().StringVar(&storeName, "store-name", "Reference documents", "vector store name")
	return cmd
}
