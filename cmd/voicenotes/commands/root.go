package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-notes/internal/app"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
)

var (
	logLevel    string
	llmProvider string
	sttProvider string
	model       string
)

var rootCmd = &cobra.Command{
	Use:           "voicenotes",
	Short:         "Voice capture, transcription and note enrichment",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&sttProvider, "stt", "", "speech-to-text provider (overrides STT_PROVIDER)")
	rootCmd.PersistentFlags().StringVar(&llmProvider, "llm", "", "enrichment provider (overrides LLM_PROVIDER)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "enrichment model (overrides LLM_MODEL)")

	rootCmd.AddCommand(serveCmd, recordCmd, transcribeCmd, enrichCmd, askCmd, speakCmd, presetsCmd, modelsCmd)
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// loadApp reads configuration, applies flag overrides and builds the app.
func loadApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)

	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	if sttProvider != "" {
		if err := a.Settings.SetSTTProvider(sttProvider); err != nil {
			return nil, err
		}
	}
	if llmProvider != "" {
		if err := a.Settings.SetLLMProvider(llmProvider); err != nil {
			return nil, err
		}
	}
	if model != "" {
		if err := a.Settings.SetModel(model); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// inputText joins args, or reads from file ("-" for stdin) when args are empty.
func inputText(args []string, file string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if file == "" {
		return "", fmt.Errorf("no input: pass text as arguments or use -f")
	}
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
