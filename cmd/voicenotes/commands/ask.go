package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-notes/internal/apperr"
)

var askTranscript string

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Ask a question about a transcript",
	Long: `Ask a question about a transcript file. Ctrl-C cancels the request.

Example:
  voicenotes ask -t meeting.txt "who owns the budget follow-up?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if askTranscript == "" {
			return fmt.Errorf("transcript file is required, use -t")
		}
		transcript, err := os.ReadFile(askTranscript)
		if err != nil {
			return fmt.Errorf("failed to read transcript: %w", err)
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		answer, err := a.LLM.AskQuestion(cmd.Context(), string(transcript), strings.Join(args, " "))
		if apperr.IsCancelled(err) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Cancelled.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askTranscript, "transcript", "t", "", "transcript file")
}
