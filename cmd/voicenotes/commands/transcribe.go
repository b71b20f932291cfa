package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var selfTest bool

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [file]",
	Short: "Transcribe a WAV or raw 16 kHz PCM file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		var text string
		switch {
		case selfTest:
			text, err = a.Controller.TestTranscription(cmd.Context())
		case len(args) == 1:
			data, rerr := os.ReadFile(args[0])
			if rerr != nil {
				return fmt.Errorf("failed to read audio: %w", rerr)
			}
			text, err = a.STT.Transcribe(cmd.Context(), data)
		default:
			return fmt.Errorf("an audio file is required unless --self-test is set")
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	transcribeCmd.Flags().BoolVar(&selfTest, "self-test", false, "transcribe one second of silence to validate the setup")
}
