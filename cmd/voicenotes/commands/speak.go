package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	speakLanguage string
	speakFile     string
)

var speakCmd = &cobra.Command{
	Use:   "speak [text...]",
	Short: "Synthesize text to a WAV file and print its path",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := inputText(args, speakFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		path, err := a.TTS.Synthesize(cmd.Context(), text, speakLanguage)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	speakCmd.Flags().StringVarP(&speakLanguage, "language", "l", "en", "voice language")
	speakCmd.Flags().StringVarP(&speakFile, "file", "f", "", "read text from file, - for stdin")
}
