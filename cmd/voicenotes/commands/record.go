package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var recordEnrich bool

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record until interrupted, then transcribe",
	Long: `Record the main slot until Ctrl-C, then print the transcript.

With --enrich the transcript is also run through the active preset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if _, err := a.Controller.StartRecording(context.Background()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Recording... press Ctrl-C to stop.")
		<-cmd.Context().Done()

		// The command context is already cancelled; transcription gets its own.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		text, err := a.Controller.StopRecording(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)

		if recordEnrich && text != "" {
			res, err := a.Controller.Enrich(ctx, text, "")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().BoolVar(&recordEnrich, "enrich", false, "enrich the transcript after recording")
}
