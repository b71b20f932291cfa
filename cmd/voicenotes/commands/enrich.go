package commands

import (
	"github.com/spf13/cobra"
)

var (
	enrichPreset string
	enrichFile   string
	enrichTest   bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [text...]",
	Short: "Run text through an enrichment preset",
	Long: `Run text through an enrichment preset and print the structured result.

Examples:
  voicenotes enrich "call the bank tomorrow and cancel the old card"
  voicenotes enrich --preset meeting_summary -f transcript.txt
  cat transcript.txt | voicenotes enrich -f -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		if enrichTest {
			res, err := a.Controller.TestEnrichment(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}

		text, err := inputText(args, enrichFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		res, err := a.LLM.Enrich(cmd.Context(), text, enrichPreset)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	enrichCmd.Flags().StringVarP(&enrichPreset, "preset", "p", "", "preset name (default: ACTIVE_PRESET)")
	enrichCmd.Flags().StringVarP(&enrichFile, "file", "f", "", "read text from file, - for stdin")
	enrichCmd.Flags().BoolVar(&enrichTest, "self-test", false, "enrich a fixed sentence to validate the setup")
}
