// Command voicenotes records, transcribes and enriches voice notes.
//
// Usage:
//
//	voicenotes [flags] <command> [args]
//
// Commands:
//
//	serve       - run the local control API and event stream
//	record      - record the main slot until interrupted and print the transcript
//	transcribe  - transcribe a WAV or raw PCM file
//	enrich      - run text through an enrichment preset
//	ask         - ask a question about a transcript
//	speak       - synthesize text to a WAV file
//	presets     - list enrichment presets
//	models      - list models of the active enrichment provider
//
// Configuration is read from the environment and an optional .env file.
package main

import (
	"fmt"
	"os"

	"github.com/lexiqai/voice-notes/cmd/voicenotes/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
