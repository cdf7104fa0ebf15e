// Package main provides vcnictl, a headless client for the voice session.
//
// Usage:
//
//	vcnictl [flags] <command> [args]
//
// Commands:
//
//	listen  - Hands-free listening until interrupted
//	ask     - Send a typed command to the assistant
//	say     - Speak text through the synthesis chain
//	token   - Fetch a transcription credential
package main

import (
	"fmt"
	"os"

	"vcni/cmd/vcnictl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
