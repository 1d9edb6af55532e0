// Package main provides the entry point for the claudia CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/claudia/cmd/claudia/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
