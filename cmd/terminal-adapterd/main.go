// Package main provides the entry point for the terminal adapter daemon.
package main

import (
	"fmt"
	"os"

	"github.com/talos-sh/terminal-adapter/cmd/terminal-adapterd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
