// Package main provides the entry point for the shelld daemon.
package main

import (
	"fmt"
	"os"

	"github.com/telnet2/shelld/cmd/shelld/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
