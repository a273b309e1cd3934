// Package main is the entry point for the siren CLI tool.
package main

import (
	"os"

	"github.com/calm-otter-ops/siren/cmd/sirenctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
