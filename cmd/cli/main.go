// Package main is the entry point for the dune CLI binary.
package main

import (
	"os"

	"dune-client/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
