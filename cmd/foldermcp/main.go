// Package main is the entry point for the foldermcp CLI.
package main

import (
	"os"

	"github.com/foldermcp/foldermcp/cmd/foldermcp/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
