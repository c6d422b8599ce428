package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/spherical/doc-converter/cmd/doc-converter/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
