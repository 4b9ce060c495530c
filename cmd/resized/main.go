package main

import (
	"fmt"
	"os"

	"github.com/dunamismax/resized/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "resized: %v\n", err)
		os.Exit(1)
	}
}
