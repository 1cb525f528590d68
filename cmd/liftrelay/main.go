package main

import (
	"os"

	"github.com/agentworkforce/liftrelay/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
