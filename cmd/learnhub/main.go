package main

import (
	"os"

	"github.com/learnhub/learnhub/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
