package main

import (
	"os"

	"obsidion/cmd/obsidion/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
