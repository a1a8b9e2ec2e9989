package main

import (
	"os"

	"github.com/callin2/agent-memory-sub006/internal/commands"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
