package main

import (
	"fmt"
	"os"

	"github.com/edgeward/fleet-backend/cmd/rolloutctl/commands"
	"github.com/edgeward/fleet-backend/internal/client"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := commands.NewRootCommand(fmt.Sprintf("%s (commit: %s)", version, commit))
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if client.IsConflict(err) {
			fmt.Fprintln(os.Stderr, "hint: the rollout changed since it was read; run `rolloutctl rollouts get` and retry with the new --if-version")
		}
		os.Exit(1)
	}
}
