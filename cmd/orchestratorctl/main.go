// Command orchestratorctl is the control-plane CLI: it starts the
// Control Surface server and gives operators thin wrappers over its
// session/orchestration/inbox endpoints.
package main

import (
	"fmt"
	"os"

	"github.com/fyp-systems/fyp-core/cmd/orchestratorctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitCodeFor(err))
	}
}
