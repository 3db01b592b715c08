// Command nocozen-sync runs the nocozenbase data synchronization engine.
package main

import (
	"fmt"
	"os"

	"github.com/nocozen/nocozenbase/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
