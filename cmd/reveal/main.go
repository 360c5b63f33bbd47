// Command reveal validates configuration documents, runs scenario files
// and records interactions against the adaptation engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/reveal/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
