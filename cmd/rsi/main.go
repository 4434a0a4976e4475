// Command rsi runs the governed change pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rsi/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
