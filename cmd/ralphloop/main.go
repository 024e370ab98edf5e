// Command ralphloop runs unattended AI development loops: prompt the
// backend, let it work, inspect the output, repeat.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "ralphloop",
	Short:   "Run unattended AI development loops",
	Version: version,
	Long: `ralphloop repeatedly prompts an AI backend with the same task and lets it
iterate on a working directory until the iteration budget or timeout runs out.

The AI signals that it believes the task is done by emitting a promise
phrase; the signal is surfaced but never stops the loop early.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
