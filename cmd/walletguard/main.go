package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"walletguard-lab/internal/cli"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "walletguard",
		Short:         "Offline wallet interaction risk checks",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cli.AddCommands(root)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
