package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is bumped manually; corestore has no release tooling of its own.
const version = "0.1.0"

func init() {
	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of corectl",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		})
}
