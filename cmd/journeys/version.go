package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/journeys"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of journeys",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "journeys version %s\n", strings.TrimSpace(journeys.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
