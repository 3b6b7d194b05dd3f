package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/quipu"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of quipu",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("quipu version %s\n", strings.TrimSpace(quipu.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
