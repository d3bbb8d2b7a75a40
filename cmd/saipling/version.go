package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TenVexAI/saipling/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information of saipling in JSON format.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		json, err := version.Get().JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), json)
		return nil
	},
}
