package commands

import (
	"fmt"

	"github.com/courierfs/courier/internal/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates a version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetFullVersion())
		},
	}
}
