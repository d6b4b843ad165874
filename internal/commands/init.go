package commands

import (
	"fmt"
	"path/filepath"

	"github.com/courierfs/courier/internal/ui"
	"github.com/courierfs/courier/pkg/profile"
	"github.com/spf13/cobra"
)

// NewInitCmd creates a new init command
func NewInitCmd() *cobra.Command {
	var dir string
	var endpoint string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a courier.toml upload profile",
		Long: `Create a courier.toml upload profile with sensible defaults.

The profile pins the upload endpoint and tuning options for a directory, so
"courier upload" works there without flags.

Example:
  courier init --endpoint https://upload.example.com
  courier init --dir ./data --endpoint https://upload.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, dir, endpoint)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "./", "Directory to write the profile in")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Upload endpoint to pin in the profile")

	return cmd
}

func runInit(cmd *cobra.Command, dir, endpoint string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	path := filepath.Join(dir, profile.DefaultFileName)

	p := &profile.Profile{
		Courier: profile.CourierSection{
			Endpoint: endpoint,
			Include:  profile.DefaultInclude,
			Upload: profile.UploadSection{
				ChunkSize: "1MiB",
			},
		},
	}
	if err := profile.Write(path, p); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessStyle.Render("✓ Created "+path))
	if endpoint == "" {
		fmt.Fprintln(cmd.OutOrStdout(), ui.HelpStyle.Render("Set the endpoint in "+path+" or pass --endpoint to courier upload"))
	}

	return nil
}
