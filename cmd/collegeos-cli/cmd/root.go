package cmd

import (
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree. Files are read through fs so tests can
// use an in-memory filesystem.
func NewRootCmd(fs afero.Fs) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "collegeos-cli",
		Short: "CollegeOS CLI tool",
		Long: `CollegeOS CLI is a command-line companion for the CollegeOS chat server.

Available commands:
  member    Manage conversation memberships
  push      Inspect push payloads and send them to a running server
  typing    Render and inspect typing presence
  version   Print the version number

Use "collegeos-cli [command] --help" for more information about a specific command.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newMemberCmd())
	rootCmd.AddCommand(newPushCmd(fs))
	rootCmd.AddCommand(newTypingCmd())
	return rootCmd
}

// Execute executes the root command
func Execute() {
	if err := NewRootCmd(afero.NewOsFs()).Execute(); err != nil {
		os.Exit(1)
	}
}
