package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/nfrund/collegeos/internal/app"
	"github.com/nfrund/collegeos/internal/config"
	"github.com/nfrund/collegeos/internal/database"
	"github.com/spf13/cobra"
)

func newMemberCmd() *cobra.Command {
	memberCmd := &cobra.Command{
		Use:   "member",
		Short: "Manage conversation memberships",
		Long: `Sessions only see conversations their user is a member of. These commands
edit the conversation_member table directly. Connection settings come from the
environment (SURREAL_URL and friends, or a .env file).

Examples:
  collegeos-cli member add conversation:algebra user:ana
  collegeos-cli member remove conversation:algebra user:ana
  collegeos-cli member list user:ana`,
	}
	memberCmd.AddCommand(&cobra.Command{
		Use:   "add <conversation-id> <user-id>",
		Short: "Add a user to a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMembers(cmd.Context(), func(store *database.MembershipStore) error {
				if err := store.Add(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s\n", args[1], args[0])
				return nil
			})
		},
	})
	memberCmd.AddCommand(&cobra.Command{
		Use:   "remove <conversation-id> <user-id>",
		Short: "Remove a user from a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMembers(cmd.Context(), func(store *database.MembershipStore) error {
				if err := store.Remove(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", args[1], args[0])
				return nil
			})
		},
	})
	memberCmd.AddCommand(&cobra.Command{
		Use:   "list <user-id>",
		Short: "List the conversations a user belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMembers(cmd.Context(), func(store *database.MembershipStore) error {
				convs, err := store.ConversationsOf(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				writeMemberships(cmd.OutOrStdout(), args[0], convs)
				return nil
			})
		},
	})
	return memberCmd
}

func withMembers(ctx context.Context, fn func(*database.MembershipStore) error) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	c := app.New(ctx, cfg)
	defer c.Close(ctx)

	store, err := c.Members()
	if err != nil {
		return err
	}
	return fn(store)
}

func writeMemberships(out io.Writer, userID string, convs []string) {
	if len(convs) == 0 {
		fmt.Fprintf(out, "%s is not a member of any conversation\n", userID)
		return
	}
	convs = slices.Clone(convs)
	slices.Sort(convs)
	for _, c := range convs {
		fmt.Fprintln(out, c)
	}
}
