package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nfrund/collegeos/internal/app"
	"github.com/nfrund/collegeos/internal/config"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/typing"
	"github.com/spf13/cobra"
)

func newTypingCmd() *cobra.Command {
	typingCmd := &cobra.Command{
		Use:   "typing",
		Short: "Render and inspect typing presence",
	}
	typingCmd.AddCommand(newTypingDescribeCmd())
	typingCmd.AddCommand(newTypingListCmd())
	return typingCmd
}

func newTypingDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe [names...]",
		Short: "Print the typing indicator text for the given names",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), typing.Describe(args))
		},
	}
}

func newTypingListCmd() *cobra.Command {
	var (
		conversation string
		format       string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List who is typing in a conversation",
		Long: `Query the typing_status table for a conversation and list the rows that are
still fresh. Connection settings come from the environment (SURREAL_URL and
friends, or a .env file).

Examples:
  collegeos-cli typing list --conversation conversation:algebra
  collegeos-cli typing list --conversation conversation:algebra --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("invalid format %q, valid formats: table, json", format)
			}

			cfg, err := config.New()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c := app.New(ctx, cfg)
			defer c.Close(ctx)

			store, err := c.Typing()
			if err != nil {
				return err
			}
			now := time.Now()
			rows, err := store.ListActive(ctx, conversation, now.Add(-cfg.TypingStaleWindow))
			if err != nil {
				return err
			}
			active := domain.ActiveTypists(rows, now, cfg.TypingStaleWindow, "")

			if format == "json" {
				return writeTypingJSON(cmd.OutOrStdout(), conversation, active)
			}
			writeTypingTable(cmd.OutOrStdout(), active, now)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "Conversation ID")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table, json)")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func sortTypists(active []domain.TypingStatus) {
	slices.SortFunc(active, func(a, b domain.TypingStatus) int { return strings.Compare(a.UserID, b.UserID) })
}

func writeTypingTable(out io.Writer, active []domain.TypingStatus, now time.Time) {
	sortTypists(active)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "USER\tNAME\tUPDATED")
	fmt.Fprintln(w, "----\t----\t-------")
	if len(active) == 0 {
		fmt.Fprintln(w, "Nobody is typing")
		return
	}
	for _, s := range active {
		fmt.Fprintf(w, "%s\t%s\t%s ago\n", s.UserID, s.DisplayName, now.Sub(s.LastUpdatedAt).Round(time.Second))
	}
}

func writeTypingJSON(out io.Writer, conversation string, active []domain.TypingStatus) error {
	sortTypists(active)
	output := struct {
		ConversationID string                `json:"conversation_id"`
		Typing         []domain.TypingStatus `json:"typing"`
		Text           string                `json:"text"`
	}{
		ConversationID: conversation,
		Typing:         active,
		Text:           typing.Describe(typing.Names(active)),
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
