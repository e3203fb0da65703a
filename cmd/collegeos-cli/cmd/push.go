package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nfrund/collegeos/internal/handlers"
	"github.com/nfrund/collegeos/internal/notify"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newPushCmd(fs afero.Fs) *cobra.Command {
	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Work with push notification payloads",
	}
	pushCmd.AddCommand(newPushDecodeCmd(fs))
	pushCmd.AddCommand(newPushSendCmd(fs))
	return pushCmd
}

// decodedPush is what the service worker would display for a payload.
type decodedPush struct {
	Message   notify.WorkerMessage  `json:"message"`
	Options   notify.DisplayOptions `json:"options"`
	Malformed bool                  `json:"malformed"`
}

func newPushDecodeCmd(fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file>",
		Short: "Show how a push payload would be displayed",
		Long: `Decode a push payload file the way the server does and print the resulting
notification as JSON. Missing fields take their defaults; a body that is not
JSON yields the default notification and is reported as malformed.

Examples:
  collegeos-cli push decode payload.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := afero.ReadFile(fs, args[0])
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			msg, perr := notify.ParsePush(body)
			if perr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", perr)
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(decodedPush{
				Message:   msg,
				Options:   notify.DisplayOptionsFor(msg.Payload),
				Malformed: perr != nil,
			})
		},
	}
}

func newPushSendCmd(fs afero.Fs) *cobra.Command {
	var (
		server string
		secret string
	)
	cmd := &cobra.Command{
		Use:   "send <user-id> <file>",
		Short: "Deliver a push payload to a user through a running server",
		Long: `Post a push payload file to the server's push intake. Every open session of
the user receives it.

Examples:
  collegeos-cli push send user:ana payload.json --secret $PUSH_SECRET`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := afero.ReadFile(fs, args[1])
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			endpoint := strings.TrimRight(server, "/") + "/api/push/" + url.PathEscape(args[0])
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(handlers.PushSecretHeader, secret)

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("send push: %w", err)
			}
			defer resp.Body.Close()

			reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("server answered %s: %s", resp.Status, strings.TrimSpace(string(reply)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Delivered to %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "Base URL of the CollegeOS server")
	cmd.Flags().StringVar(&secret, "secret", "", "Push intake secret (PUSH_SECRET)")
	return cmd
}
