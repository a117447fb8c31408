// Package cli implements the circdesk command line: the server itself and a
// set of client commands that talk to a running server.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"circdesk/internal/clients"
)

var rootCmd = &cobra.Command{
	Use:   "circdesk",
	Short: "Library circulation desk",
	Long: `circdesk tracks which copies of the collection are on the shelf, on loan or
held for a patron, and enforces the lending rules.

Run 'circdesk serve' to start the server. The other commands talk to a running
server; point them at it with --server or CIRCDESK_SERVER and authenticate with
--token or CIRCDESK_TOKEN (see 'circdesk login').`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", envOr("CIRCDESK_SERVER", "http://localhost:8080"), "circdesk server URL")
	rootCmd.PersistentFlags().String("token", os.Getenv("CIRCDESK_TOKEN"), "bearer token issued by 'circdesk login'")
}

// Execute runs the command named on the command line. An interrupt or
// SIGTERM cancels the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiClient builds a client from the persistent --server and --token flags.
func apiClient(cmd *cobra.Command) *clients.Client {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return clients.New(server, token)
}

func parseID(what, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q", what, raw)
	}
	return id, nil
}

// patronAndItem parses the PATRON_ID ITEM_ID argument pair most circulation
// commands take.
func patronAndItem(args []string) (uuid.UUID, uuid.UUID, error) {
	patronID, err := parseID("patron", args[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	itemID, err := parseID("item", args[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return patronID, itemID, nil
}
