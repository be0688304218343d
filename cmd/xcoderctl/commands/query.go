package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/controlplane"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "List every session known to a running process's controlplane service",
	Long: `query dials the controlplane diagnostic gRPC service (see
--controlplane) and lists every currently registered session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := controlplane.Dial(ctx, Flags.ControlPlaneAddr)
		if err != nil {
			return fmt.Errorf("dial controlplane at %s: %w", Flags.ControlPlaneAddr, err)
		}
		defer func() { _ = client.Close() }()

		resp, err := client.ListSessions(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		p, err := printer()
		if err != nil {
			return err
		}
		return p.Print(summaryTable(resp.Sessions))
	},
}
