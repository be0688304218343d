package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/controlplane"
)

var statusSessionID uint16

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running process's controlplane service for one session",
	Long: `status dials the controlplane diagnostic gRPC service (see
--controlplane) and reports the live state of a single session by id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := controlplane.Dial(ctx, Flags.ControlPlaneAddr)
		if err != nil {
			return fmt.Errorf("dial controlplane at %s: %w", Flags.ControlPlaneAddr, err)
		}
		defer func() { _ = client.Close() }()

		resp, err := client.Status(ctx, statusSessionID)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if !resp.Found {
			return fmt.Errorf("no session with id %d", statusSessionID)
		}

		p, err := printer()
		if err != nil {
			return err
		}
		return p.Print(summaryTable{resp.Summary})
	},
}

type summaryTable []controlplane.SessionSummary

func (s summaryTable) Headers() []string {
	return []string{"SESSION_ID", "INSTANCE_ID", "DEVICE_TYPE", "STATE", "FAILURES", "FRAME_NUM", "PKT_NUM", "READY_TO_CLOSE"}
}

func (s summaryTable) Rows() [][]string {
	rows := make([][]string, len(s))
	for i, row := range s {
		rows[i] = []string{
			fmt.Sprintf("%d", row.SessionID),
			row.InstanceID,
			row.DeviceType,
			row.State,
			fmt.Sprintf("%d", row.ConsecutiveFailures),
			fmt.Sprintf("%d", row.FrameNum),
			fmt.Sprintf("%d", row.PktNum),
			fmt.Sprintf("%t", row.ReadyToClose),
		}
	}
	return rows
}

func init() {
	statusCmd.Flags().Uint16VarP(&statusSessionID, "session", "s", 0, "session id to query")
	_ = statusCmd.MarkFlagRequired("session")
}
