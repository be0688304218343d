package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

type sessionSummaryRow struct {
	Field string
	Value string
}

type sessionSummary []sessionSummaryRow

func (s sessionSummary) Headers() []string { return []string{"FIELD", "VALUE"} }

func (s sessionSummary) Rows() [][]string {
	rows := make([][]string, len(s))
	for i, r := range s {
		rows[i] = []string{r.Field, r.Value}
	}
	return rows
}

var openDeviceType string

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a session against the in-memory simulated device and close it",
	Long: `open runs the session open sequence (lock pool, pick instance,
allocate session id, push open-config blob and keep-alive timeout) against
the in-process simulated device, reports the resulting session, then closes
it. There is no persistent xcoderctl daemon, so a session never outlives a
single invocation; use this to sanity-check the open/close sequence without
real hardware.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseDeviceKind(openDeviceType)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		dev, sctx, err := openSmokeTestSession(ctx, kind)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}

		sctx.Lock()
		summary := sessionSummary{
			{"session_id", fmt.Sprintf("%d", sctx.SessionID)},
			{"instance_id", sctx.InstanceID},
			{"device_type", sctx.DeviceKind.String()},
			{"state", sctx.State.String()},
		}
		sessionID := sctx.SessionID
		sctx.Unlock()

		if err := session.Close(ctx, sctx, dev, dev); err != nil {
			return fmt.Errorf("close session %d: %w", sessionID, err)
		}

		p, err := printer()
		if err != nil {
			return err
		}
		return p.Print(summary)
	},
}

func init() {
	openCmd.Flags().StringVarP(&openDeviceType, "type", "t", "decoder", "device type (decoder|encoder|scaler|ai|uploader)")
}
