package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sportsball-ai/go-xcoder-session/internal/cliutil/prompt"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

var (
	closeDeviceType string
	closeForce      bool
)

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Open a session, then walk the close sequence with confirmation",
	Long: `close opens a session against the in-memory simulated device and
then runs the close sequence (keep-alive goroutine teardown, close-session
retry loop, context reset), then prints the id of the closed session. A way
to exercise the close retry budget without real hardware.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseDeviceKind(closeDeviceType)
		if err != nil {
			return err
		}

		ok, err := prompt.ConfirmWithForce(fmt.Sprintf("close a freshly opened %s session?", kind), closeForce)
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}

		ctx := cmd.Context()
		dev, sctx, err := openSmokeTestSession(ctx, kind)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}

		sctx.Lock()
		sessionID := sctx.SessionID
		sctx.Unlock()

		if err := session.Close(ctx, sctx, dev, dev); err != nil {
			return fmt.Errorf("close session %d: %w", sessionID, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "session %d closed\n", sessionID)
		return nil
	},
}

func init() {
	closeCmd.Flags().StringVarP(&closeDeviceType, "type", "t", "decoder", "device type (decoder|encoder|scaler|ai|uploader)")
	closeCmd.Flags().BoolVarP(&closeForce, "force", "f", false, "skip confirmation prompt")
}
