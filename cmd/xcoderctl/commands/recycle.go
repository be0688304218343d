package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sportsball-ai/go-xcoder-session/internal/cliutil/prompt"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/hwframe"
	"github.com/sportsball-ai/go-xcoder-session/pkg/xcoder/session"
)

var (
	recycleCount int
	recycleAll   bool
	recycleForce bool
)

var recycleCmd = &cobra.Command{
	Use:   "recycle",
	Short: "Upload frames to the simulated device and recycle their surfaces",
	Long: `recycle opens an uploader session against the in-memory simulated
device, configures a frame pool of --count slots, fetches one hw-frame
surface and recycles it, demonstrating the upload/fetch/recycle cycle of
the hw-frame pipeline without real hardware. Pass --all to fetch and
recycle --count surfaces in one run instead of stopping after the first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		label := "recycle 1 surface"
		if recycleAll {
			label = fmt.Sprintf("recycle all %d fetched surfaces", recycleCount)
		}
		ok, err := prompt.ConfirmWithForce(label, recycleForce)
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
		dev, sctx, err := openSmokeTestSession(ctx, session.Uploader)
		if err != nil {
			return fmt.Errorf("open uploader session: %w", err)
		}
		defer func() { _ = session.Close(ctx, sctx, dev, dev) }()

		pipe := hwframePipelineFor(dev, sctx)
		if err := pipe.Configure(ctx, hwframe.PoolConfig{
			Width: 1920, Height: 1080, BitDepthFactor: 1, PoolSize: recycleCount,
		}); err != nil {
			return fmt.Errorf("configure frame pool: %w", err)
		}

		payload := make([]byte, 1920*1080)
		surfaces := make([]*session.HwFrameSurface, 0, recycleCount)
		for i := 0; i < recycleCount; i++ {
			if err := pipe.Write(ctx, payload); err != nil {
				return fmt.Errorf("write frame %d: %w", i, err)
			}
			surf, err := pipe.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetch surface %d: %w", i, err)
			}
			surfaces = append(surfaces, surf)
			if !recycleAll {
				break
			}
		}

		rows := make(recycleReport, 0, len(surfaces))
		for _, surf := range surfaces {
			if err := pipe.RecycleSurface(ctx, surf); err != nil {
				return fmt.Errorf("recycle surface %d: %w", surf.FrameIndex, err)
			}
			rows = append(rows, recycleRow{FrameIndex: surf.FrameIndex, Recycled: surf.Recycled()})
		}

		p, perr := printer()
		if perr != nil {
			return perr
		}
		return p.Print(rows)
	},
}

type recycleRow struct {
	FrameIndex int
	Recycled   bool
}

type recycleReport []recycleRow

func (r recycleReport) Headers() []string { return []string{"FRAME_INDEX", "RECYCLED"} }

func (r recycleReport) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, row := range r {
		rows[i] = []string{fmt.Sprintf("%d", row.FrameIndex), fmt.Sprintf("%t", row.Recycled)}
	}
	return rows
}

func init() {
	recycleCmd.Flags().IntVarP(&recycleCount, "count", "n", 1, "frame pool size, and number of surfaces to fetch with --all")
	recycleCmd.Flags().BoolVar(&recycleAll, "all", false, "recycle every fetched surface, not just the first")
	recycleCmd.Flags().BoolVarP(&recycleForce, "force", "f", false, "skip confirmation prompt")
}
