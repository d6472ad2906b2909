package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/northpeak/aso-bible-cli/internal/merger"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Merge and publish an immutable ruleset version snapshot",
	Long: `Merge the target and persist the result as the new active snapshot
for its (vertical, market) pair. The previous active snapshot is superseded
and the new one inserted in one transaction. Snapshots are tenant-neutral,
so --org is not accepted here; use merge to preview client-scope results.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		reg, err := initRegistry()
		if err != nil {
			return err
		}

		vertical, _ := cmd.Flags().GetString("vertical")
		market, _ := cmd.Flags().GetString("market")

		snap, err := merger.New(reg, st).Publish(ctx, merger.Target{
			Vertical: vertical,
			Market:   market,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Published snapshot %s (vertical=%s market=%s)\n", snap.ID, snap.Vertical, snap.Market)
		return nil
	},
}

func init() {
	publishCmd.Flags().String("vertical", "", "vertical id (required)")
	publishCmd.Flags().String("market", "", "market id")
	_ = publishCmd.MarkFlagRequired("vertical")

	rootCmd.AddCommand(publishCmd)
}
