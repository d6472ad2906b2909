package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/northpeak/aso-bible-cli/internal/merger"
	"github.com/northpeak/aso-bible-cli/internal/store"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect published ruleset version snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		vertical, _ := cmd.Flags().GetString("vertical")
		market, _ := cmd.Flags().GetString("market")
		activeOnly, _ := cmd.Flags().GetBool("active")
		limit, _ := cmd.Flags().GetInt("limit")

		snaps, err := st.ListSnapshots(ctx, store.SnapshotFilter{
			Vertical:   vertical,
			Market:     market,
			ActiveOnly: activeOnly,
			Limit:      limit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "ID\tVERTICAL\tMARKET\tACTIVE\tCREATED")
		for _, s := range snaps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
				s.ID, s.Vertical, s.Market, s.IsActive, s.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active snapshot for a (vertical, market) pair",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		vertical, _ := cmd.Flags().GetString("vertical")
		market, _ := cmd.Flags().GetString("market")

		snap, err := st.LatestSnapshot(ctx, vertical, market)
		if err != nil {
			return err
		}
		if snap == nil {
			return eris.Errorf("no snapshot published for vertical=%s market=%s", vertical, market)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

var snapshotsDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare the active snapshot against the current merge result",
	Long: `Compare the last published snapshot for a (vertical, market) pair
against what merging would produce right now. A non-empty diff means edits
have landed since the last publish and the runtime is behind the editor.`,
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

		snap, err := st.LatestSnapshot(ctx, vertical, market)
		if err != nil {
			return err
		}
		if snap == nil {
			return eris.Errorf("no snapshot published for vertical=%s market=%s", vertical, market)
		}

		current, err := merger.New(reg, st).Merge(ctx, merger.Target{Vertical: vertical, Market: market})
		if err != nil {
			return err
		}

		changes := merger.Diff(&snap.Ruleset, current)
		if len(changes) == 0 {
			fmt.Println("Snapshot is up to date.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "SECTION\tFIELD\tSNAPSHOT\tCURRENT")
		for _, c := range changes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Section, c.Field, c.Old, c.New)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{snapshotsListCmd, snapshotsShowCmd, snapshotsDiffCmd} {
		c.Flags().String("vertical", "", "vertical id")
		c.Flags().String("market", "", "market id")
	}
	_ = snapshotsShowCmd.MarkFlagRequired("vertical")
	_ = snapshotsDiffCmd.MarkFlagRequired("vertical")

	snapshotsListCmd.Flags().Bool("active", false, "only active snapshots")
	snapshotsListCmd.Flags().Int("limit", 50, "maximum rows to return")

	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsShowCmd, snapshotsDiffCmd)
	rootCmd.AddCommand(snapshotsCmd)
}
