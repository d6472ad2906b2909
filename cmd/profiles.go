package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect and sync code-defined vertical and market profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the verticals and markets the binary ships with",
	RunE: func(_ *cobra.Command, _ []string) error {
		reg, err := initRegistry()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintln(w, "VERTICAL\tLABEL\tOVERLAY")
		for _, v := range reg.AllVerticals() {
			fmt.Fprintf(w, "%s\t%s\t%t\n", v.ID, v.Label, v.Overlay)
		}

		fmt.Fprintln(w, "\nMARKET\tLABEL\tLOCALES\tOVERLAY")
		for _, m := range reg.AllMarkets() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", m.ID, m.Label, strings.Join(m.Locales, ","), m.Overlay)
		}
		return nil
	},
}

var profilesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror code-defined profiles into the database",
	Long: `Write one mirror row per code-defined vertical and market so that
override tables have referenceable targets and the editor can join against
them. Rows for profiles no longer in code are left alone; the audit flags
them as orphans.`,
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

		n, err := st.SyncProfiles(ctx, reg.AllVerticals(), reg.AllMarkets())
		if err != nil {
			return err
		}

		zap.L().Info("profiles synced", zap.Int("rows", n))
		fmt.Printf("Synced %d profile rows\n", n)
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesListCmd, profilesSyncCmd)
	rootCmd.AddCommand(profilesCmd)
}
