package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/northpeak/aso-bible-cli/internal/model"
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Manage ruleset overrides",
}

var overrideSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace an override",
	Long: `Create or replace an override at a scope. If an active override
already exists for the same natural key, it is superseded and the new row
gets its version plus one; history is never rewritten.

The payload is read as JSON from --payload or, when --payload is "-", from
stdin. Unknown payload fields are rejected.

Examples:
  # Mark a token as highly relevant in the German market
  aso-bible override set --kind token_relevance --scope market --market de \
    --payload '{"token":"cashback","relevance":0.9}'

  # Client-scope KPI multiplier
  aso-bible override set --kind kpi_weight --scope client --org org-1 \
    --payload '{"kpi_name":"factual_grounding","weight_multiplier":1.2}'`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		kindStr, _ := cmd.Flags().GetString("kind")
		scopeStr, _ := cmd.Flags().GetString("scope")
		vertical, _ := cmd.Flags().GetString("vertical")
		market, _ := cmd.Flags().GetString("market")
		org, _ := cmd.Flags().GetString("org")
		payloadArg, _ := cmd.Flags().GetString("payload")

		raw := []byte(payloadArg)
		if payloadArg == "-" {
			raw, err = io.ReadAll(os.Stdin)
			if err != nil {
				return eris.Wrap(err, "read payload from stdin")
			}
		}

		payload, err := model.DecodePayload(model.OverrideKind(kindStr), raw)
		if err != nil {
			return err
		}

		rec, err := st.UpsertOverride(ctx, model.OverrideRecord{
			Scope:          model.Scope(scopeStr),
			Vertical:       vertical,
			Market:         market,
			OrganizationID: org,
			Payload:        payload,
		})
		if err != nil {
			return err
		}

		zap.L().Info("override saved",
			zap.String("kind", string(rec.Payload.Kind())),
			zap.String("id", rec.ID),
			zap.Int("version", rec.Version),
		)
		fmt.Printf("Saved %s override %s (version %d)\n", rec.Payload.Kind(), rec.ID, rec.Version)
		return nil
	},
}

var overrideListCmd = &cobra.Command{
	Use:   "list",
	Short: "List overrides",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		kindStr, _ := cmd.Flags().GetString("kind")
		scopeStr, _ := cmd.Flags().GetString("scope")
		vertical, _ := cmd.Flags().GetString("vertical")
		market, _ := cmd.Flags().GetString("market")
		org, _ := cmd.Flags().GetString("org")
		all, _ := cmd.Flags().GetBool("all")
		asJSON, _ := cmd.Flags().GetBool("json")

		recs, err := st.ListOverrides(ctx, model.OverrideFilter{
			Kind:            model.OverrideKind(kindStr),
			Scope:           model.Scope(scopeStr),
			Vertical:        vertical,
			Market:          market,
			OrganizationID:  org,
			IncludeInactive: all,
		})
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "ID\tKIND\tSCOPE\tTARGET\tKEY\tVER\tACTIVE")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%t\n",
				r.ID, r.Payload.Kind(), r.Scope, r.TargetKey(), r.Payload.NaturalKey(), r.Version, r.IsActive)
		}
		return nil
	},
}

var overrideRmCmd = &cobra.Command{
	Use:   "rm <kind> <id>",
	Short: "Deactivate an override",
	Long: `Deactivate an override by kind and row id. The row is kept for
history; the next merge simply stops applying it.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeactivateOverride(ctx, model.OverrideKind(args[0]), args[1]); err != nil {
			return err
		}
		fmt.Printf("Deactivated %s override %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{overrideSetCmd, overrideListCmd} {
		f := c.Flags()
		f.String("kind", "", "override kind")
		f.String("scope", "", "scope: global, vertical, market, or client")
		f.String("vertical", "", "vertical id (vertical scope)")
		f.String("market", "", "market id (market scope)")
		f.String("org", "", "organization id (client scope)")
	}
	overrideSetCmd.Flags().String("payload", "", `payload JSON, or "-" for stdin`)
	_ = overrideSetCmd.MarkFlagRequired("kind")
	_ = overrideSetCmd.MarkFlagRequired("scope")
	_ = overrideSetCmd.MarkFlagRequired("payload")

	overrideListCmd.Flags().Bool("all", false, "include superseded and deactivated rows")
	overrideListCmd.Flags().Bool("json", false, "JSON output")

	overrideCmd.AddCommand(overrideSetCmd, overrideListCmd, overrideRmCmd)
	rootCmd.AddCommand(overrideCmd)
}
