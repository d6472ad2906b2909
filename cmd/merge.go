package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/northpeak/aso-bible-cli/internal/merger"
	"github.com/northpeak/aso-bible-cli/internal/model"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Resolve the effective ruleset for a vertical/market/organization",
	Long: `Resolve the effective ruleset by layering active overrides onto the
code-defined base profile in specificity order (base, vertical, market,
client). This is a preview: nothing is written. Use publish to persist the
result as a version snapshot.

Examples:
  # Effective ruleset for language learning apps in the US
  aso-bible merge --vertical language_learning --market us

  # With an organization's client-scope overrides applied
  aso-bible merge --vertical language_learning --market us --org org-1

  # Raw JSON for tooling
  aso-bible merge --vertical rewards --market de --format json`,
	RunE: runMerge,
}

func init() {
	f := mergeCmd.Flags()
	f.String("vertical", "", "vertical id (required)")
	f.String("market", "", "market id")
	f.String("org", "", "organization id for the client layer")
	f.String("format", "table", "output format: table or json")
	_ = mergeCmd.MarkFlagRequired("vertical")

	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, _ []string) error {
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
	org, _ := cmd.Flags().GetString("org")
	format, _ := cmd.Flags().GetString("format")

	merged, err := merger.New(reg, st).Merge(ctx, merger.Target{
		Vertical:       vertical,
		Market:         market,
		OrganizationID: org,
	})
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(merged)
	}

	printMerged(merged)
	return nil
}

func printMerged(m *model.MergedRuleSet) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Vertical:\t%s\n", m.Vertical)
	fmt.Fprintf(w, "Market:\t%s\n", m.Market)
	if m.OrganizationID != "" {
		fmt.Fprintf(w, "Organization:\t%s\n", m.OrganizationID)
	}
	fmt.Fprintf(w, "Thresholds:\texcellent=%.0f good=%.0f moderate=%.0f\n",
		m.DiscoveryThresholds.Excellent, m.DiscoveryThresholds.Good, m.DiscoveryThresholds.Moderate)
	if len(m.Locales) > 0 {
		fmt.Fprintf(w, "Locales:\t%v\n", m.Locales)
	}

	fmt.Fprintln(w, "\nKPI\tEffective weight")
	for _, kpi := range m.KPIIDs() {
		fmt.Fprintf(w, "%s\t%.4f\n", kpi, m.Weights[kpi])
	}

	if len(m.TokenRelevance) > 0 {
		tokens := make([]string, 0, len(m.TokenRelevance))
		for t := range m.TokenRelevance {
			tokens = append(tokens, t)
		}
		sort.Strings(tokens)
		fmt.Fprintln(w, "\nToken\tRelevance")
		for _, t := range tokens {
			fmt.Fprintf(w, "%s\t%.2f\n", t, m.TokenRelevance[t])
		}
	}

	if len(m.Stopwords) > 0 {
		fmt.Fprintf(w, "\nStopwords:\t%v\n", m.Stopwords)
	}

	fmt.Fprintln(w, "\nSection\tContributed by")
	sections := make([]string, 0, len(m.Chain.Sections))
	for s := range m.Chain.Sections {
		sections = append(sections, s)
	}
	sort.Strings(sections)
	for _, s := range sections {
		fmt.Fprintf(w, "%s\t%s\n", s, m.Chain.Sections[s])
	}
}
