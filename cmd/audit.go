package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/northpeak/aso-bible-cli/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run the code/DB parity audit",
	Long: `Compare code-defined profiles against the database: mirror rows,
active overrides, and published snapshots. The full report is written as
JSON (and optionally XLSX) regardless of outcome.

Exit code is 1 when any error-severity issue is found, so the command can
gate CI directly:

  aso-bible audit --report runtime-parity-report.json`,
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

		reportPath, _ := cmd.Flags().GetString("report")
		if reportPath == "" {
			reportPath = cfg.Audit.ReportPath
		}
		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		if xlsxPath == "" {
			xlsxPath = cfg.Audit.XLSXPath
		}

		report := audit.New(reg, st, cfg.Audit.Concurrency).Run(ctx)

		if err := report.WriteJSON(reportPath); err != nil {
			return err
		}
		zap.L().Info("audit report written", zap.String("path", reportPath))

		if xlsxPath != "" {
			if err := report.WriteXLSX(xlsxPath); err != nil {
				return err
			}
			zap.L().Info("audit workbook written", zap.String("path", xlsxPath))
		}

		printAuditSummary(report)

		if report.HasErrors() {
			return eris.Errorf("audit found %d error(s); see %s", report.Counts.Errors, reportPath)
		}
		return nil
	},
}

func printAuditSummary(r *audit.Report) {
	fmt.Printf("Parity audit: %d error(s), %d warning(s), %d info\n",
		r.Counts.Errors, r.Counts.Warnings, r.Counts.Infos)

	if len(r.Issues) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEVERITY\tCATEGORY\tCODE\tMESSAGE")
		for _, i := range r.Issues {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", i.Severity, i.Category, i.Code, i.Message)
		}
		w.Flush()
	}

	for _, rec := range r.Recommendations {
		fmt.Printf("- %s\n", rec)
	}
}

func init() {
	auditCmd.Flags().String("report", "", "JSON report path (default from config)")
	auditCmd.Flags().String("xlsx", "", "optional XLSX workbook path")
	rootCmd.AddCommand(auditCmd)
}
