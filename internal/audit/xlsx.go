package audit

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteXLSX writes the report as a workbook for spreadsheet review:
// a summary sheet, an issues sheet, and the profile comparisons.
func (r *Report) WriteXLSX(path string) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "audit: add summary sheet")
	}
	addRow(summary, "Generated", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	addRow(summary, "Errors", fmt.Sprintf("%d", r.Counts.Errors))
	addRow(summary, "Warnings", fmt.Sprintf("%d", r.Counts.Warnings))
	addRow(summary, "Infos", fmt.Sprintf("%d", r.Counts.Infos))
	addRow(summary)
	addRow(summary, "Recommendations")
	for _, rec := range r.Recommendations {
		addRow(summary, "", rec)
	}

	issues, err := f.AddSheet("Issues")
	if err != nil {
		return eris.Wrap(err, "audit: add issues sheet")
	}
	addRow(issues, "Severity", "Category", "Code", "Message", "Details")
	for _, issue := range r.Issues {
		details := ""
		for k, v := range issue.Details {
			if details != "" {
				details += "; "
			}
			details += k + "=" + v
		}
		addRow(issues, string(issue.Severity), string(issue.Category), issue.Code, issue.Message, details)
	}

	profiles, err := f.AddSheet("Profiles")
	if err != nil {
		return eris.Wrap(err, "audit: add profiles sheet")
	}
	addRow(profiles, "Type", "ID", "InCode", "InDB", "Overlay", "LabelDiff")
	for _, c := range r.VerticalComparison {
		addRow(profiles, "vertical", c.ID, boolCell(c.InCode), boolCell(c.InDB), boolCell(c.Overlay), boolCell(c.LabelDiff))
	}
	for _, c := range r.MarketComparison {
		addRow(profiles, "market", c.ID, boolCell(c.InCode), boolCell(c.InDB), boolCell(c.Overlay), boolCell(c.LabelDiff))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "audit: save workbook %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().Value = c
	}
}

func boolCell(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
