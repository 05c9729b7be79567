package commands

import (
	"dnevniksync/lib/scrapers/dnevnik"
	"dnevniksync/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(marksCmd)
}

var marksCmd = &cobra.Command{
	Use:   "marks",
	Short: "Pulls the marks report and prints every graded work.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		session := login(ctx, readConfig())

		res, err := session.Client.Http.R().
			SetContext(ctx).
			Get(session.Client.MarksURL(session.Identity))
		if err != nil {
			serviceutil.Fatal("failed to fetch the marks report", err)
		}
		report, err := dnevnik.ParseMarks(res.Body())
		if err != nil {
			serviceutil.Fatal("failed to parse the marks report", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"subject", "date", "slot", "work", "marks", "average"})
		for _, subject := range report.Subjects {
			for _, work := range subject.Works {
				if len(work.Marks) == 0 {
					continue
				}
				marks := ""
				for i, mark := range work.Marks {
					if i > 0 {
						marks += ", "
					}
					marks += mark.Value
				}
				t.AppendRow(table.Row{
					subject.Name, work.Date, work.LessonNumber,
					work.Type, marks, subject.Average.Value,
				})
			}
		}
		t.Render()
	},
}
