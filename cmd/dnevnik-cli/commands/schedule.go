package commands

import (
	"net/url"
	"time"

	"dnevniksync/lib/scrapers/dnevnik"
	"dnevniksync/lib/serviceutil"
	"dnevniksync/lib/timezone"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var scheduleWeek *string

func init() {
	scheduleWeek = scheduleCmd.Flags().String(
		"week", "", "Monday of the week to pull, `2006-01-02`. Defaults to the current week.")
	rootCmd.AddCommand(scheduleCmd)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [--week 2006-01-02]",
	Short: "Pulls the printable week schedule and prints its lessons.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		week := timezone.Now()
		if *scheduleWeek != "" {
			parsed, err := time.ParseInLocation(time.DateOnly, *scheduleWeek, timezone.Location)
			if err != nil {
				serviceutil.Fatal("failed to parse --week", err)
			}
			week = parsed
		}

		session := login(ctx, readConfig())

		viewURL := session.Client.ScheduleViewURL(session.Identity, week)
		view, err := session.Client.Http.R().SetContext(ctx).Get(viewURL)
		if err != nil {
			serviceutil.Fatal("failed to fetch the schedule view", err)
		}
		link, err := dnevnik.ParsePrintLink(view.Body())
		if err != nil {
			serviceutil.Fatal("failed to locate the print link", err)
		}
		if link == "" {
			cmd.Println("the portal reports no lessons for this week")
			return
		}

		ref, err := url.Parse(link)
		if err != nil {
			serviceutil.Fatal("failed to parse the print link", err)
		}
		printURL := session.Client.SchoolsUrl.ResolveReference(ref).String()

		res, err := session.Client.Http.R().SetContext(ctx).Get(printURL)
		if err != nil {
			serviceutil.Fatal("failed to fetch the printable schedule", err)
		}
		lessons, err := dnevnik.ParseSchedulePrint(res.Body())
		if err != nil {
			serviceutil.Fatal("failed to parse the printable schedule", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"date", "slot", "time", "subject", "room", "homework", "done"})
		for _, lesson := range lessons {
			t.AppendRow(table.Row{
				lesson.Date.Format(time.DateOnly), lesson.Slot, lesson.StartEnd,
				lesson.Subject, lesson.Room, lesson.Homework, lesson.HomeworkDone,
			})
		}
		t.Render()
	},
}
