package sync

import (
	"time"

	"dnevniksync/lib/timezone"
)

// Planner decides which pages one sync run fetches.
type Planner interface {
	Plan(now time.Time) []PageSpec
}

// WeekPlanner is the default plan: the marks report for the school year
// so far, plus the printable schedule for the current week and a few
// ahead.
type WeekPlanner struct {
	// ScheduleWeeks is how many weeks of schedule to fetch starting
	// with the current one. Zero means 2.
	ScheduleWeeks int
}

func (p WeekPlanner) Plan(now time.Time) []PageSpec {
	weeks := p.ScheduleWeeks
	if weeks <= 0 {
		weeks = 2
	}

	specs := []PageSpec{{
		Kind: PageMarks,
		From: schoolYearStart(now),
		To:   now,
	}}

	monday := weekStart(now)
	for i := 0; i < weeks; i++ {
		from := monday.AddDate(0, 0, 7*i)
		specs = append(specs, PageSpec{
			Kind: PageSchedule,
			From: from,
			To:   from.AddDate(0, 0, 6),
		})
	}
	return specs
}

// the school year turns over on September 1st
func schoolYearStart(now time.Time) time.Time {
	year := now.Year()
	if now.Month() < time.September {
		year--
	}
	return time.Date(year, time.September, 1, 0, 0, 0, 0, timezone.Location)
}

func weekStart(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, timezone.Location)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}
