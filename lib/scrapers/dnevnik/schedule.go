package dnevnik

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"dnevniksync/lib/htmlutil"
	"dnevniksync/lib/timezone"

	"github.com/PuerkitoBio/goquery"
)

// Lesson is one row of the printable week schedule.
type Lesson struct {
	Date         time.Time
	Slot         int
	Subject      string
	StartEnd     string
	Room         string
	Homework     string
	HomeworkDone bool
}

// ParsePrintLink finds the href of the printable schedule version on
// the week view page. An empty href with a nil error means the week
// genuinely has no lessons, the portal drops the link in that case.
func ParsePrintLink(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}

	sel := doc.Find(`a[title="Версия для печати"]`)
	if len(sel.Nodes) == 0 {
		return "", nil
	}
	href := sel.AttrOr("href", "")
	if href == "" {
		return "", fmt.Errorf("print version anchor carries no href")
	}
	return href, nil
}

// ParseSchedulePrint extracts lessons from the printable week page.
// The page holds one `table.schedule-day` per weekday with the date in
// a data attribute and one `tr.lesson` per slot. Missing day tables
// mean the portal layout changed, that is an error rather than an
// empty week.
func ParseSchedulePrint(body []byte) ([]Lesson, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	days := doc.Find("table.schedule-day")
	if len(days.Nodes) == 0 {
		return nil, fmt.Errorf("no day tables found on the print page")
	}

	var lessons []Lesson
	var parseErr error
	days.Each(func(_ int, day *goquery.Selection) {
		dateAttr := day.AttrOr("data-date", "")
		date, err := time.ParseInLocation(time.DateOnly, dateAttr, timezone.Location)
		if err != nil {
			parseErr = fmt.Errorf("day table has a malformed date %q: %w", dateAttr, err)
			return
		}

		day.Find("tr.lesson").Each(func(_ int, row *goquery.Selection) {
			subject := htmlutil.CleanText(row.Find("td.subject").Text())
			if subject == "" {
				// free slot
				return
			}

			slot, err := strconv.Atoi(strings.TrimSpace(row.AttrOr("data-number", "")))
			if err != nil {
				slot, err = strconv.Atoi(htmlutil.CleanText(row.Find("td.number").Text()))
			}
			if err != nil {
				parseErr = fmt.Errorf("lesson row for %q has no slot number", subject)
				return
			}

			homeworkCell := row.Find("td.homework")
			lessons = append(lessons, Lesson{
				Date:         date,
				Slot:         slot,
				Subject:      subject,
				StartEnd:     htmlutil.CleanText(row.Find("td.time").Text()),
				Room:         htmlutil.CleanText(row.Find("td.room").Text()),
				Homework:     htmlutil.CleanText(homeworkCell.Text()),
				HomeworkDone: homeworkCell.HasClass("done"),
			})
		})
	})
	if parseErr != nil {
		return nil, parseErr
	}

	// DOM order is presentation, order by what the lesson is so
	// re-renders of the same week always come out identical
	slices.SortFunc(lessons, func(a, b Lesson) int {
		if !a.Date.Equal(b.Date) {
			if a.Date.Before(b.Date) {
				return -1
			}
			return 1
		}
		if a.Slot != b.Slot {
			return a.Slot - b.Slot
		}
		return strings.Compare(a.Subject, b.Subject)
	})

	return lessons, nil
}
