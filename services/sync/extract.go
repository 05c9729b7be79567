package sync

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"dnevniksync/lib/scrapers/dnevnik"
	"dnevniksync/lib/timezone"
)

// Adapter turns one page kind into records. Extraction is a pure
// function of the page body, the same body always yields the same
// record set.
type Adapter interface {
	Kind() PageKind
	Extract(page RawPage) ([]Record, error)
}

type Extractors struct {
	adapters map[PageKind]Adapter
}

func NewExtractors(adapters ...Adapter) Extractors {
	byKind := map[PageKind]Adapter{}
	for _, a := range adapters {
		byKind[a.Kind()] = a
	}
	return Extractors{adapters: byKind}
}

func DefaultExtractors() Extractors {
	return NewExtractors(MarksAdapter{}, ScheduleAdapter{})
}

func (e Extractors) Extract(page RawPage) ([]Record, error) {
	adapter, ok := e.adapters[page.Spec.Kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for page kind %q", page.Spec.Kind)
	}

	records, err := adapter.Extract(page)
	if err != nil {
		return nil, err
	}
	// pages can overhang their window (the marks api returns the whole
	// period), anything outside is not covered and must not surface
	records = slices.DeleteFunc(records, func(r Record) bool {
		day := r.Date.Format(time.DateOnly)
		return day < page.Spec.From.Format(time.DateOnly) ||
			day > page.Spec.To.Format(time.DateOnly)
	})
	slices.SortFunc(records, func(a, b Record) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return records, nil
}

// MarksAdapter reads the marks api response into grade records. A work
// the teacher has not graded yet carries no marks and yields nothing.
type MarksAdapter struct{}

func (MarksAdapter) Kind() PageKind { return PageMarks }

func (MarksAdapter) Extract(page RawPage) ([]Record, error) {
	if len(page.Body) == 0 {
		return nil, nil
	}

	report, err := dnevnik.ParseMarks(page.Body)
	if err != nil {
		return nil, &ExtractError{Reason: ExtractSchemaMismatch, Page: PageMarks, Err: err}
	}

	var records []Record
	for _, subject := range report.Subjects {
		for _, work := range subject.Works {
			if len(work.Marks) == 0 {
				continue
			}
			date, err := time.ParseInLocation(time.DateOnly, work.Date, timezone.Location)
			if err != nil {
				return nil, &ExtractError{
					Reason: ExtractSchemaMismatch,
					Page:   PageMarks,
					Err:    fmt.Errorf("work in %q has a malformed date %q: %w", subject.Name, work.Date, err),
				}
			}

			values := make([]string, len(work.Marks))
			for i, mark := range work.Marks {
				values[i] = mark.Value
			}
			records = append(records, Record{
				AccountID: page.AccountID,
				Kind:      KindGrade,
				Subject:   subject.Name,
				Date:      date,
				Slot:      work.LessonNumber,
				Score:     strings.Join(values, ", "),
				WorkType:  work.Type,
			})
		}
	}
	return records, nil
}

// ScheduleAdapter reads the printable week page into schedule records,
// plus a homework record for every lesson that has an assignment.
type ScheduleAdapter struct{}

func (ScheduleAdapter) Kind() PageKind { return PageSchedule }

func (ScheduleAdapter) Extract(page RawPage) ([]Record, error) {
	if len(page.Body) == 0 {
		// empty week, the view page had no print link
		return nil, nil
	}

	lessons, err := dnevnik.ParseSchedulePrint(page.Body)
	if err != nil {
		return nil, &ExtractError{Reason: ExtractSchemaMismatch, Page: PageSchedule, Err: err}
	}

	var records []Record
	for _, lesson := range lessons {
		records = append(records, Record{
			AccountID: page.AccountID,
			Kind:      KindSchedule,
			Subject:   lesson.Subject,
			Date:      lesson.Date,
			Slot:      lesson.Slot,
			StartEnd:  lesson.StartEnd,
			Room:      lesson.Room,
		})
		if lesson.Homework != "" {
			records = append(records, Record{
				AccountID: page.AccountID,
				Kind:      KindHomework,
				Subject:   lesson.Subject,
				Date:      lesson.Date,
				Slot:      lesson.Slot,
				Text:      lesson.Homework,
				Done:      lesson.HomeworkDone,
			})
		}
	}
	return records, nil
}
