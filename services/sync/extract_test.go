package sync

import (
	"testing"

	"dnevniksync/lib/timezone"

	"github.com/stretchr/testify/require"
)

func marksPage(t *testing.T, fromDay, toDay int, body string) RawPage {
	t.Helper()
	return RawPage{
		Spec: PageSpec{
			Kind: PageMarks,
			From: timezone.Date(2024, 5, fromDay),
			To:   timezone.Date(2024, 5, toDay),
		},
		AccountID: "acc-1",
		Body:      []byte(body),
	}
}

const marksBody = `{
	"subjects": [
		{
			"name": "Алгебра",
			"average": {"value": "4,5"},
			"works": [
				{"date": "2024-05-13", "lessonNumber": 1, "type": "Контрольная работа", "marks": [{"value": "5"}]},
				{"date": "2024-05-15", "lessonNumber": 2, "type": "Ответ на уроке", "marks": [{"value": "4"}, {"value": "5"}]},
				{"date": "2024-05-16", "lessonNumber": 3, "type": "Домашняя работа", "marks": []}
			]
		},
		{"name": "Физкультура", "average": {"value": ""}, "works": []}
	]
}`

func TestMarksExtraction(t *testing.T) {
	extractors := DefaultExtractors()

	records, err := extractors.Extract(marksPage(t, 1, 31, marksBody))
	require.NoError(t, err)

	// the ungraded work and the workless subject yield nothing
	require.Len(t, records, 2)
	require.Equal(t, KindGrade, records[0].Kind)
	require.Equal(t, "Алгебра", records[0].Subject)
	require.Equal(t, "5", records[0].Score)
	require.Equal(t, "Контрольная работа", records[0].WorkType)
	require.Equal(t, "4, 5", records[1].Score)
	require.Equal(t, "acc-1", records[1].AccountID)
}

func TestMarksOutsideWindowAreDropped(t *testing.T) {
	extractors := DefaultExtractors()

	records, err := extractors.Extract(marksPage(t, 14, 31, marksBody))
	require.NoError(t, err)

	require.Len(t, records, 1)
	require.Equal(t, timezone.Date(2024, 5, 15), records[0].Date)
}

func TestMarksSchemaMismatch(t *testing.T) {
	extractors := DefaultExtractors()

	_, err := extractors.Extract(marksPage(t, 1, 31, `{"error": "maintenance"}`))

	var extractErr *ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, ExtractSchemaMismatch, extractErr.Reason)
	require.Equal(t, PageMarks, extractErr.Page)
}

const scheduleBody = `<html><body>
<table class="schedule-day" data-date="2024-05-13">
	<tr class="lesson" data-number="1">
		<td class="number">1</td><td class="time">08:30-09:15</td>
		<td class="subject">Алгебра</td><td class="room">204</td>
		<td class="homework">№ 312, 315</td>
	</tr>
	<tr class="lesson" data-number="2">
		<td class="number">2</td><td class="time">09:25-10:10</td>
		<td class="subject">Физика</td><td class="room">318</td>
		<td class="homework done">§ 41</td>
	</tr>
	<tr class="lesson" data-number="3">
		<td class="number">3</td><td class="time">10:20-11:05</td>
		<td class="subject">Физкультура</td><td class="room">спортзал</td>
		<td class="homework"></td>
	</tr>
</table>
</body></html>`

func schedulePage(body []byte) RawPage {
	return RawPage{
		Spec: PageSpec{
			Kind: PageSchedule,
			From: timezone.Date(2024, 5, 13),
			To:   timezone.Date(2024, 5, 19),
		},
		AccountID: "acc-1",
		Body:      body,
	}
}

func TestScheduleExtraction(t *testing.T) {
	extractors := DefaultExtractors()

	records, err := extractors.Extract(schedulePage([]byte(scheduleBody)))
	require.NoError(t, err)

	var schedule, homework []Record
	for _, r := range records {
		switch r.Kind {
		case KindSchedule:
			schedule = append(schedule, r)
		case KindHomework:
			homework = append(homework, r)
		}
	}

	require.Len(t, schedule, 3)
	require.Equal(t, "Алгебра", schedule[0].Subject)
	require.Equal(t, "08:30-09:15", schedule[0].StartEnd)
	require.Equal(t, "204", schedule[0].Room)

	// no homework record for the lesson with an empty cell
	require.Len(t, homework, 2)
	require.Equal(t, "№ 312, 315", homework[0].Text)
	require.False(t, homework[0].Done)
	require.Equal(t, "§ 41", homework[1].Text)
	require.True(t, homework[1].Done)
}

func TestScheduleEmptyWeek(t *testing.T) {
	extractors := DefaultExtractors()

	records, err := extractors.Extract(schedulePage(nil))
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestScheduleSchemaMismatch(t *testing.T) {
	extractors := DefaultExtractors()

	_, err := extractors.Extract(schedulePage([]byte(`<html><body><p>новый дизайн</p></body></html>`)))

	var extractErr *ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, ExtractSchemaMismatch, extractErr.Reason)
}

func TestExtractionIsDeterministic(t *testing.T) {
	extractors := DefaultExtractors()

	first, err := extractors.Extract(schedulePage([]byte(scheduleBody)))
	require.NoError(t, err)
	second, err := extractors.Extract(schedulePage([]byte(scheduleBody)))
	require.NoError(t, err)
	require.Equal(t, first, second)
}
