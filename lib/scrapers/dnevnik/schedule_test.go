package dnevnik

import (
	"os"
	"testing"

	"dnevniksync/lib/timezone"

	"github.com/stretchr/testify/require"
)

func TestParsePrintLink(t *testing.T) {
	body, err := os.ReadFile("testdata/schedule_view.html")
	require.NoError(t, err)

	link, err := ParsePrintLink(body)
	require.NoError(t, err)
	require.Equal(t, "/v2/schedules/print?school=51234&group=772001&week=2024-05-13", link)
}

func TestParsePrintLinkMissingMeansEmptyWeek(t *testing.T) {
	link, err := ParsePrintLink([]byte(`<html><body><div class="schedule-widget"></div></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "", link)
}

func TestParseSchedulePrint(t *testing.T) {
	body, err := os.ReadFile("testdata/schedule_print.html")
	require.NoError(t, err)

	lessons, err := ParseSchedulePrint(body)
	require.NoError(t, err)
	// the empty third slot on monday is skipped
	require.Len(t, lessons, 3)

	require.Equal(t, timezone.Date(2024, 5, 13), lessons[0].Date)
	require.Equal(t, 1, lessons[0].Slot)
	require.Equal(t, "Алгебра", lessons[0].Subject)
	require.Equal(t, "212", lessons[0].Room)
	require.Equal(t, "№ 431, 433 (пункты а, б)", lessons[0].Homework)
	require.False(t, lessons[0].HomeworkDone)

	// inner whitespace in the subject cell is collapsed
	require.Equal(t, "Русский язык", lessons[1].Subject)
	require.True(t, lessons[1].HomeworkDone)

	require.Equal(t, timezone.Date(2024, 5, 15), lessons[2].Date)
	require.Equal(t, 4, lessons[2].Slot)
	require.Equal(t, "Физика", lessons[2].Subject)
}

func TestParseSchedulePrintDeterministic(t *testing.T) {
	body, err := os.ReadFile("testdata/schedule_print.html")
	require.NoError(t, err)

	first, err := ParseSchedulePrint(body)
	require.NoError(t, err)
	second, err := ParseSchedulePrint(body)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestParseSchedulePrintRejectsForeignLayout(t *testing.T) {
	body, err := os.ReadFile("testdata/login.html")
	require.NoError(t, err)

	_, err = ParseSchedulePrint(body)
	require.Error(t, err)
}
