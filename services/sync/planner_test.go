package sync

import (
	"testing"
	"time"

	"dnevniksync/lib/timezone"

	"github.com/stretchr/testify/require"
)

func TestPlanCoversYearToDateMarksAndTwoWeeks(t *testing.T) {
	now := time.Date(2024, 5, 15, 14, 30, 0, 0, timezone.Location) // a Wednesday

	specs := WeekPlanner{}.Plan(now)
	require.Len(t, specs, 3)

	require.Equal(t, PageMarks, specs[0].Kind)
	require.Equal(t, timezone.Date(2023, 9, 1), specs[0].From)
	require.Equal(t, now, specs[0].To)

	require.Equal(t, PageSchedule, specs[1].Kind)
	require.Equal(t, timezone.Date(2024, 5, 13), specs[1].From)
	require.Equal(t, timezone.Date(2024, 5, 19), specs[1].To)

	require.Equal(t, timezone.Date(2024, 5, 20), specs[2].From)
	require.Equal(t, timezone.Date(2024, 5, 26), specs[2].To)
}

func TestSchoolYearTurnsOverInSeptember(t *testing.T) {
	august := time.Date(2024, 8, 31, 0, 0, 0, 0, timezone.Location)
	require.Equal(t, timezone.Date(2023, 9, 1), schoolYearStart(august))

	september := time.Date(2024, 9, 1, 0, 0, 0, 0, timezone.Location)
	require.Equal(t, timezone.Date(2024, 9, 1), schoolYearStart(september))
}

func TestWeekStartIsMonday(t *testing.T) {
	sunday := time.Date(2024, 5, 19, 23, 0, 0, 0, timezone.Location)
	require.Equal(t, timezone.Date(2024, 5, 13), weekStart(sunday))

	monday := time.Date(2024, 5, 13, 0, 0, 0, 0, timezone.Location)
	require.Equal(t, timezone.Date(2024, 5, 13), weekStart(monday))
}
