package dnevnik

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMarks(t *testing.T) {
	body, err := os.ReadFile("testdata/marks.json")
	require.NoError(t, err)

	report, err := ParseMarks(body)
	require.NoError(t, err)
	require.Len(t, report.Subjects, 3)

	algebra := report.Subjects[0]
	require.Equal(t, "Алгебра", algebra.Name)
	require.Equal(t, "4.5", algebra.Average.Value)
	require.Len(t, algebra.Works, 2)
	require.Equal(t, "2024-05-06", algebra.Works[0].Date)
	require.Equal(t, 2, algebra.Works[0].LessonNumber)
	require.Equal(t, []Mark{{Value: "5"}}, algebra.Works[0].Marks)

	physics := report.Subjects[1]
	require.Len(t, physics.Works[0].Marks, 2)
}

func TestParseMarksRejectsMissingSubjects(t *testing.T) {
	_, err := ParseMarks([]byte(`{"error": "Internal Server Error"}`))
	require.Error(t, err)

	_, err = ParseMarks([]byte(`<html>login</html>`))
	require.Error(t, err)
}

func TestParseMarksDeterministic(t *testing.T) {
	body, err := os.ReadFile("testdata/marks.json")
	require.NoError(t, err)

	first, err := ParseMarks(body)
	require.NoError(t, err)
	second, err := ParseMarks(body)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
