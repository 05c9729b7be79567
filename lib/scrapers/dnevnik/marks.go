package dnevnik

import (
	"encoding/json"
	"fmt"
)

// the marks endpoint is the one JSON api the portal exposes, everything
// else is scraped out of rendered pages

type Mark struct {
	Value string `json:"value"`
}

type Work struct {
	// Date is a plain `2006-01-02` string in portal (Moscow) time.
	Date string `json:"date"`
	// LessonNumber is the slot of the lesson the work was graded in.
	LessonNumber int    `json:"lessonNumber"`
	Type         string `json:"type"`
	Marks        []Mark `json:"marks"`
}

type SubjectMarks struct {
	Name    string `json:"name"`
	Average struct {
		Value string `json:"value"`
	} `json:"average"`
	Works []Work `json:"works"`
}

type MarksReport struct {
	Subjects []SubjectMarks `json:"subjects"`
}

// ParseMarks decodes the marks api response. A body without the
// `subjects` key means the api shape changed (or an error page got
// served as 200) and is reported as an error instead of an empty
// report.
func ParseMarks(body []byte) (MarksReport, error) {
	var report MarksReport
	err := json.Unmarshal(body, &report)
	if err != nil {
		return MarksReport{}, err
	}
	if report.Subjects == nil {
		return MarksReport{}, fmt.Errorf("marks response has no subjects field")
	}
	return report, nil
}
