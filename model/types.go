// Package model defines the canonical timetable data shapes returned by the
// adapter and the struct-level invariants they must satisfy before being
// serialized.
package model

// FormatVersion is the wire-contract version stamped on every TimetableData
// payload. Bumping it is a breaking change for API consumers.
const FormatVersion = 2

// StudentInfo identifies the student a timetable belongs to. Parsed from the
// base page text near the "Næmingatímatalva" marker.
type StudentInfo struct {
	StudentName string `json:"studentName"`
	Class       string `json:"class"`
}

// WeekInfo describes the calendar week a TimetableData covers.
type WeekInfo struct {
	WeekNumber int    `json:"weekNumber" validate:"omitempty,gte=1,lte=53"`
	StartDate  string `json:"startDate" validate:"omitempty,len=10"`
	EndDate    string `json:"endDate" validate:"omitempty,len=10"`
	Year       int    `json:"year"`
	WeekKey    string `json:"weekKey"`
}

// Lesson is one scheduled timetable entry.
//
// StartTime, EndTime, LessonID and Description are nullable on the wire:
// a Go nil pointer marshals as JSON null, and `omitempty` is deliberately
// NOT used on them so consumers can rely on the keys always being present.
type Lesson struct {
	Title           string  `json:"title"`
	Level           string  `json:"level"`
	Year            string  `json:"year"`
	Date            string  `json:"date" validate:"omitempty,len=10"`
	DayOfWeek       string  `json:"dayOfWeek"`
	Teacher         string  `json:"teacher"`
	TeacherShort    string  `json:"teacherShort"`
	Location        string  `json:"location"`
	TimeSlot        string  `json:"timeSlot"`
	StartTime       *string `json:"startTime"`
	EndTime         *string `json:"endTime"`
	TimeRange       string  `json:"timeRange"`
	Cancelled       bool    `json:"cancelled"`
	LessonID        *string `json:"lessonId"`
	Description     *string `json:"description"`
	HasHomeworkNote bool    `json:"hasHomeworkNote"`
}

// TimetableData is the full response for a single week.
type TimetableData struct {
	StudentInfo   StudentInfo `json:"studentInfo"`
	WeekInfo      WeekInfo    `json:"weekInfo"`
	Events        []Lesson    `json:"events"`
	FormatVersion int         `json:"formatVersion" validate:"eq=2"`
}

// NewTimetableData assembles a TimetableData with FormatVersion pre-filled,
// so callers never forget to stamp it.
func NewTimetableData(info StudentInfo, week WeekInfo, events []Lesson) TimetableData {
	if events == nil {
		events = []Lesson{}
	}
	return TimetableData{
		StudentInfo:   info,
		WeekInfo:      week,
		Events:        events,
		FormatVersion: FormatVersion,
	}
}
