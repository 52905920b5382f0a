package model_test

import (
	"testing"

	"github.com/skulanet/timatalva/model"
)

func validTimetable() model.TimetableData {
	return model.NewTimetableData(
		model.StudentInfo{StudentName: "Test Testsson", Class: "9A"},
		model.WeekInfo{WeekNumber: 5, Year: 2025, StartDate: "2025-01-27", EndDate: "2025-02-02"},
		nil,
	)
}

func TestValidate_ComputesWeekKey(t *testing.T) {
	td := validTimetable()
	if td.WeekInfo.WeekKey != "" {
		t.Fatalf("expected blank weekKey before Validate, got %q", td.WeekInfo.WeekKey)
	}
	if err := model.Validate(&td); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if td.WeekInfo.WeekKey != "2025-W05" {
		t.Errorf("WeekKey = %q, want 2025-W05", td.WeekInfo.WeekKey)
	}
}

func TestValidate_AcceptsEmptyUpstreamWeek(t *testing.T) {
	td := model.NewTimetableData(model.StudentInfo{}, model.WeekInfo{}, nil)
	if err := model.Validate(&td); err != nil {
		t.Errorf("Validate rejected a zero-value week (no table in upstream HTML): %v", err)
	}
	if td.WeekInfo.WeekKey != "" {
		t.Errorf("WeekKey = %q, want blank when weekNumber/year are absent", td.WeekInfo.WeekKey)
	}
}

func TestValidate_RejectsBadWeekNumber(t *testing.T) {
	td := validTimetable()
	td.WeekInfo.WeekNumber = 99
	if err := model.Validate(&td); err == nil {
		t.Error("expected error for out-of-range weekNumber")
	}
}

func TestValidate_RejectsInvertedDateRange(t *testing.T) {
	td := validTimetable()
	td.WeekInfo.StartDate, td.WeekInfo.EndDate = td.WeekInfo.EndDate, td.WeekInfo.StartDate
	if err := model.Validate(&td); err == nil {
		t.Error("expected error when startDate is after endDate")
	}
}

func TestValidate_RejectsMismatchedWeekKey(t *testing.T) {
	td := validTimetable()
	td.WeekInfo.WeekKey = "2025-W99"
	if err := model.Validate(&td); err == nil {
		t.Error("expected error for weekKey mismatched with year/weekNumber")
	}
}

func TestValidate_RejectsBadLessonTime(t *testing.T) {
	td := validTimetable()
	bad := "25:99"
	td.Events = append(td.Events, model.Lesson{
		Title: "Matematikk", Date: "2025-01-27", StartTime: &bad,
	})
	if err := model.Validate(&td); err == nil {
		t.Error("expected error for malformed lesson startTime")
	}
}

func TestValidate_AcceptsNullableFields(t *testing.T) {
	td := validTimetable()
	td.Events = append(td.Events, model.Lesson{
		Title: "Sovn", Date: "2025-01-27",
		// StartTime, EndTime, LessonID, Description left nil deliberately.
	})
	if err := model.Validate(&td); err != nil {
		t.Errorf("Validate rejected lesson with nil optional fields: %v", err)
	}
}
