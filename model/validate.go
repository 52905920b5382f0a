package model

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	isoDateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	clockRE   = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

	structValidate = validator.New(validator.WithRequiredStructEnabled())
)

// Validate checks td's dates, times, week bounds and format version,
// computing WeekKey when it was left blank. It never mutates Events;
// WeekKey is the only auto-derived field.
//
// Returns a *Error with Kind == KindValidation on any violation.
func Validate(td *TimetableData) error {
	if td.WeekInfo.WeekKey == "" && td.WeekInfo.WeekNumber > 0 && td.WeekInfo.Year > 0 {
		td.WeekInfo.WeekKey = WeekKey(td.WeekInfo.Year, td.WeekInfo.WeekNumber)
	}

	if err := structValidate.Struct(td); err != nil {
		return ValidationError(err, "timetable payload failed schema validation")
	}

	if td.WeekInfo.StartDate != "" && !isoDateRE.MatchString(td.WeekInfo.StartDate) {
		return ValidationError(nil, "weekInfo.startDate %q is not YYYY-MM-DD", td.WeekInfo.StartDate)
	}
	if td.WeekInfo.EndDate != "" && !isoDateRE.MatchString(td.WeekInfo.EndDate) {
		return ValidationError(nil, "weekInfo.endDate %q is not YYYY-MM-DD", td.WeekInfo.EndDate)
	}
	if td.WeekInfo.StartDate != "" && td.WeekInfo.EndDate != "" && td.WeekInfo.StartDate > td.WeekInfo.EndDate {
		return ValidationError(nil, "weekInfo.startDate %q is after endDate %q", td.WeekInfo.StartDate, td.WeekInfo.EndDate)
	}
	if td.WeekInfo.WeekKey != "" {
		want := WeekKey(td.WeekInfo.Year, td.WeekInfo.WeekNumber)
		if td.WeekInfo.WeekKey != want {
			return ValidationError(nil, "weekInfo.weekKey %q does not match computed %q", td.WeekInfo.WeekKey, want)
		}
	}

	for i, e := range td.Events {
		if e.Date != "" && !isoDateRE.MatchString(e.Date) {
			return ValidationError(nil, "events[%d].date %q is not YYYY-MM-DD", i, e.Date)
		}
		if e.StartTime != nil && !clockRE.MatchString(*e.StartTime) {
			return ValidationError(nil, "events[%d].startTime %q is not HH:MM", i, *e.StartTime)
		}
		if e.EndTime != nil && !clockRE.MatchString(*e.EndTime) {
			return ValidationError(nil, "events[%d].endTime %q is not HH:MM", i, *e.EndTime)
		}
	}

	return nil
}

// WeekKey computes the canonical "YYYY-Www" key from a year and ISO week
// number, zero-padding the week to two digits.
func WeekKey(year, weekNumber int) string {
	return fmt.Sprintf("%04d-W%02d", year, weekNumber)
}
