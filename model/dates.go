package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDate normalizes one of the upstream's several date spellings into
// ISO-8601 (YYYY-MM-DD):
//
//	DD.MM.YYYY
//	DD.MM            (year defaulted to defaultYear)
//	DD/MM-YYYY
//	DD/MM            (year defaulted to defaultYear)
//	YYYY-MM-DD       (already ISO, returned as-is after validation)
//
// Any other shape is reported as an upstream protocol error rather than
// guessed at.
func ParseDate(raw string, defaultYear int) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", UpstreamProtocolError("empty date string")
	}

	if parts := strings.Split(s, "-"); len(parts) == 3 && len(parts[0]) == 4 {
		y, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		d, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return "", UpstreamProtocolError("malformed ISO date %q", raw)
		}
		return fmt.Sprintf("%04d-%02d-%02d", y, m, d), nil
	}

	if day, month, year, ok := splitDotted(s); ok {
		if year == 0 {
			year = defaultYear
		}
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
	}

	if day, month, year, ok := splitSlashed(s); ok {
		if year == 0 {
			year = defaultYear
		}
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day), nil
	}

	return "", UpstreamProtocolError("unrecognized date format %q", raw)
}

// splitDotted parses "DD.MM.YYYY" or "DD.MM".
func splitDotted(s string) (day, month, year int, ok bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, false
	}
	d, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, 0, false
	}
	if len(parts) == 3 {
		y, err3 := strconv.Atoi(parts[2])
		if err3 != nil {
			return 0, 0, 0, false
		}
		return d, m, y, true
	}
	return d, m, 0, true
}

// splitSlashed parses "DD/MM-YYYY" or "DD/MM".
func splitSlashed(s string) (day, month, year int, ok bool) {
	datePart := s
	yearPart := ""
	if idx := strings.Index(s, "-"); idx >= 0 {
		datePart = s[:idx]
		yearPart = s[idx+1:]
	}
	parts := strings.Split(datePart, "/")
	if len(parts) != 2 {
		return 0, 0, 0, false
	}
	d, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, 0, false
	}
	if yearPart != "" {
		y, err3 := strconv.Atoi(yearPart)
		if err3 != nil {
			return 0, 0, 0, false
		}
		return d, m, y, true
	}
	return d, m, 0, true
}

// ParseClock normalizes an "H:MM" or "HH:MM" upstream time into "HH:MM".
func ParseClock(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", UpstreamProtocolError("unrecognized time format %q", raw)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return "", UpstreamProtocolError("unrecognized time format %q", raw)
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}
