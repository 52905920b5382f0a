// Package scrape turns the upstream's HTML responses into the adapter's
// canonical timetable model: the full week table, the per-lesson homework
// note, and the list of navigable week offsets.
package scrape

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// cancellationMarkerClasses is the fixed set of lesson-cell classes that
// signal a cancelled lesson.
var cancellationMarkerClasses = map[string]bool{
	"lektionslinje_lesson1":         true,
	"lektionslinje_lesson2":         true,
	"lektionslinje_lesson3":         true,
	"lektionslinje_lesson4":         true,
	"lektionslinje_lesson5":         true,
	"lektionslinje_lesson7":         true,
	"lektionslinje_lesson10":        true,
	"lektionslinje_lessoncancelled": true,
}

var lessonClassRE = regexp.MustCompile(`^lektionslinje_lesson\d+$`)

// dayNameMap is the fixed Faroese to English day mapping.
var dayNameMap = map[string]string{
	"Mánadagur":    "Monday",
	"Týsdagur":     "Tuesday",
	"Mikudagur":    "Wednesday",
	"Hósdagur":     "Thursday",
	"Fríggjadagur": "Friday",
	"Leygardagur":  "Saturday",
	"Sunnudagur":   "Sunday",
}

var dayHeaderRE = buildDayHeaderRegexp()

func buildDayHeaderRegexp() *regexp.Regexp {
	names := make([]string, 0, len(dayNameMap))
	for fo := range dayNameMap {
		names = append(names, regexp.QuoteMeta(fo))
	}
	return regexp.MustCompile(`^(` + strings.Join(names, "|") + `)\s+(\d{1,2})/(\d{1,2})$`)
}

func classesOf(s *goquery.Selection) []string {
	class, ok := s.Attr("class")
	if !ok {
		return nil
	}
	return strings.Fields(class)
}

func hasAnyClass(classes []string, want ...string) bool {
	wantSet := make(map[string]bool, len(want))
	for _, w := range want {
		wantSet[w] = true
	}
	for _, c := range classes {
		if wantSet[c] {
			return true
		}
	}
	return false
}

func isLessonCell(classes []string) bool {
	for _, c := range classes {
		if lessonClassRE.MatchString(c) {
			return true
		}
	}
	return false
}

func isCancelled(classes []string) bool {
	for _, c := range classes {
		if cancellationMarkerClasses[c] {
			return true
		}
	}
	return false
}

func colspanOf(s *goquery.Selection) int {
	v, ok := s.Attr("colspan")
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// timeSlot describes one of the fixed, column-indexed lesson periods.
type timeSlot struct {
	slot  string
	start string
	end   string
}

func timeSlotForColumn(col, colspan int) timeSlot {
	if colspan >= 90 {
		return timeSlot{slot: "All day", start: "08:10", end: "15:25"}
	}
	switch {
	case col >= 2 && col <= 25:
		return timeSlot{slot: "1", start: "08:10", end: "09:40"}
	case col >= 26 && col <= 50:
		return timeSlot{slot: "2", start: "10:05", end: "11:35"}
	case col >= 51 && col <= 71:
		return timeSlot{slot: "3", start: "12:10", end: "13:40"}
	case col >= 72 && col <= 90:
		return timeSlot{slot: "4", start: "13:55", end: "15:25"}
	case col >= 91 && col <= 111:
		return timeSlot{slot: "5", start: "15:30", end: "17:00"}
	case col >= 112 && col <= 131:
		return timeSlot{slot: "6", start: "17:15", end: "18:45"}
	default:
		return timeSlot{slot: "N/A", start: "", end: ""}
	}
}

// academicYear formats a four-digit upstream code "YYZZ" as "20YY-20ZZ"
// when ZZ == YY+1, otherwise it is returned unchanged.
func academicYear(code string) string {
	if len(code) != 4 {
		return code
	}
	yy, err1 := strconv.Atoi(code[:2])
	zz, err2 := strconv.Atoi(code[2:])
	if err1 != nil || err2 != nil {
		return code
	}
	if zz != yy+1 {
		return code
	}
	return "20" + code[:2] + "-20" + code[2:]
}

// normalizeRoom strips the leading "st." marker upstream uses for some
// room codes.
func normalizeRoom(raw string) string {
	trimmed := strings.TrimSpace(raw)
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "st."))
}

var lessonIDSpanRE = regexp.MustCompile(`^MyWindow(.+)Main$`)

// findLessonID locates the first descendant <span id="MyWindow...Main">
// and strips the affixes.
func findLessonID(cell *goquery.Selection) *string {
	var id string
	cell.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		spanID, ok := s.Attr("id")
		if !ok {
			return true
		}
		if m := lessonIDSpanRE.FindStringSubmatch(spanID); m != nil {
			id = m[1]
			return false
		}
		return true
	})
	if id == "" {
		return nil
	}
	return &id
}

// hasHomeworkNote reports whether cell contains an <input type="image">
// whose src includes "note.gif".
func hasHomeworkNote(cell *goquery.Selection) bool {
	found := false
	cell.Find(`input[type="image"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if strings.Contains(src, "note.gif") {
			found = true
			return false
		}
		return true
	})
	return found
}
