package scrape

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/skulanet/timatalva/model"
	"github.com/skulanet/timatalva/teachercache"
)

// WeekResult is the week scraper's full output for one offset.
type WeekResult struct {
	StudentInfo       model.StudentInfo
	WeekInfo          model.WeekInfo
	Lessons           []model.Lesson
	HomeworkLessonIDs []string
}

var (
	studentInfoRE = regexp.MustCompile(`Næmingatímatalva:\s*([^,]+),\s*(.+)`)
	weekNumberRE  = regexp.MustCompile(`Vika\s+(\d+)`)
	dateRangeRE   = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})\s*-\s*(\d{2})\.(\d{2})\.(\d{4})`)
)

// ScrapeWeek parses one week's HTML document into a WeekResult, resolving
// teacher initials through teachers.
//
// A document without the timetable table at all is "no data" for that
// offset and returns a not-found error; a present-but-empty table is a
// valid week with zero lessons.
func ScrapeWeek(html string, teachers teachercache.Map) (WeekResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return WeekResult{}, model.UpstreamProtocolError("week HTML failed to parse: %v", err)
	}

	table := doc.Find("table.time_8_16").First()
	if table.Length() == 0 {
		return WeekResult{}, model.NotFoundError("week HTML contains no timetable table")
	}

	fullText := doc.Text()
	weekInfo := parseWeekInfo(doc, fullText)
	studentInfo := parseStudentInfo(doc)

	lessons, homeworkIDs := walkTable(table, teachers, weekInfo.Year)

	if len(lessons) == 0 {
		if fallback, ok := degradedLayoutFallback(fullText, teachers, weekInfo.Year); ok {
			lessons = fallback
		}
	}

	return WeekResult{
		StudentInfo:       studentInfo,
		WeekInfo:          weekInfo,
		Lessons:           lessons,
		HomeworkLessonIDs: homeworkIDs,
	}, nil
}

func parseWeekInfo(doc *goquery.Document, fullText string) model.WeekInfo {
	info := model.WeekInfo{}

	selected := doc.Find("a.UgeKnapValgt").First().Text()
	if m := weekNumberRE.FindStringSubmatch(selected); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			info.WeekNumber = n
		}
	}

	if m := dateRangeRE.FindStringSubmatch(fullText); m != nil {
		startYear, _ := strconv.Atoi(m[3])
		info.StartDate = fmt.Sprintf("%s-%s-%s", m[3], m[2], m[1])
		info.EndDate = fmt.Sprintf("%s-%s-%s", m[6], m[5], m[4])
		info.Year = startYear
	} else {
		info.Year = time.Now().Year()
	}

	if info.WeekNumber > 0 && info.Year > 0 {
		info.WeekKey = model.WeekKey(info.Year, info.WeekNumber)
	}
	return info
}

func parseStudentInfo(doc *goquery.Document) model.StudentInfo {
	var info model.StudentInfo
	doc.Find("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		text := td.Text()
		if !strings.Contains(text, "Næmingatímatalva") {
			return true
		}

		prefix := text
		if nested := td.Find("table").First(); nested.Length() > 0 {
			// Re-derive the prefix from the td's own direct text nodes by
			// cutting the full text at the nested table's text, since
			// goquery has no "text before descendant" primitive.
			if idx := strings.Index(text, nested.Text()); idx > 0 {
				prefix = text[:idx]
			}
		}

		if m := studentInfoRE.FindStringSubmatch(prefix); m != nil {
			info.StudentName = strings.TrimSpace(m[1])
			info.Class = strings.TrimSpace(m[2])
			return false
		}

		// Fallback: split on ":" then ",".
		if idx := strings.Index(prefix, ":"); idx >= 0 {
			rest := prefix[idx+1:]
			parts := strings.SplitN(rest, ",", 2)
			if len(parts) == 2 {
				info.StudentName = strings.TrimSpace(parts[0])
				info.Class = strings.TrimSpace(parts[1])
			}
		}
		return false
	})
	return info
}

func walkTable(table *goquery.Selection, teachers teachercache.Map, year int) ([]model.Lesson, []string) {
	var lessons []model.Lesson
	var homeworkIDs []string

	var currentDayName, currentDatePart string

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Children()
		if cells.Length() == 0 {
			return
		}

		first := cells.Eq(0)
		firstClasses := classesOf(first)
		isHeaderClass := hasAnyClass(firstClasses, "lektionslinje_1", "lektionslinje_1_aktuel")
		if isHeaderClass {
			text := strings.TrimSpace(first.Text())
			if m := dayHeaderRE.FindStringSubmatch(text); m != nil {
				currentDayName = m[1]
				currentDatePart = m[2] + "/" + m[3]
			}
		}

		if currentDayName == "" {
			return
		}

		col := 1
		cells.Each(func(idx int, cell *goquery.Selection) {
			colspan := colspanOf(cell)
			if idx == 0 {
				col += colspan
				return
			}

			classes := classesOf(cell)
			if !isLessonCell(classes) {
				col += colspan
				return
			}

			lesson, ok := parseLessonCell(cell, classes, col, colspan, teachers, currentDayName, currentDatePart, year)
			col += colspan
			if !ok {
				return
			}
			lessons = append(lessons, lesson)
			if lesson.HasHomeworkNote && lesson.LessonID != nil {
				homeworkIDs = append(homeworkIDs, *lesson.LessonID)
			}
		})
	})

	return lessons, homeworkIDs
}

func parseLessonCell(cell *goquery.Selection, classes []string, col, colspan int, teachers teachercache.Map, dayName, datePart string, year int) (model.Lesson, bool) {
	anchors := cell.Find("a")
	if anchors.Length() < 3 {
		return model.Lesson{}, false
	}

	codeText := strings.TrimSpace(anchors.Eq(0).Text())
	teacherShort := strings.TrimSpace(anchors.Eq(1).Text())
	room := normalizeRoom(anchors.Eq(2).Text())

	subject, level, academicYearStr := splitSubjectCode(codeText)

	date, _ := model.ParseDate(datePart, year)

	slot := timeSlotForColumn(col, colspan)
	var startTime, endTime *string
	timeRange := ""
	if slot.start != "" {
		s, e := slot.start, slot.end
		startTime, endTime = &s, &e
		timeRange = slot.start + "-" + slot.end
	}

	lesson := model.Lesson{
		Title:           subject,
		Level:           level,
		Year:            academicYearStr,
		Date:            date,
		DayOfWeek:       dayNameMap[dayName],
		Teacher:         teachers.Resolve(teacherShort),
		TeacherShort:    teacherShort,
		Location:        room,
		TimeSlot:        slot.slot,
		StartTime:       startTime,
		EndTime:         endTime,
		TimeRange:       timeRange,
		Cancelled:       isCancelled(classes),
		LessonID:        findLessonID(cell),
		HasHomeworkNote: hasHomeworkNote(cell),
	}
	return lesson, true
}

// splitSubjectCode splits a raw subject code on "-": exam codes
// ("Várroynd") keep their first two parts as the subject, ordinary codes
// keep one.
func splitSubjectCode(raw string) (subject, level, yearCode string) {
	parts := strings.Split(raw, "-")
	switch {
	case parts[0] == "Várroynd" && len(parts) >= 5:
		return parts[0] + "-" + parts[1], parts[2], academicYear(parts[4])
	case len(parts) >= 4:
		return parts[0], parts[1], academicYear(parts[3])
	default:
		return raw, "", ""
	}
}

var (
	degradedDayRE    = regexp.MustCompile(`(Mánadagur|Týsdagur|Mikudagur|Hósdagur|Fríggjadagur|Leygardagur|Sunnudagur)\s+(\d{1,2})/(\d{1,2})`)
	degradedLessonRE = regexp.MustCompile(`([\wÁÐÍÓÚÝÆØáðíóúýæø]+-[\wÁÐÍÓÚÝÆØáðíóúýæø]+-[\wÁÐÍÓÚÝÆØáðíóúýæø]+-[\wÁÐÍÓÚÝÆØáðíóúýæø]+)\s+([A-ZÁÐÍÓÚÝÆØ]{2,4})\s+st\.\s*(\S+)`)
)

// degradedLayoutFallback is a best-effort scan over the document's prose
// text for a known degraded HTML layout where the structured table walk
// yields no lessons.
func degradedLayoutFallback(text string, teachers teachercache.Map, year int) ([]model.Lesson, bool) {
	dayMatches := degradedDayRE.FindAllStringSubmatch(text, -1)
	lessonMatches := degradedLessonRE.FindAllStringSubmatch(text, -1)
	if len(dayMatches) == 0 || len(lessonMatches) == 0 {
		return nil, false
	}

	var lessons []model.Lesson
	for i, lm := range lessonMatches {
		dm := dayMatches[i%len(dayMatches)]
		subject, level, academicYearStr := splitSubjectCode(lm[1])
		teacherShort := lm[2]
		room := normalizeRoom(lm[3])
		date, _ := model.ParseDate(dm[2]+"/"+dm[3], year)

		lessons = append(lessons, model.Lesson{
			Title:        subject,
			Level:        level,
			Year:         academicYearStr,
			Date:         date,
			DayOfWeek:    dayNameMap[dm[1]],
			Teacher:      teachers.Resolve(teacherShort),
			TeacherShort: teacherShort,
			Location:     room,
			TimeSlot:     "N/A",
		})
	}
	if len(lessons) == 0 {
		return nil, false
	}
	return lessons, true
}
