// Package orchestrator implements the per-request pipeline that ties
// session bootstrap, the teacher cache, the week/homework scrapers, and
// adaptive concurrency together into the adapter's three logical
// operations: Week, Weeks, and AvailableOffsets.
package orchestrator

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/skulanet/timatalva/concurrency"
	"github.com/skulanet/timatalva/config"
	"github.com/skulanet/timatalva/logger"
	"github.com/skulanet/timatalva/model"
	"github.com/skulanet/timatalva/scrape"
	"github.com/skulanet/timatalva/teachercache"
	"github.com/skulanet/timatalva/transport"
	"github.com/skulanet/timatalva/upstreamsession"
)

const (
	basePagePath = "/132n/"
	weekPath     = "/i/udvalg.asp"
	notePath     = "/i/note.asp"
	teacherPath  = "/i/teachers.asp"

	// forcedWeekCeiling and forcedHomeworkCeiling are the fixed ceilings a
	// request may opt into via ExtractionOptions.ForceMaxConcurrency.
	forcedWeekCeiling     = 10
	forcedHomeworkCeiling = 30
)

// Orchestrator wires the adapter's components into the two-phase fan-out:
// week fetches first, each feeding its own homework fan-out. One
// Orchestrator is constructed per process and serves every inbound
// request; Session and the per-stage Limiters are scoped to a single call.
type Orchestrator struct {
	client       *transport.Client
	teacherCache *teachercache.Cache
	log          *logger.Logger
}

// New builds an Orchestrator from its already-constructed dependencies.
func New(client *transport.Client, teacherCache *teachercache.Cache, log *logger.Logger) *Orchestrator {
	return &Orchestrator{client: client, teacherCache: teacherCache, log: log}
}

type basePageFetcher struct{ client *transport.Client }

func (f basePageFetcher) FetchBasePage(ctx context.Context, cookies map[string]string) (string, int, error) {
	resp, err := f.client.GetBasePage(ctx, basePagePath, cookies)
	if err != nil {
		return "", 0, err
	}
	return resp.Body, resp.StatusCode, nil
}

// teacherPageFetcher borrows whichever session happened to trigger the
// teacher-cache miss to authenticate the one-shot /i/teachers.asp refresh:
// the resulting map is the same for every session of the same upstream
// tenant, so which caller's cookies fetch it doesn't matter.
type teacherPageFetcher struct {
	client  *transport.Client
	cookies map[string]string
}

func (f teacherPageFetcher) FetchTeacherPage(ctx context.Context, lname string) (string, error) {
	resp, err := f.client.Post(ctx, teacherPath, map[string]string{
		"fname": "Henry",
		"lname": lname,
		"timer": upstreamsession.NewTimer(),
	}, nil, f.cookies, nil)
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}

// bootstrap reconstructs the upstream session, once per request.
func (o *Orchestrator) bootstrap(ctx context.Context, cookiesRaw string) (*upstreamsession.Session, error) {
	return upstreamsession.Bootstrap(ctx, basePageFetcher{o.client}, cookiesRaw)
}

func (o *Orchestrator) primeTeachers(ctx context.Context, lname string, cookies map[string]string) teachercache.Map {
	m, err := o.teacherCache.Get(ctx, teacherPageFetcher{o.client, cookies}, lname)
	if err != nil {
		o.log.Errorf("teacher cache refresh failed, degrading to empty map: %v", err)
		return teachercache.Map{}
	}
	return m
}

func buildLimiters(opts config.ExtractionOptions) (week, homework *concurrency.Limiter) {
	if opts.ForceMaxConcurrency {
		week = concurrency.New(concurrency.Options{Min: forcedWeekCeiling, Max: forcedWeekCeiling, Initial: forcedWeekCeiling, Disabled: true})
		homework = concurrency.New(concurrency.Options{Min: forcedHomeworkCeiling, Max: forcedHomeworkCeiling, Initial: forcedHomeworkCeiling, Disabled: true})
		return
	}
	week = concurrency.New(concurrency.Options{Min: 1, Max: config.WeekFetchMax, Initial: float64(opts.WeekFetchInitial)})
	homework = concurrency.New(concurrency.Options{Min: 1, Max: config.HomeworkFetchMax, Initial: float64(opts.HomeworkFetchInitial)})
	return
}

// AvailableOffsets derives the set of navigable week offsets from a
// bootstrap fetch of offset 0.
func (o *Orchestrator) AvailableOffsets(ctx context.Context, cookiesRaw, studentID string) ([]int, error) {
	session, err := o.bootstrap(ctx, cookiesRaw)
	if err != nil {
		return nil, err
	}

	weekLimiter, _ := buildLimiters(config.DefaultExtractionOptions())
	form := map[string]string{
		"fname": "Henry", "q": "stude", "v": "0",
		"lname": session.LName, "timex": upstreamsession.NewTimer(), "id": studentID,
	}
	resp, err := o.client.Post(ctx, weekPath, form, nil, session.Cookies, weekLimiter)
	if err != nil {
		return nil, err
	}
	return scrape.DiscoverOffsets(resp.Body)
}

// Week fetches and assembles exactly one offset's TimetableData.
func (o *Orchestrator) Week(ctx context.Context, cookiesRaw, studentID string, offset int, opts config.ExtractionOptions) (model.TimetableData, error) {
	results, err := o.Weeks(ctx, cookiesRaw, studentID, []int{offset}, opts)
	if err != nil {
		return model.TimetableData{}, err
	}
	if len(results) == 0 {
		return model.TimetableData{}, model.NotFoundError("offset %d returned no parseable timetable", offset)
	}
	return results[0], nil
}

// Weeks runs the full two-phase fan-out across offsets and returns the
// successfully assembled, validated results sorted ascending by week
// number. Partial per-offset failures are logged and dropped rather than
// failing the whole batch.
func (o *Orchestrator) Weeks(ctx context.Context, cookiesRaw, studentID string, offsets []int, opts config.ExtractionOptions) ([]model.TimetableData, error) {
	session, err := o.bootstrap(ctx, cookiesRaw)
	if err != nil {
		return nil, err
	}

	teachers := o.primeTeachers(ctx, session.LName, session.Cookies)
	weekLimiter, homeworkLimiter := buildLimiters(opts)
	// The gates track the AIMD ceiling live: admissions follow the limiter
	// as it shrinks on failure and grows again on success streaks, rather
	// than a value snapshotted at batch start.
	weekGate := concurrency.NewGate(weekLimiter)
	homeworkGate := concurrency.NewGate(homeworkLimiter)

	slots := make([]*model.TimetableData, len(offsets))

	// Each offset is isolated: a scrape or validation failure on one must
	// never abort the others, so the group's own error return is always nil
	// and failures are logged and dropped in place. Request cancellation
	// (client disconnect, deadline) still reaches every in-flight offset
	// through ctx, which every fetch below shares.
	var g errgroup.Group
	for i, offset := range offsets {
		i, offset := i, offset
		g.Go(func() error {
			if err := weekGate.Acquire(ctx); err != nil {
				return nil
			}
			defer weekGate.Release()

			td, err := o.fetchOneOffset(ctx, session, studentID, offset, teachers, weekLimiter, homeworkGate, homeworkLimiter)
			if err != nil {
				o.log.Errorf("offset %d dropped: %v", offset, err)
				return nil
			}
			slots[i] = &td
			return nil
		})
	}
	g.Wait()

	results := make([]model.TimetableData, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}
	sortByWeekNumber(results)
	return results, nil
}

func (o *Orchestrator) fetchOneOffset(
	ctx context.Context,
	session *upstreamsession.Session,
	studentID string,
	offset int,
	teachers teachercache.Map,
	weekLimiter *concurrency.Limiter,
	homeworkGate *concurrency.Gate,
	homeworkLimiter *concurrency.Limiter,
) (model.TimetableData, error) {
	form := map[string]string{
		"fname": "Henry", "q": "stude", "v": strconv.Itoa(offset),
		"lname": session.LName, "timex": upstreamsession.NewTimer(), "id": studentID,
	}
	resp, err := o.client.Post(ctx, weekPath, form, nil, session.Cookies, weekLimiter)
	if err != nil {
		return model.TimetableData{}, err
	}

	weekResult, err := scrape.ScrapeWeek(resp.Body, teachers)
	if err != nil {
		return model.TimetableData{}, err
	}

	homeworkByLessonID := o.fetchHomework(ctx, session, weekResult.HomeworkLessonIDs, homeworkGate, homeworkLimiter)
	for i := range weekResult.Lessons {
		lesson := &weekResult.Lessons[i]
		if lesson.LessonID == nil {
			continue
		}
		if md, ok := homeworkByLessonID[*lesson.LessonID]; ok {
			lesson.Description = &md
		}
	}

	td := model.NewTimetableData(weekResult.StudentInfo, weekResult.WeekInfo, weekResult.Lessons)
	if err := model.Validate(&td); err != nil {
		return model.TimetableData{}, err
	}
	return td, nil
}

// fetchHomework concurrently fans out one /i/note.asp call per homework
// lesson id, bounded by gate. Individual homework failures are tolerated:
// a failed fetch is logged and an unparseable response is skipped, and in
// both cases the lesson keeps a nil description.
func (o *Orchestrator) fetchHomework(
	ctx context.Context,
	session *upstreamsession.Session,
	lessonIDs []string,
	gate *concurrency.Gate,
	limiter *concurrency.Limiter,
) map[string]string {
	result := make(map[string]string)
	if len(lessonIDs) == 0 {
		return result
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, id := range lessonIDs {
		id := id
		g.Go(func() error {
			if err := gate.Acquire(ctx); err != nil {
				return nil
			}
			defer gate.Release()

			form := map[string]string{
				"fname": "Henry", "q": id,
				"MyFunktion": "ReadNotesToLessonWithLessonRID",
				"lname":      session.LName, "timer": upstreamsession.NewTimer(),
			}
			resp, err := o.client.Post(ctx, notePath, form, nil, session.Cookies, limiter)
			if err != nil {
				o.log.Errorf("homework fetch for lesson %s failed: %v", id, err)
				return nil
			}
			parsed, err := scrape.ScrapeHomework(resp.Body)
			if err != nil {
				return nil
			}
			mu.Lock()
			for k, v := range parsed {
				result[k] = v
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return result
}

func sortByWeekNumber(results []model.TimetableData) {
	sort.SliceStable(results, func(i, j int) bool {
		wi, wj := results[i].WeekInfo.WeekNumber, results[j].WeekInfo.WeekNumber
		if wi == 0 {
			return false
		}
		if wj == 0 {
			return true
		}
		return wi < wj
	})
}
