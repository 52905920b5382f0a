// Package teachercache maintains the adapter's only cross-request shared
// mutable state: a process-wide map from teacher initials to full names,
// refreshed from the upstream's teacher list on TTL expiry.
package teachercache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/skulanet/timatalva/model"
)

const cacheKey = "teacher-map"

// PageFetcher performs the upstream POST to /i/teachers.asp for a given
// session, returning the raw HTML teacher list.
type PageFetcher interface {
	FetchTeacherPage(ctx context.Context, lname string) (html string, err error)
}

// Map is an immutable snapshot of initials to full name. Cache inserts a
// new Map wholesale on refresh; it is never mutated after insertion.
type Map map[string]string

// Resolve returns the full name for initials, falling back to the
// initials themselves when unknown.
func (m Map) Resolve(initials string) string {
	if name, ok := m[initials]; ok {
		return name
	}
	return initials
}

// Cache is a singleton, TTL-bounded holder of the current Map. One Cache
// is constructed per process and shared across all requests.
type Cache struct {
	ttl   time.Duration
	store *ristretto.Cache[string, Map]

	mu        sync.Mutex
	inflight  bool
	refreshed chan struct{}
}

// New builds a Cache with the given TTL (24h by default, via
// config.ExtractionOptions.TeacherCacheTTLSec).
func New(ttl time.Duration) (*Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config[string, Map]{
		NumCounters: 100,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, model.InternalError(err, "failed to construct teacher cache store")
	}
	return &Cache{ttl: ttl, store: store}, nil
}

// Get returns the current TeacherMap, fetching and parsing a fresh one
// from the upstream via fetcher on a cache miss or TTL expiry. Concurrent
// callers observing a miss coalesce onto a single in-flight fetch so the
// upstream only receives one /i/teachers.asp POST per refresh window.
func (c *Cache) Get(ctx context.Context, fetcher PageFetcher, lname string) (Map, error) {
	if m, ok := c.store.Get(cacheKey); ok {
		return m, nil
	}

	c.mu.Lock()
	if m, ok := c.store.Get(cacheKey); ok {
		c.mu.Unlock()
		return m, nil
	}
	if c.inflight {
		wait := c.refreshed
		c.mu.Unlock()
		<-wait
		if m, ok := c.store.Get(cacheKey); ok {
			return m, nil
		}
		return nil, model.InternalError(nil, "teacher cache refresh completed without populating a value")
	}
	c.inflight = true
	c.refreshed = make(chan struct{})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight = false
		close(c.refreshed)
		c.mu.Unlock()
	}()

	html, err := fetcher.FetchTeacherPage(ctx, lname)
	if err != nil {
		return nil, err
	}
	m := Parse(html)
	c.store.SetWithTTL(cacheKey, m, 1, c.ttl)
	c.store.Wait()
	return m, nil
}

var (
	selectOptionRE = regexp.MustCompile(`(?s)<option\s+value="([^"]*)">([^<]*)</option>`)
	anchorFormRE   = regexp.MustCompile(`((?:\p{Lu}[\p{L}.]*\s+)*\p{Lu}[\p{L}.]*)\s*\(\s*<a[^>]*>([A-ZÁÐÍÓÚÝÆØ]{2,4})</a>\s*\)`)
	plainFormRE    = regexp.MustCompile(`([^()<>]+?)\s*\(\s*([A-ZÁÐÍÓÚÝÆØ]{2,4})\s*\)`)
)

// Parse extracts a Map from the raw HTML body of /i/teachers.asp.
//
// The <option value="INIT">Full Name</option> rows of the teacher
// <select> are tried first (an option row is read whether or not it sits
// inside a <select>); rows with value "-1" or an empty value are dropped.
// If no option rows are found at all, two ordered regex fallbacks scan the
// raw HTML for "Name ( <a>INIT</a> )" and "Name ( INIT )" forms. In the
// anchor form the name is the run of capitalized words directly before
// the parenthesis.
func Parse(html string) Map {
	m := Map{}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		doc.Find("option").Each(func(_ int, s *goquery.Selection) {
			value, _ := s.Attr("value")
			if value == "" || value == "-1" {
				return
			}
			name := strings.TrimSpace(s.Text())
			if name == "" {
				return
			}
			m[value] = name
		})
	}
	if len(m) > 0 {
		return m
	}

	for _, match := range anchorFormRE.FindAllStringSubmatch(html, -1) {
		name := strings.TrimSpace(match[1])
		initials := match[2]
		if name != "" && initials != "" {
			m[initials] = name
		}
	}
	if len(m) > 0 {
		return m
	}

	for _, match := range plainFormRE.FindAllStringSubmatch(html, -1) {
		name := strings.TrimSpace(match[1])
		initials := match[2]
		if name != "" && initials != "" {
			m[initials] = name
		}
	}
	return m
}
