// Package upstreamsession bootstraps a per-request Session against the
// upstream timetable site: parsing the caller's opaque
// cookie string, fetching the base timetable page, and extracting the
// `lname` session token those upstream POST bodies all require.
package upstreamsession

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/skulanet/timatalva/model"
)

// BasePageFetcher performs the single bootstrap GET against the upstream's
// base timetable page, without following redirects. A non-200 status
// (including a redirect) is reported via statusCode so Bootstrap can
// classify it as an authentication failure.
type BasePageFetcher interface {
	FetchBasePage(ctx context.Context, cookies map[string]string) (body string, statusCode int, err error)
}

// Session is the bootstrapped, per-request handle shared read-only across
// all of a request's fan-out tasks.
type Session struct {
	Cookies map[string]string
	LName   string
}

// NewTimer mints a fresh request-timer seed: current wall-clock
// milliseconds as a decimal string. Every outbound upstream call re-mints
// its own timer; only LName is held stable for the request's lifetime.
func NewTimer() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// ParseCookies splits a semicolon-separated "name=value; name2=value2"
// cookie string into a map. Surrounding whitespace is trimmed; pairs
// without an "=" are dropped. Parsing is idempotent: parsing the same
// string twice yields identical maps.
func ParseCookies(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, "=")
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(pair[:idx])
		value := strings.TrimSpace(pair[idx+1:])
		if name == "" {
			continue
		}
		out[name] = value
	}
	return out
}

// lnamePatterns is tried in order; the first match wins.
var lnamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[?&]lname=([^&"'\s]+)`),
	regexp.MustCompile(`xmlhttp\.send\("[^"]*lname=([^&"]+)`),
	regexp.MustCompile(`MyUpdate\('[^']*',[^,]*,(\d+)\)`),
	regexp.MustCompile(`name="lname"\s+value="([^"]*)"`),
}

// extractLName tries lnamePatterns in order and truncates the captured
// value at the first comma.
func extractLName(html string) string {
	for _, pattern := range lnamePatterns {
		if m := pattern.FindStringSubmatch(html); m != nil {
			value := m[1]
			if idx := strings.Index(value, ","); idx >= 0 {
				value = value[:idx]
			}
			return value
		}
	}
	return ""
}

// Bootstrap reconstructs a Session from the caller's raw cookie string.
//
// cookiesRaw must parse into a non-empty cookie map; an empty parse
// result is a fatal client error. The base page fetch must not follow
// redirects: a non-200 status is reported as an AuthError, since the only
// way the upstream signals "not logged in" is a redirect to its login
// page.
func Bootstrap(ctx context.Context, fetcher BasePageFetcher, cookiesRaw string) (*Session, error) {
	cookies := ParseCookies(cookiesRaw)
	if len(cookies) == 0 {
		return nil, model.InputError("cookie string did not contain any name=value pairs")
	}

	body, status, err := fetcher.FetchBasePage(ctx, cookies)
	if err != nil {
		return nil, model.NetworkError(err, "bootstrap request to base timetable page failed")
	}
	if status != 200 {
		return nil, model.AuthError("bootstrap received non-200 status %d (likely a login redirect)", status)
	}

	lname := extractLName(body)
	if lname == "" {
		return nil, model.UpstreamProtocolError("session parameter missing from base page")
	}

	return &Session{Cookies: cookies, LName: lname}, nil
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{lname=%s, cookies=%d}", s.LName, len(s.Cookies))
}
