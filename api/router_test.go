package api_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/skulanet/timatalva/api"
	"github.com/skulanet/timatalva/config"
	"github.com/skulanet/timatalva/logger"
	"github.com/skulanet/timatalva/model"
	"github.com/skulanet/timatalva/orchestrator"
	"github.com/skulanet/timatalva/teachercache"
	"github.com/skulanet/timatalva/transport"
)

// newUpstream stubs the four upstream endpoints and counts every hit, so
// tests can assert that invalid inbound requests never reach the upstream.
func newUpstream(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	count := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(hits, 1)
			h(w, r)
		}
	}
	mux.HandleFunc("/132n/", count(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="/x?lname=SESSION42">bootstrap</a>`))
	}))
	mux.HandleFunc("/i/teachers.asp", count(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<option value="BIJ">Brynjálvur I. Johansen</option>`))
	}))
	mux.HandleFunc("/i/udvalg.asp", count(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a class="UgeKnapValgt">Vika 12</a>
			<div>17.03.2025 - 23.03.2025</div>
			<table class="time_8_16">
				<tr><td class="lektionslinje_1_aktuel">Mánadagur 17/3</td></tr>
				<tr>
					<td></td>
					<td class="lektionslinje_lesson0" colspan="24">
						<a href="#">søg-A-123-2425-x</a>
						<a href="#">BIJ</a>
						<a href="#">608</a>
						<span id="MyWindow12345Main"></span>
					</td>
				</tr>
			</table>
		</body></html>`))
	}))
	mux.HandleFunc("/i/note.asp", count(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(``))
	}))
	return httptest.NewServer(mux)
}

func newRouter(t *testing.T, upstreamURL string) http.Handler {
	t.Helper()
	client, err := transport.New(transport.Options{BaseURL: upstreamURL, RequestTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("transport.New returned error: %v", err)
	}
	cache, err := teachercache.New(time.Hour)
	if err != nil {
		t.Fatalf("teachercache.New returned error: %v", err)
	}
	orch := orchestrator.New(client, cache, logger.New(logger.LevelError))
	return api.NewRouter(orch, config.DefaultExtractionOptions(), logger.New(logger.LevelError))
}

func TestRouter_NegativeCountRejectedWithoutUpstreamCall(t *testing.T) {
	var hits int32
	upstream := newUpstream(t, &hits)
	defer upstream.Close()
	router := newRouter(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/profiles/x/weeks/forward/-3?student_id=42", nil)
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("upstream received %d calls, want 0", n)
	}
}

func TestRouter_MissingCookieRejected(t *testing.T) {
	var hits int32
	upstream := newUpstream(t, &hits)
	defer upstream.Close()
	router := newRouter(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/profiles/x/weeks/0?student_id=42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var envelope model.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if envelope.Category != string(model.KindInput) {
		t.Errorf("category = %q, want %q", envelope.Category, model.KindInput)
	}
}

func TestRouter_SingleWeekRoundTrip(t *testing.T) {
	var hits int32
	upstream := newUpstream(t, &hits)
	defer upstream.Close()
	router := newRouter(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/profiles/x/weeks/0?student_id=42", nil)
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	var td model.TimetableData
	if err := json.Unmarshal(rec.Body.Bytes(), &td); err != nil {
		t.Fatalf("response is not a TimetableData: %v", err)
	}
	if td.FormatVersion != model.FormatVersion {
		t.Errorf("formatVersion = %d, want %d", td.FormatVersion, model.FormatVersion)
	}
	if td.WeekInfo.WeekNumber != 12 || td.WeekInfo.WeekKey != "2025-W12" {
		t.Errorf("weekInfo = %+v, want week 12 / 2025-W12", td.WeekInfo)
	}
	if len(td.Events) != 1 || td.Events[0].Teacher != "Brynjálvur I. Johansen" {
		t.Errorf("events = %+v, want one lesson with the resolved teacher", td.Events)
	}
}
