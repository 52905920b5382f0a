package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/skulanet/timatalva/config"
	"github.com/skulanet/timatalva/model"
	"github.com/skulanet/timatalva/payload"
)

// requestParams bundles the cookie/student_id pair every route requires
// and the per-request ExtractionOptions overrides.
type requestParams struct {
	cookies   string
	studentID string
	opts      config.ExtractionOptions
}

// recognizedOptionQueryKeys mirrors config.ExtractionOptions' JSON tags.
// Unknown option keys are rejected rather than silently ignored.
var recognizedOptionQueryKeys = map[string]bool{
	"student_id":             true,
	"force_max_concurrency":  true,
	"week_fetch_initial":     true,
	"homework_fetch_initial": true,
	"teacher_cache_ttl_sec":  true,
	"request_timeout_sec":    true,
	"max_retries":            true,
	"backoff_factor":         true,
}

func (s *Server) parseParams(w http.ResponseWriter, r *http.Request) (requestParams, bool) {
	cookies := r.Header.Get("Cookie")
	if cookies == "" {
		s.writeError(w, model.InputError("missing Cookie header"))
		return requestParams{}, false
	}
	query := r.URL.Query()
	studentID := query.Get("student_id")
	if studentID == "" {
		s.writeError(w, model.InputError("missing student_id query parameter"))
		return requestParams{}, false
	}

	opts, err := parseExtractionOptions(s.opts, query)
	if err != nil {
		s.writeError(w, err)
		return requestParams{}, false
	}

	return requestParams{cookies: cookies, studentID: studentID, opts: opts}, true
}

// parseExtractionOptions overlays any recognized query parameters onto
// defaults, rejecting unrecognized keys.
func parseExtractionOptions(defaults config.ExtractionOptions, query url.Values) (config.ExtractionOptions, error) {
	for key := range query {
		if !recognizedOptionQueryKeys[key] {
			return config.ExtractionOptions{}, model.InputError("unrecognized query parameter %q", key)
		}
	}

	opts := defaults
	var err error
	if v := query.Get("force_max_concurrency"); v != "" {
		if opts.ForceMaxConcurrency, err = strconv.ParseBool(v); err != nil {
			return config.ExtractionOptions{}, model.InputError("force_max_concurrency %q is not a bool", v)
		}
	}
	if v := query.Get("week_fetch_initial"); v != "" {
		if opts.WeekFetchInitial, err = strconv.Atoi(v); err != nil {
			return config.ExtractionOptions{}, model.InputError("week_fetch_initial %q is not an integer", v)
		}
		if opts.WeekFetchInitial < 1 || opts.WeekFetchInitial > config.WeekFetchMax {
			return config.ExtractionOptions{}, model.InputError("week_fetch_initial must be in [1, %d]", config.WeekFetchMax)
		}
	}
	if v := query.Get("homework_fetch_initial"); v != "" {
		if opts.HomeworkFetchInitial, err = strconv.Atoi(v); err != nil {
			return config.ExtractionOptions{}, model.InputError("homework_fetch_initial %q is not an integer", v)
		}
		if opts.HomeworkFetchInitial < 1 || opts.HomeworkFetchInitial > config.HomeworkFetchMax {
			return config.ExtractionOptions{}, model.InputError("homework_fetch_initial must be in [1, %d]", config.HomeworkFetchMax)
		}
	}
	if v := query.Get("teacher_cache_ttl_sec"); v != "" {
		if opts.TeacherCacheTTLSec, err = strconv.Atoi(v); err != nil {
			return config.ExtractionOptions{}, model.InputError("teacher_cache_ttl_sec %q is not an integer", v)
		}
	}
	if v := query.Get("request_timeout_sec"); v != "" {
		if opts.RequestTimeoutSec, err = strconv.ParseFloat(v, 64); err != nil {
			return config.ExtractionOptions{}, model.InputError("request_timeout_sec %q is not a number", v)
		}
	}
	if v := query.Get("max_retries"); v != "" {
		if opts.MaxRetries, err = strconv.Atoi(v); err != nil {
			return config.ExtractionOptions{}, model.InputError("max_retries %q is not an integer", v)
		}
	}
	if v := query.Get("backoff_factor"); v != "" {
		if opts.BackoffFactor, err = strconv.ParseFloat(v, 64); err != nil {
			return config.ExtractionOptions{}, model.InputError("backoff_factor %q is not a number", v)
		}
	}
	return opts, nil
}

func (s *Server) handleOffset(w http.ResponseWriter, r *http.Request) {
	params, ok := s.parseParams(w, r)
	if !ok {
		return
	}
	offsetStr := chi.URLParam(r, "offset")
	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		s.writeError(w, model.InputError("offset %q is not an integer", offsetStr))
		return
	}

	td, err := s.orch.Week(r.Context(), params.cookies, params.studentID, offset, params.opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.checkSchema(td)
	s.writeJSON(w, http.StatusOK, td)
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	params, ok := s.parseParams(w, r)
	if !ok {
		return
	}

	offsets, err := s.orch.AvailableOffsets(r.Context(), params.cookies, params.studentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	results, err := s.orch.Weeks(r.Context(), params.cookies, params.studentID, offsets, params.opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCurrentForward(w http.ResponseWriter, r *http.Request) {
	params, ok := s.parseParams(w, r)
	if !ok {
		return
	}

	allOffsets, err := s.orch.AvailableOffsets(r.Context(), params.cookies, params.studentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var forward []int
	for _, o := range allOffsets {
		if o >= 0 {
			forward = append(forward, o)
		}
	}
	results, err := s.orch.Weeks(r.Context(), params.cookies, params.studentID, forward, params.opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	params, ok := s.parseParams(w, r)
	if !ok {
		return
	}
	countStr := chi.URLParam(r, "count")
	count, err := strconv.Atoi(countStr)
	if err != nil || count < 0 {
		s.writeError(w, model.InputError("count %q must be a non-negative integer", countStr))
		return
	}

	offsets := make([]int, count+1)
	for i := 0; i <= count; i++ {
		offsets[i] = i
	}
	results, err := s.orch.Weeks(r.Context(), params.cookies, params.studentID, offsets, params.opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Errorf("failed to encode response: %v", err)
	}
}

// checkSchema compares a single TimetableData's serialized shape against the
// schema learned from this process's first successful response. A mismatch
// means the model package changed shape without a matching FormatVersion
// bump, which every consumer depends on to detect breaking changes; it is
// logged, never surfaced to the caller.
func (s *Server) checkSchema(td model.TimetableData) {
	data, err := json.Marshal(td)
	if err != nil {
		return
	}
	mismatches, err := s.schema.Validate(data)
	if err != nil {
		return
	}
	if len(mismatches) > 0 {
		s.log.Errorf("response schema drift detected:\n%s", payload.FormatMismatches(mismatches))
	}
}

// writeError maps err to its HTTP status, wrapping plain errors as
// internal failures.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var adapterErr *model.Error
	if !errors.As(err, &adapterErr) {
		adapterErr = model.InternalError(err, "unexpected error")
	}
	s.log.Errorf("request failed: %v", adapterErr)
	s.writeJSON(w, adapterErr.StatusCode(), adapterErr.Envelope())
}
