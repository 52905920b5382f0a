// Package payload watches the adapter's own outbound JSON for unannounced
// shape drift.
//
// model.TimetableData is the one contract every caller of this API codes
// against; a field silently renamed, dropped, or changing type would break
// them without tripping FormatVersion. Validator records the field/type
// shape of the first successful response as a baseline snapshot and flags
// any later response that disagrees with it. Mismatches are logged, never rejected,
// since the orchestrator has already validated the payload by the time it
// reaches this check.
//
// Fields are identified by dot-separated path ("events.teacher"); array
// elements are not indexed, so "events.0.teacher" and "events.1.teacher"
// both collapse onto "events.teacher": the shape of one lesson in a batch
// stands for the shape of all of them.
//
// Four Lesson fields are nullable by contract (startTime, endTime,
// lessonId, description): the same response shape legitimately alternates
// between null and a typed value from one lesson to the next, so a type
// flip against "null" is never reported as drift for those paths.
//
// Validator is safe for concurrent use.
package payload

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// MismatchKind classifies one way a response can diverge from the baseline.
type MismatchKind string

const (
	MismatchKindMissing    MismatchKind = "MISSING_FIELD"
	MismatchKindAdded      MismatchKind = "ADDED_FIELD"
	MismatchKindTypeChange MismatchKind = "TYPE_CHANGE"
)

// Mismatch is one detected divergence between the learned baseline and a
// later response.
type Mismatch struct {
	Kind     MismatchKind
	Field    string
	Baseline string // empty for MismatchKindAdded
	Current  string // empty for MismatchKindMissing
}

func (m Mismatch) String() string {
	switch m.Kind {
	case MismatchKindMissing:
		return fmt.Sprintf("PAYLOAD MISMATCH [%s] field %q missing (baseline had %s)", m.Kind, m.Field, m.Baseline)
	case MismatchKindAdded:
		return fmt.Sprintf("PAYLOAD MISMATCH [%s] field %q added (type %s)", m.Kind, m.Field, m.Current)
	case MismatchKindTypeChange:
		return fmt.Sprintf("PAYLOAD MISMATCH [%s] field %q changed type %s -> %s", m.Kind, m.Field, m.Baseline, m.Current)
	default:
		return fmt.Sprintf("PAYLOAD MISMATCH [%s] field %q", m.Kind, m.Field)
	}
}

// fieldTypes maps a flattened field path to the JSON type observed there.
type fieldTypes map[string]string

// nullableFields are the wire paths where null is an expected, contractual
// alternative to a typed value rather than drift.
var nullableFields = map[string]bool{
	"startTime":   true,
	"endTime":     true,
	"lessonId":    true,
	"description": true,
}

// Validator holds the learned baseline shape and compares later responses
// against it.
type Validator struct {
	mu       sync.RWMutex
	baseline fieldTypes
}

// NewValidator returns a Validator with no baseline; the first call to
// Validate establishes one.
func NewValidator() *Validator {
	return &Validator{}
}

// HasBaseline reports whether a baseline has been learned yet.
func (v *Validator) HasBaseline() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.baseline != nil
}

// Learn replaces the baseline with data's shape, discarding any prior one.
func (v *Validator) Learn(data []byte) error {
	shape, err := shapeOf(data)
	if err != nil {
		return fmt.Errorf("payload: learn: %w", err)
	}
	v.mu.Lock()
	v.baseline = shape
	v.mu.Unlock()
	return nil
}

// Reset discards the learned baseline.
func (v *Validator) Reset() {
	v.mu.Lock()
	v.baseline = nil
	v.mu.Unlock()
}

// Validate compares data's shape against the baseline, learning one
// automatically on the first call. A nil, empty Mismatch slice means no
// drift was detected.
func (v *Validator) Validate(data []byte) ([]Mismatch, error) {
	current, err := shapeOf(data)
	if err != nil {
		return nil, fmt.Errorf("payload: validate: %w", err)
	}

	v.mu.Lock()
	if v.baseline == nil {
		v.baseline = current
		v.mu.Unlock()
		return nil, nil
	}
	baseline := v.baseline
	v.mu.Unlock()

	return compareShapes(baseline, current), nil
}

// BaselineFields returns the learned field paths, sorted for stable output.
func (v *Validator) BaselineFields() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.baseline))
	for field := range v.baseline {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

// shapeOf decodes data as a JSON object and flattens it into fieldTypes.
func shapeOf(data []byte) (fieldTypes, error) {
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	shape := fieldTypes{}
	collectFields(decoded, "", shape)
	return shape, nil
}

func collectFields(obj map[string]any, prefix string, out fieldTypes) {
	for key, value := range obj {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		out[path] = jsonTypeOf(value, path, out)
	}
}

// jsonTypeOf classifies value's JSON type. For objects it recurses into out
// via collectFields; for arrays it walks every element and folds each
// object element's fields onto path, collapsing the index away so
// "events.0.teacher" and "events.1.teacher" both land on "events.teacher"
// (package doc above).
func jsonTypeOf(value any, path string, out fieldTypes) string {
	switch v := value.(type) {
	case map[string]any:
		collectFields(v, path, out)
		return "object"
	case []any:
		for _, elem := range v {
			if obj, ok := elem.(map[string]any); ok {
				collectFields(obj, path, out)
			}
		}
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	case nil:
		return "null"
	default:
		return "unknown"
	}
}

// compareShapes reports every path present in one shape but not the other,
// or present in both with an incompatible type change, excluding the
// null-vs-typed swings nullableFields expects.
func compareShapes(baseline, current fieldTypes) []Mismatch {
	var out []Mismatch

	for field, baselineType := range baseline {
		currentType, present := current[field]
		if !present {
			out = append(out, Mismatch{Kind: MismatchKindMissing, Field: field, Baseline: baselineType})
			continue
		}
		if currentType != baselineType && !tolerableNullSwing(field, baselineType, currentType) {
			out = append(out, Mismatch{Kind: MismatchKindTypeChange, Field: field, Baseline: baselineType, Current: currentType})
		}
	}
	for field, currentType := range current {
		if _, present := baseline[field]; !present {
			out = append(out, Mismatch{Kind: MismatchKindAdded, Field: field, Current: currentType})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func tolerableNullSwing(field, baselineType, currentType string) bool {
	leaf := field
	if idx := strings.LastIndex(field, "."); idx >= 0 {
		leaf = field[idx+1:]
	}
	if !nullableFields[leaf] {
		return false
	}
	return baselineType == "null" || currentType == "null"
}

// FormatMismatches renders mismatches as one line each, for a log message.
// Returns "" for an empty or nil slice.
func FormatMismatches(mismatches []Mismatch) string {
	if len(mismatches) == 0 {
		return ""
	}
	lines := make([]string, len(mismatches))
	for i, m := range mismatches {
		lines[i] = m.String()
	}
	return strings.Join(lines, "\n")
}
