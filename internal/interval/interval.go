// Package interval holds the detected leak span returned by the analysis service.
package interval

import (
	"encoding/json"
	"fmt"
	"math"
)

// Epsilon is the allowed gap, in seconds, between end-start and the reported duration.
const Epsilon = 1e-3

// Interval is one detected leak span, in seconds from the start of the source video.
type Interval struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// ParseError reports an interval record that failed validation.
// Index is the position in the service response, or -1 for a standalone record.
type ParseError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("interval %d: %s: %s", e.Index, e.Field, e.Reason)
	}
	return fmt.Sprintf("interval: %s: %s", e.Field, e.Reason)
}

// New validates and builds an Interval. Nothing is clamped or corrected.
func New(start, end, duration float64) (Interval, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{{"start", start}, {"end", end}, {"duration", duration}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return Interval{}, &ParseError{Index: -1, Field: f.name, Reason: "not a finite number"}
		}
	}
	if start < 0 {
		return Interval{}, &ParseError{Index: -1, Field: "start", Reason: fmt.Sprintf("negative (%g)", start)}
	}
	if end < start {
		return Interval{}, &ParseError{Index: -1, Field: "end", Reason: fmt.Sprintf("%g is before start %g", end, start)}
	}
	if math.Abs((end-start)-duration) > Epsilon {
		return Interval{}, &ParseError{Index: -1, Field: "duration", Reason: fmt.Sprintf("%g does not match end-start %g", duration, end-start)}
	}
	return Interval{Start: start, End: end, Duration: duration}, nil
}

// record mirrors the service's JSON shape; pointers tell a missing field from zero.
type record struct {
	Start    *float64 `json:"start"`
	End      *float64 `json:"end"`
	Duration *float64 `json:"duration"`
}

// Parse decodes and validates one interval record from the service response.
func Parse(raw json.RawMessage) (Interval, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Interval{}, &ParseError{Index: -1, Field: "record", Reason: err.Error()}
	}
	switch {
	case r.Start == nil:
		return Interval{}, &ParseError{Index: -1, Field: "start", Reason: "missing"}
	case r.End == nil:
		return Interval{}, &ParseError{Index: -1, Field: "end", Reason: "missing"}
	case r.Duration == nil:
		return Interval{}, &ParseError{Index: -1, Field: "duration", Reason: "missing"}
	}
	return New(*r.Start, *r.End, *r.Duration)
}

// ParseList parses every record in response order. Any invalid record fails
// the whole list; the returned error carries the offending index.
func ParseList(raws []json.RawMessage) ([]Interval, error) {
	out := make([]Interval, 0, len(raws))
	for i, raw := range raws {
		iv, err := Parse(raw)
		if err != nil {
			if pe, ok := err.(*ParseError); ok {
				pe.Index = i
			}
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}
