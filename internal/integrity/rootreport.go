package integrity

import (
	"encoding/json"
	"fmt"
	"time"
)

// SubCheck is the outcome of one root heuristic.
type SubCheck struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Detected    bool   `json:"detected"`
}

// RootReport is produced by the on-device root detector.
type RootReport struct {
	Rooted          bool       `json:"rooted"`
	TriggeredChecks []string   `json:"triggeredChecks"`
	SubChecks       []SubCheck `json:"subChecks,omitempty"`
	TimestampMs     int64      `json:"timestampMs,omitempty"`
}

// NewRootReport builds a report from the detector library's aggregate verdict
// and the individual checks it ran. Rooted is true when the aggregate says so
// or when any single check fired.
func NewRootReport(aggregate bool, checks []SubCheck, at time.Time) *RootReport {
	r := &RootReport{
		Rooted:      aggregate,
		SubChecks:   checks,
		TimestampMs: at.UnixMilli(),
	}
	r.normalize()
	return r
}

// normalize derives TriggeredChecks when missing and enforces
// Rooted = aggregate OR any detected.
func (r *RootReport) normalize() {
	if len(r.TriggeredChecks) == 0 {
		for _, c := range r.SubChecks {
			if c.Detected {
				r.TriggeredChecks = append(r.TriggeredChecks, c.Description)
			}
		}
	}
	if len(r.TriggeredChecks) > 0 {
		r.Rooted = true
	}
	if r.TriggeredChecks == nil {
		r.TriggeredChecks = []string{}
	}
}

// ParseRootReport decodes a detector report and normalizes it.
func ParseRootReport(data []byte) (*RootReport, error) {
	var r RootReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse root report: %w", err)
	}
	r.normalize()
	return &r, nil
}
