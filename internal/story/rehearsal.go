package story

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RehearsalFileName is the rehearsal schedule file inside the data directory.
const RehearsalFileName = "rehearsal.json"

// Rehearsal intervals follow a spaced-repetition ladder: each successful
// recall doubles the interval up to the cap.
const (
	rehearsalInitialInterval = 24 * time.Hour
	rehearsalMaxInterval     = 90 * 24 * time.Hour
)

// RehearsalState tracks when the account's story should next be rehearsed
// to mitigate memory drift.
type RehearsalState struct {
	LastRehearsal time.Time     `json:"last_rehearsal"`
	NextDue       time.Time     `json:"next_due"`
	Interval      time.Duration `json:"interval_ns"`
	Successes     int           `json:"successes"`
}

// NewRehearsalState starts the schedule at the initial interval.
func NewRehearsalState() *RehearsalState {
	now := time.Now()
	return &RehearsalState{
		LastRehearsal: now,
		NextDue:       now.Add(rehearsalInitialInterval),
		Interval:      rehearsalInitialInterval,
	}
}

// IsDue reports whether a rehearsal is due.
func (r *RehearsalState) IsDue() bool {
	return time.Now().After(r.NextDue)
}

// RecordSuccess advances the schedule, doubling the interval up to the cap.
func (r *RehearsalState) RecordSuccess() {
	now := time.Now()
	r.LastRehearsal = now
	r.Successes++
	r.Interval *= 2
	if r.Interval > rehearsalMaxInterval {
		r.Interval = rehearsalMaxInterval
	}
	r.NextDue = now.Add(r.Interval)
}

// SaveRehearsal writes the schedule into the data directory.
func SaveRehearsal(dir string, r *RehearsalState) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode rehearsal state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, RehearsalFileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write rehearsal state: %w", err)
	}
	return nil
}

// LoadRehearsal reads the schedule, falling back to a fresh one when the
// file is missing or unreadable.
func LoadRehearsal(dir string) *RehearsalState {
	data, err := os.ReadFile(filepath.Join(dir, RehearsalFileName))
	if err != nil {
		return NewRehearsalState()
	}
	var r RehearsalState
	if err := json.Unmarshal(data, &r); err != nil {
		return NewRehearsalState()
	}
	return &r
}
