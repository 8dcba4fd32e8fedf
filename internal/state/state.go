// Package state persists transfer outcomes between runs. The on-disk format
// is a JSON document {"uploaded_ids": [...], "results": {...}} shared with
// earlier versions of the tool, so it must stay stable.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	StatusUploaded        = "uploaded"
	StatusAlreadyUploaded = "already_uploaded"
	StatusDryRun          = "dry_run"
)

const timestampLayout = "2006-01-02 15:04:05"

// Result is the recorded outcome of one activity.
type Result struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Detail    string `json:"detail,omitempty"`
}

// State tracks which activities were already transferred.
type State struct {
	UploadedIDs []string          `json:"uploaded_ids"`
	Results     map[string]Result `json:"results"`

	uploaded map[string]struct{}
	now      func() time.Time
}

// New returns an empty state.
func New() *State {
	return &State{
		UploadedIDs: []string{},
		Results:     map[string]Result{},
		uploaded:    map[string]struct{}{},
		now:         time.Now,
	}
}

// Load reads the state file at path. A missing file, unreadable file or
// malformed document yields an empty state; loading never fails the run.
func Load(path string) *State {
	s := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var doc State
	if err := json.Unmarshal(data, &doc); err != nil {
		return s
	}
	if doc.Results != nil {
		s.Results = doc.Results
	}
	for _, id := range doc.UploadedIDs {
		s.uploaded[id] = struct{}{}
	}
	s.syncUploadedIDs()
	return s
}

// Save writes the state to path, creating parent directories as needed.
// The uploaded_ids list is re-derived as a sorted set before every write.
func (s *State) Save(path string) error {
	s.syncUploadedIDs()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Record upserts the result entry for an activity, stamped with the current
// wall-clock time. detail may be empty.
func (s *State) Record(activityID, status, detail string) {
	s.Results[activityID] = Result{
		Status:    status,
		Timestamp: s.now().Format(timestampLayout),
		Detail:    detail,
	}
}

// MarkUploaded adds the activity to the uploaded set.
func (s *State) MarkUploaded(activityID string) {
	s.uploaded[activityID] = struct{}{}
}

// IsUploaded reports whether the activity was uploaded by a prior run or
// earlier in this one.
func (s *State) IsUploaded(activityID string) bool {
	_, ok := s.uploaded[activityID]
	return ok
}

func (s *State) syncUploadedIDs() {
	ids := make([]string, 0, len(s.uploaded))
	for id := range s.uploaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.UploadedIDs = ids
}
