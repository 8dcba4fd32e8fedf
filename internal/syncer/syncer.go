// Package syncer implements the transfer run: list recent activities on the
// source region, download each track file, upload it to the destination
// region, and checkpoint the state file after every single activity.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/fitsync/internal/config"
	"github.com/dmitrijs2005/fitsync/internal/garmin"
	"github.com/dmitrijs2005/fitsync/internal/logging"
	"github.com/dmitrijs2005/fitsync/internal/state"
)

// Syncer is the top-level orchestrator. Strictly sequential: one activity is
// fully downloaded, uploaded and persisted before the next begins.
type Syncer struct {
	cfg    *config.Config
	source garmin.API
	dest   garmin.API
	store  *state.State
	log    logging.Logger
	now    func() time.Time

	consentDone bool
}

// New wires the orchestrator. source is the china region client, dest the
// global one; both are still unauthenticated.
func New(cfg *config.Config, source, dest garmin.API, store *state.State, log logging.Logger) *Syncer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Syncer{cfg: cfg, source: source, dest: dest, store: store, log: log, now: time.Now}
}

// Run executes one transfer run for the configured mode. Fatal errors abort
// the run; state persisted for already-processed activities survives.
func (s *Syncer) Run(ctx context.Context) error {
	sync := s.cfg.Sync

	if sync.Mode == config.ModeUploadOnly {
		return s.runUploadOnly(ctx)
	}

	listParams := s.effectiveListParams()

	if err := s.source.Login(ctx); err != nil {
		return fmt.Errorf("login source region: %w", err)
	}
	if sync.Mode == config.ModeFull {
		if err := s.dest.Login(ctx); err != nil {
			return fmt.Errorf("login destination region: %w", err)
		}
		if sync.Verbose {
			s.dest.SetHeader("X-Debug-Upload", "1")
		}
	}

	if sync.Verbose {
		s.log.Info("source list endpoint", "endpoint", s.cfg.China.Endpoints.ListActivities, "params", listParams)
	}

	activities, err := s.fetchActivities(ctx, listParams)
	if err != nil {
		return err
	}
	activities = sortActivities(activities, s.cfg.China.SortKey)
	selected := activities
	if len(selected) > sync.Limit {
		selected = selected[:sync.Limit]
	}

	if sync.Verbose {
		s.log.Info("fetched activities", "total", len(activities), "selected", len(selected), "limit", sync.Limit)
	}

	for _, activity := range selected {
		if err := s.processActivity(ctx, activity); err != nil {
			return err
		}
	}
	return nil
}

// effectiveListParams merges the run limit into the configured list query so
// the fetch never returns fewer items than will be selected. The limit param
// is only raised when the region config already carries one.
func (s *Syncer) effectiveListParams() map[string]any {
	params := make(map[string]any, len(s.cfg.China.ListParams))
	for k, v := range s.cfg.China.ListParams {
		params[k] = v
	}
	if raw, ok := params["limit"]; ok {
		configured, err := toInt(raw)
		if err != nil || s.cfg.Sync.Limit > configured {
			params["limit"] = s.cfg.Sync.Limit
		}
	}
	return params
}

func (s *Syncer) processActivity(ctx context.Context, activity Activity) error {
	sync := s.cfg.Sync

	if !sync.IgnoreState && s.store.IsUploaded(activity.ID) {
		s.log.Info("already uploaded activity", "id", activity.ID)
		s.store.Record(activity.ID, state.StatusAlreadyUploaded, "")
		return s.persist()
	}

	s.log.Info("downloading activity", "id", activity.ID)
	content, err := s.downloadActivity(ctx, activity.ID)
	if err != nil {
		return err
	}
	if err := s.maybeSaveDownload(activity.ID, content); err != nil {
		return err
	}

	if sync.DryRun || sync.Mode == config.ModeDownloadOnly {
		s.log.Info("dry run: would upload activity", "id", activity.ID)
		s.store.Record(activity.ID, state.StatusDryRun, "")
		return s.persist()
	}

	if err := s.ensureUploadConsent(ctx); err != nil {
		return err
	}

	status, err := s.uploadActivity(ctx, activity.ID, content)
	if err != nil {
		return err
	}
	if status == state.StatusAlreadyUploaded {
		s.log.Info("already uploaded activity", "id", activity.ID)
	} else {
		s.log.Info("uploaded activity", "id", activity.ID)
	}
	s.store.MarkUploaded(activity.ID)
	s.store.Record(activity.ID, status, "")
	return s.persist()
}

// fetchActivities lists the source region's activities and keeps the entries
// carrying an ID.
func (s *Syncer) fetchActivities(ctx context.Context, listParams map[string]any) ([]Activity, error) {
	region := &s.cfg.China
	if region.Endpoints.ListActivities == "" {
		return nil, errors.New("list_activities endpoint not configured")
	}

	resp, err := s.source.GetJSON(ctx, region.Endpoints.ListActivities, listParams)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	data := resp.Data
	if s.cfg.Sync.Verbose {
		s.log.Info("list response", "status", resp.StatusCode, "content_type", resp.Header.Get("Content-Type"))
	}

	if _, isText := data.(string); isText &&
		strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return nil, errors.New(
			"list endpoint returned HTML instead of JSON; " +
				"this usually means auth is incomplete or required headers are missing")
	}

	if region.ListResponseKey != "" {
		if obj, ok := data.(map[string]any); ok {
			data = obj[region.ListResponseKey]
		} else {
			data = []any{}
		}
	}

	items, ok := data.([]any)
	if !ok {
		return nil, errors.New("expected activities list in response")
	}

	activities := make([]Activity, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := stringifyID(obj[region.IDField])
		if id == "" {
			continue
		}
		activities = append(activities, Activity{ID: id, Raw: obj})
	}
	return activities, nil
}

// downloadActivity fetches the track file bytes, unpacking ZIP payloads to
// the inner track file.
func (s *Syncer) downloadActivity(ctx context.Context, activityID string) ([]byte, error) {
	region := &s.cfg.China
	if region.Endpoints.DownloadActivity == "" {
		return nil, errors.New("download_activity endpoint not configured")
	}
	path := strings.ReplaceAll(region.Endpoints.DownloadActivity, "{activity_id}", activityID)
	resp, err := s.source.GetBytes(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("download activity %s: %w", activityID, err)
	}
	if isZipBytes(resp.Bytes) {
		return extractTrackFile(resp.Bytes, activityID)
	}
	return resp.Bytes, nil
}

// uploadActivity posts the track file to the destination. 409 is the
// expected-conflict signal, mapped to already_uploaded; any other non-2xx is
// fatal.
func (s *Syncer) uploadActivity(ctx context.Context, activityID string, content []byte) (string, error) {
	region := &s.cfg.Global
	if region.Endpoints.UploadActivity == "" {
		return "", errors.New("upload_activity endpoint not configured")
	}
	filename := "activity_" + NormalizeActivityID(activityID) + ".fit"
	_, err := s.dest.PostFile(ctx, region.Endpoints.UploadActivity, filename, content)
	if err != nil {
		var statusErr *garmin.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
			return state.StatusAlreadyUploaded, nil
		}
		return "", fmt.Errorf("upload activity %s: %w", activityID, err)
	}
	return state.StatusUploaded, nil
}

// ensureUploadConsent requests destination-side upload consent once per run.
// Regions without a consent endpoint skip it entirely.
func (s *Syncer) ensureUploadConsent(ctx context.Context) error {
	if s.consentDone {
		return nil
	}
	region := &s.cfg.Global
	if region.Endpoints.UploadConsent == "" {
		s.consentDone = true
		return nil
	}
	params := s.resolveConsentParams(region.ConsentParams)
	resp, err := s.dest.GetJSON(ctx, region.Endpoints.UploadConsent, params)
	if err != nil {
		return fmt.Errorf("upload consent: %w", err)
	}
	if s.cfg.Sync.Verbose {
		s.log.Info("upload consent", "status", resp.StatusCode)
	}
	s.consentDone = true
	return nil
}

// resolveConsentParams substitutes the now/now_ms tokens with the current
// epoch milliseconds at request time.
func (s *Syncer) resolveConsentParams(params map[string]any) map[string]any {
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		if text, ok := v.(string); ok {
			switch strings.ToLower(text) {
			case "now", "now_ms":
				resolved[k] = s.now().UnixMilli()
				continue
			}
		}
		resolved[k] = v
	}
	return resolved
}

func (s *Syncer) maybeSaveDownload(activityID string, content []byte) error {
	dir := s.cfg.Sync.DownloadDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(dir, "activity_"+activityID+".fit")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("save download %s: %w", path, err)
	}
	return nil
}

func (s *Syncer) persist() error {
	if err := s.store.Save(s.cfg.Sync.StatePath); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// stringifyID renders the list endpoint's ID field as a stable string.
// JSON numbers arrive as float64 and must not pick up an exponent.
func stringifyID(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

func toInt(v any) (int, error) {
	switch value := v.(type) {
	case int:
		return value, nil
	case float64:
		return int(value), nil
	case string:
		return strconv.Atoi(value)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
