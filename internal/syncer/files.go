package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmitrijs2005/fitsync/internal/config"
	"github.com/dmitrijs2005/fitsync/internal/state"
)

// runUploadOnly uploads glob-matched track files from the configured local
// directory. The source region is never contacted in this mode.
func (s *Syncer) runUploadOnly(ctx context.Context) error {
	sync := s.cfg.Sync
	if sync.UploadDir == "" {
		return fmt.Errorf("%w: sync.upload_dir is required for upload_only mode", config.ErrInvalid)
	}

	if err := s.dest.Login(ctx); err != nil {
		return fmt.Errorf("login destination region: %w", err)
	}
	if sync.Verbose {
		s.dest.SetHeader("X-Debug-Upload", "1")
	}

	files, err := collectUploadFiles(sync.UploadDir, sync.UploadGlob)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		s.log.Info("no files found", "dir", sync.UploadDir)
		return nil
	}

	if !sync.DryRun {
		if err := s.ensureUploadConsent(ctx); err != nil {
			return err
		}
	}

	for _, path := range files {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		activityID := NormalizeActivityID(stem)

		if !sync.IgnoreState && s.store.IsUploaded(activityID) {
			s.log.Info("already uploaded activity", "id", activityID)
			s.store.Record(activityID, state.StatusAlreadyUploaded, "")
			if err := s.persist(); err != nil {
				return err
			}
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		if sync.DryRun {
			s.log.Info("dry run: would upload", "file", filepath.Base(path))
			s.store.Record(activityID, state.StatusDryRun, "")
			if err := s.persist(); err != nil {
				return err
			}
			continue
		}

		status, err := s.uploadActivity(ctx, activityID, content)
		if err != nil {
			return err
		}
		if status == state.StatusAlreadyUploaded {
			s.log.Info("already uploaded activity", "id", activityID)
		} else {
			s.log.Info("uploaded file", "file", filepath.Base(path))
		}
		s.store.MarkUploaded(activityID)
		s.store.Record(activityID, status, "")
		if err := s.persist(); err != nil {
			return err
		}
	}
	return nil
}

// collectUploadFiles lists the matching files sorted by name. A missing
// directory yields an empty list, not an error.
func collectUploadFiles(dir, glob string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	pattern := glob
	if pattern == "" {
		pattern = "*.fit"
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}
