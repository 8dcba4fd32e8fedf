package syncer

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// isZipBytes checks for the ZIP magic at offset 0.
func isZipBytes(content []byte) bool {
	return len(content) >= 4 && content[0] == 'P' && content[1] == 'K'
}

// extractTrackFile unpacks the first .fit entry from a downloaded archive,
// or the first entry when no name matches. An empty archive is a data-shape
// error.
func extractTrackFile(content []byte, activityID string) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open activity zip %s: %w", activityID, err)
	}

	var target *zip.File
	for _, f := range reader.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".fit") {
			target = f
			break
		}
	}
	if target == nil && len(reader.File) > 0 {
		target = reader.File[0]
	}
	if target == nil {
		return nil, fmt.Errorf("no files found in activity zip %s", activityID)
	}

	rc, err := target.Open()
	if err != nil {
		return nil, fmt.Errorf("read %s from activity zip %s: %w", target.Name, activityID, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
