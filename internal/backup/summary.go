package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// summaryMessageType is the message_type restic uses for the final report.
const summaryMessageType = "summary"

// Summary is the summary message restic emits at the end of `backup --json`.
type Summary struct {
	MessageType         string  `json:"message_type"`
	FilesNew            int     `json:"files_new"`
	FilesChanged        int     `json:"files_changed"`
	FilesUnmodified     int     `json:"files_unmodified"`
	DirsNew             int     `json:"dirs_new"`
	DirsChanged         int     `json:"dirs_changed"`
	DirsUnmodified      int     `json:"dirs_unmodified"`
	DataBlobs           int     `json:"data_blobs"`
	TreeBlobs           int     `json:"tree_blobs"`
	DataAdded           int64   `json:"data_added"`
	DataAddedPacked     int64   `json:"data_added_packed"`
	TotalFilesProcessed int     `json:"total_files_processed"`
	TotalBytesProcessed int64   `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
	SnapshotID          string  `json:"snapshot_id"`
}

// Duration returns TotalDuration as a time.Duration.
func (s *Summary) Duration() time.Duration {
	return time.Duration(s.TotalDuration * float64(time.Second))
}

// Skipped reports whether restic skipped creating a snapshot because nothing
// changed since the previous one.
func (s *Summary) Skipped() bool {
	return s.SnapshotID == ""
}

// String renders the summary the way it is shown to users.
func (s *Summary) String() string {
	if s.Skipped() {
		return fmt.Sprintf("no changes, snapshot skipped (%d files checked in %s)",
			s.TotalFilesProcessed, s.Duration().Round(time.Millisecond))
	}
	return fmt.Sprintf("snapshot %s: %d new, %d changed, %d unmodified files; %s added in %s",
		shortID(s.SnapshotID), s.FilesNew, s.FilesChanged, s.FilesUnmodified,
		formatBytes(s.DataAdded), s.Duration().Round(time.Millisecond))
}

// ParseSummary scans restic's line-delimited JSON output and returns the
// first summary message. Lines that are not JSON objects, or are JSON of
// another message type, are skipped.
func ParseSummary(output []byte) (*Summary, error) {
	for _, line := range bytes.Split(output, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		var summary Summary
		if err := json.Unmarshal(line, &summary); err != nil {
			continue
		}
		if summary.MessageType == summaryMessageType {
			return &summary, nil
		}
	}
	return nil, ErrNoSummary
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
