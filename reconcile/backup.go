package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// backupFile is the on-disk shape of a pre-fix backup. The expected and
// current values for every mismatched client go in before any write, so a
// bad fix batch can always be reversed by hand.
type backupFile struct {
	Timestamp     time.Time  `json:"timestamp"`
	Mode          Mode       `json:"mode"`
	TotalClients  int        `json:"totalClients"`
	MismatchCount int        `json:"mismatchCount"`
	Mismatches    []Mismatch `json:"mismatches"`
}

// WriteBackup persists the mismatch set to dir as a timestamped JSON file
// and returns the full path. The directory is created if missing.
func WriteBackup(dir string, mode Mode, totalClients int, mismatches []Mismatch, now time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("reconciliation-backup-%s.json", now.UTC().Format("2006-01-02T15-04-05Z"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(backupFile{
		Timestamp:     now.UTC(),
		Mode:          mode,
		TotalClients:  totalClients,
		MismatchCount: len(mismatches),
		Mismatches:    mismatches,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}
