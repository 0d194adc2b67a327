package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// LocalQuota mirrors the backend's daily allowance in a local file so
// the quota gate still works when the backend is unreachable. The
// server remains authoritative; this is a best-effort offline shadow.
type LocalQuota struct {
	Path       string
	DailyLimit int
}

type localQuotaRecord struct {
	LastUsedDate string `json:"last_used_date"`
	Count        int    `json:"count"`
}

func NewLocalQuota(path string) *LocalQuota {
	return &LocalQuota{Path: path, DailyLimit: 1}
}

func (q *LocalQuota) load() localQuotaRecord {
	var record localQuotaRecord
	data, err := os.ReadFile(q.Path)
	if err != nil {
		return record
	}
	// A corrupt file reads as an empty record, which allows.
	_ = json.Unmarshal(data, &record)
	return record
}

func (q *LocalQuota) save(record localQuotaRecord) error {
	if err := os.MkdirAll(filepath.Dir(q.Path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return os.WriteFile(q.Path, data, 0o644)
}

func today() string {
	return time.Now().Format("2006-01-02")
}

// CanAnalyzeToday reports whether the local shadow permits another
// analysis today.
func (q *LocalQuota) CanAnalyzeToday() bool {
	record := q.load()
	if record.LastUsedDate != today() {
		return true
	}
	return record.Count < q.DailyLimit
}

// MarkUsed records one analysis against today.
func (q *LocalQuota) MarkUsed() error {
	record := q.load()
	if record.LastUsedDate == today() {
		record.Count++
	} else {
		record.LastUsedDate = today()
		record.Count = 1
	}
	return q.save(record)
}
