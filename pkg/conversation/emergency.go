package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"warmbot/pkg/logx"
)

// EmergencyRecord is one crisis-flagged comment. These are never replied to;
// they are written out for a human to review.
type EmergencyRecord struct {
	Time          time.Time `json:"time"`
	ItemID        string    `json:"item_id"`
	RootCommentID string    `json:"root_comment_id"`
	UserID        string    `json:"user_id"`
	UserName      string    `json:"user_name"`
	Content       string    `json:"content"`
	Reason        string    `json:"reason"`
}

// EmergencyLog appends crisis records to a JSON-lines file.
type EmergencyLog struct {
	mu     sync.Mutex
	path   string
	logger *logx.Logger
}

// NewEmergencyLog creates a log writing to path, creating parent directories
// on first write.
func NewEmergencyLog(path string) *EmergencyLog {
	return &EmergencyLog{
		path:   path,
		logger: logx.NewLogger("emergency"),
	}
}

// Record appends one record. Failures are returned but callers are expected
// to log and continue; an unwritable audit file must not stop the bot.
func (l *EmergencyLog) Record(rec EmergencyRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create emergency log dir: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open emergency log: %w", err)
	}
	defer func() { _ = f.Close() }()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal emergency record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write emergency record: %w", err)
	}

	l.logger.Warn("emergency comment flagged on item %s (user %s)", rec.ItemID, rec.UserID)
	return nil
}
