package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Times are persisted as RFC 3339 text so rows stay readable with plain
// sqlite3 and scanning never depends on driver time handling.
const timeFormat = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

// CreateConversation inserts a new conversation for (itemID, rootCommentID),
// or returns the existing one if the pair is already tracked. The bool result
// reports whether a new record was created.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) (*Conversation, bool, error) {
	existing, err := s.GetByRootComment(ctx, c.ItemID, c.RootCommentID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = now
	}
	if c.Status == "" {
		c.Status = StatusNew
	}

	messages, err := json.Marshal(c.Messages)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations
			(id, item_id, root_comment_id, user_id, user_name, status, close_reason,
			 check_count, paused_check_count, last_bot_comment_id, messages,
			 created_at, updated_at, last_activity_at, next_check_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ItemID, c.RootCommentID, c.UserID, c.UserName, c.Status, c.CloseReason,
		c.CheckCount, c.PausedCheckCount, c.LastBotCommentID, string(messages),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), formatTime(c.LastActivityAt),
		formatTime(c.NextCheckAt))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert conversation: %w", err)
	}

	// A concurrent insert for the same pair loses the race silently with
	// INSERT OR IGNORE, so re-read to learn which record won.
	stored, err := s.GetByRootComment(ctx, c.ItemID, c.RootCommentID)
	if err != nil {
		return nil, false, err
	}
	return stored, stored.ID == c.ID, nil
}

// GetConversation returns the conversation with the given ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.queryOne(ctx, "WHERE id = ?", id)
}

// GetByRootComment returns the conversation tracking (itemID, rootCommentID).
func (s *Store) GetByRootComment(ctx context.Context, itemID, rootCommentID string) (*Conversation, error) {
	return s.queryOne(ctx, "WHERE item_id = ? AND root_comment_id = ?", itemID, rootCommentID)
}

// UpdateConversation persists all mutable fields of the conversation.
func (s *Store) UpdateConversation(ctx context.Context, c *Conversation) error {
	c.UpdatedAt = time.Now().UTC()

	messages, err := json.Marshal(c.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			user_name = ?, status = ?, close_reason = ?,
			check_count = ?, paused_check_count = ?, last_bot_comment_id = ?,
			messages = ?, updated_at = ?, last_activity_at = ?, next_check_at = ?
		WHERE id = ?`,
		c.UserName, c.Status, c.CloseReason,
		c.CheckCount, c.PausedCheckCount, c.LastBotCommentID,
		string(messages), formatTime(c.UpdatedAt), formatTime(c.LastActivityAt),
		formatTime(c.NextCheckAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

// DueForCheck returns active conversations whose next check time has passed,
// ordered oldest check first.
func (s *Store) DueForCheck(ctx context.Context, now time.Time) ([]*Conversation, error) {
	return s.queryMany(ctx, `
		WHERE status IN ('replied', 'paused')
		  AND next_check_at != '' AND next_check_at <= ?
		ORDER BY next_check_at ASC`, formatTime(now))
}

// IdleSince returns active conversations with no activity since cutoff.
func (s *Store) IdleSince(ctx context.Context, cutoff time.Time) ([]*Conversation, error) {
	return s.queryMany(ctx, `
		WHERE status IN ('replied', 'paused')
		  AND last_activity_at <= ?
		ORDER BY last_activity_at ASC`, formatTime(cutoff))
}

// CountByStatus returns the number of conversations per status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM conversations GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count rows error: %w", err)
	}
	return counts, nil
}

const conversationColumns = `id, item_id, root_comment_id, user_id, user_name,
	status, close_reason, check_count, paused_check_count, last_bot_comment_id,
	messages, created_at, updated_at, last_activity_at, next_check_at`

func (s *Store) queryOne(ctx context.Context, where string, args ...any) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations "+where, args...)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) queryMany(ctx context.Context, where string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation rows error: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var messages string
	var createdAt, updatedAt, lastActivityAt, nextCheckAt string

	err := row.Scan(&c.ID, &c.ItemID, &c.RootCommentID, &c.UserID, &c.UserName,
		&c.Status, &c.CloseReason, &c.CheckCount, &c.PausedCheckCount,
		&c.LastBotCommentID, &messages,
		&createdAt, &updatedAt, &lastActivityAt, &nextCheckAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(messages), &c.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages for %s: %w", c.ID, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if c.LastActivityAt, err = parseTime(lastActivityAt); err != nil {
		return nil, err
	}
	if c.NextCheckAt, err = parseTime(nextCheckAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// RecordBotComment records a comment the bot posted.
func (s *Store) RecordBotComment(ctx context.Context, bc *BotComment) error {
	if bc.CreatedAt.IsZero() {
		bc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO bot_comments (comment_id, conversation_id, item_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		bc.CommentID, bc.ConversationID, bc.ItemID, bc.Content, formatTime(bc.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record bot comment: %w", err)
	}
	return nil
}

// IsBotComment reports whether the bot posted the given comment.
func (s *Store) IsBotComment(ctx context.Context, commentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM bot_comments WHERE comment_id = ?", commentID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up bot comment: %w", err)
	}
	return n > 0, nil
}

// TrackVideo upserts a scanned video, refreshing last_scanned_at.
func (s *Store) TrackVideo(ctx context.Context, v *TrackedVideo) error {
	now := time.Now().UTC()
	if v.FirstSeenAt.IsZero() {
		v.FirstSeenAt = now
	}
	v.LastScannedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_videos (item_id, title, scene, first_seen_at, last_scanned_at, replies_sent)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			title = excluded.title,
			scene = excluded.scene,
			last_scanned_at = excluded.last_scanned_at`,
		v.ItemID, v.Title, v.Scene, formatTime(v.FirstSeenAt), formatTime(v.LastScannedAt), v.RepliesSent)
	if err != nil {
		return fmt.Errorf("failed to track video %s: %w", v.ItemID, err)
	}
	return nil
}

// GetTrackedVideo returns the tracked video, or ErrNotFound.
func (s *Store) GetTrackedVideo(ctx context.Context, itemID string) (*TrackedVideo, error) {
	var v TrackedVideo
	var firstSeen, lastScanned string
	err := s.db.QueryRowContext(ctx, `
		SELECT item_id, title, scene, first_seen_at, last_scanned_at, replies_sent
		FROM tracked_videos WHERE item_id = ?`, itemID).
		Scan(&v.ItemID, &v.Title, &v.Scene, &firstSeen, &lastScanned, &v.RepliesSent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked video: %w", err)
	}
	if v.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return nil, err
	}
	if v.LastScannedAt, err = parseTime(lastScanned); err != nil {
		return nil, err
	}
	return &v, nil
}

// IncrementVideoReplies bumps the reply counter for a video.
func (s *Store) IncrementVideoReplies(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tracked_videos SET replies_sent = replies_sent + 1 WHERE item_id = ?", itemID)
	if err != nil {
		return fmt.Errorf("failed to increment replies for %s: %w", itemID, err)
	}
	return nil
}
