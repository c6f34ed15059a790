package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateConversationIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.CreateConversation(ctx, &Conversation{
		ItemID:        "BV1xx",
		RootCommentID: "1001",
		UserID:        "u1",
		UserName:      "alice",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, StatusNew, first.Status)

	second, created, err := s.CreateConversation(ctx, &Conversation{
		ItemID:        "BV1xx",
		RootCommentID: "1001",
		UserID:        "u1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestUpdateAndRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, _, err := s.CreateConversation(ctx, &Conversation{
		ItemID:        "BV1yy",
		RootCommentID: "2001",
		UserID:        "u2",
	})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Millisecond)
	c.Status = StatusReplied
	c.AppendMessage(Message{Role: RoleUser, Content: "好难受", CommentID: "2001", Timestamp: now})
	c.AppendMessage(Message{Role: RoleBot, Content: "抱抱你", CommentID: "3001", Timestamp: now})
	c.CheckCount = 2
	c.NextCheckAt = now.Add(time.Hour)
	require.NoError(t, s.UpdateConversation(ctx, c))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, got.Status)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, "3001", got.LastBotCommentID)
	assert.Equal(t, 2, got.CheckCount)
	assert.True(t, got.NextCheckAt.Equal(now.Add(time.Hour)))
	assert.True(t, got.HasBotMessages())
	assert.Equal(t, "抱抱你", got.LastBotMessage().Content)
}

func TestUpdateMissingConversation(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateConversation(context.Background(), &Conversation{ID: "nope", Status: StatusClosed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDueForCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(root string, status Status, next time.Time) {
		c, _, err := s.CreateConversation(ctx, &Conversation{
			ItemID: "BV1zz", RootCommentID: root, UserID: "u",
		})
		require.NoError(t, err)
		c.Status = status
		c.NextCheckAt = next
		require.NoError(t, s.UpdateConversation(ctx, c))
	}

	mk("r1", StatusReplied, now.Add(-time.Minute))
	mk("r2", StatusPaused, now.Add(-time.Hour))
	mk("r3", StatusReplied, now.Add(time.Hour))  // not yet due
	mk("r4", StatusClosed, now.Add(-time.Hour))  // closed never due
	mk("r5", StatusIgnored, now.Add(-time.Hour)) // ignored never due

	got, err := s.DueForCheck(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Oldest next_check_at first.
	assert.Equal(t, "r2", got[0].RootCommentID)
	assert.Equal(t, "r1", got[1].RootCommentID)
}

func TestIdleSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	c, _, err := s.CreateConversation(ctx, &Conversation{
		ItemID: "BV2aa", RootCommentID: "r1", UserID: "u",
	})
	require.NoError(t, err)
	c.Status = StatusReplied
	c.LastActivityAt = now.Add(-48 * time.Hour)
	require.NoError(t, s.UpdateConversation(ctx, c))

	fresh, _, err := s.CreateConversation(ctx, &Conversation{
		ItemID: "BV2aa", RootCommentID: "r2", UserID: "u",
	})
	require.NoError(t, err)
	fresh.Status = StatusReplied
	require.NoError(t, s.UpdateConversation(ctx, fresh))

	idle, err := s.IdleSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, c.ID, idle[0].ID)
}

func TestBotComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, _, err := s.CreateConversation(ctx, &Conversation{
		ItemID: "BV3bb", RootCommentID: "r1", UserID: "u",
	})
	require.NoError(t, err)

	require.NoError(t, s.RecordBotComment(ctx, &BotComment{
		CommentID: "9001", ConversationID: c.ID, ItemID: "BV3bb", Content: "hi",
	}))

	ok, err := s.IsBotComment(ctx, "9001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsBotComment(ctx, "9002")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTrackedVideos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.TrackVideo(ctx, &TrackedVideo{ItemID: "BV4cc", Title: "vlog", Scene: "emotion"}))
	require.NoError(t, s.IncrementVideoReplies(ctx, "BV4cc"))
	require.NoError(t, s.IncrementVideoReplies(ctx, "BV4cc"))

	// Upsert keeps the counter.
	require.NoError(t, s.TrackVideo(ctx, &TrackedVideo{ItemID: "BV4cc", Title: "vlog (edited)", Scene: "emotion"}))

	v, err := s.GetTrackedVideo(ctx, "BV4cc")
	require.NoError(t, err)
	assert.Equal(t, "vlog (edited)", v.Title)
	assert.Equal(t, 2, v.RepliesSent)
	assert.False(t, v.FirstSeenAt.IsZero())

	_, err = s.GetTrackedVideo(ctx, "BV9zz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, status := range []Status{StatusNew, StatusReplied, StatusReplied, StatusClosed} {
		c, _, err := s.CreateConversation(ctx, &Conversation{
			ItemID: "BV5dd", RootCommentID: string(rune('a' + i)), UserID: "u",
		})
		require.NoError(t, err)
		c.Status = status
		require.NoError(t, s.UpdateConversation(ctx, c))
	}

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusNew])
	assert.Equal(t, 2, counts[StatusReplied])
	assert.Equal(t, 1, counts[StatusClosed])
}
