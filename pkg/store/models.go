package store

import "time"

// Status is the lifecycle state of a conversation.
type Status string

// Conversation lifecycle states.
const (
	StatusNew     Status = "new"
	StatusReplied Status = "replied"
	StatusPaused  Status = "paused"
	StatusIgnored Status = "ignored"
	StatusClosed  Status = "closed"
)

// Active reports whether the conversation still participates in scan cycles.
func (s Status) Active() bool {
	return s == StatusReplied || s == StatusPaused
}

// CloseReason records why a conversation was closed.
type CloseReason string

// Close reasons.
const (
	CloseUserEnded          CloseReason = "user_ended"
	CloseManualIntervention CloseReason = "manual_intervention"
	CloseManualInitiated    CloseReason = "manual_initiated"
	CloseMaxChecksReached   CloseReason = "max_checks_reached"
	CloseTimeout            CloseReason = "timeout"
	ClosePausedMaxChecks    CloseReason = "paused_max_checks"
	CloseCommentsDisabled   CloseReason = "comments_disabled"
	CloseRootDeleted        CloseReason = "root_deleted"

	// Reasons recorded when a new comment is ignored without a reply.
	CloseNotWarranted CloseReason = "not_warranted"
	CloseEmergency    CloseReason = "emergency"
)

// Message roles within a conversation transcript.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message is one entry in a conversation transcript.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CommentID string    `json:"comment_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is one tracked comment thread.
//
// ItemID plus RootCommentID identify the thread on the platform; the pair is
// unique so repeated scans of the same comment converge on one record.
type Conversation struct {
	ID            string
	ItemID        string
	RootCommentID string
	UserID        string
	UserName      string

	Status      Status
	CloseReason CloseReason

	// CheckCount counts follow-up checks that found no user reply while
	// replied. PausedCheckCount counts checks made while paused.
	CheckCount       int
	PausedCheckCount int

	// LastBotCommentID is the platform ID of the bot's most recent reply in
	// this thread. Replies addressed to it are treated as directed at the bot.
	LastBotCommentID string

	Messages []Message

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
	NextCheckAt    time.Time
}

// LastBotMessage returns the most recent bot message, or nil.
func (c *Conversation) LastBotMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleBot {
			return &c.Messages[i]
		}
	}
	return nil
}

// HasBotMessages reports whether the bot has spoken in this thread.
func (c *Conversation) HasBotMessages() bool {
	return c.LastBotMessage() != nil
}

// AppendMessage adds a message and bumps activity timestamps.
func (c *Conversation) AppendMessage(m Message) {
	c.Messages = append(c.Messages, m)
	c.LastActivityAt = m.Timestamp
	if m.Role == RoleBot && m.CommentID != "" {
		c.LastBotCommentID = m.CommentID
	}
}

// BotComment records a comment the bot has posted, for dedup across restarts.
type BotComment struct {
	CommentID      string
	ConversationID string
	ItemID         string
	Content        string
	CreatedAt      time.Time
}

// TrackedVideo records a video the bot has scanned.
type TrackedVideo struct {
	ItemID        string
	Title         string
	Scene         string
	FirstSeenAt   time.Time
	LastScannedAt time.Time
	RepliesSent   int
}
