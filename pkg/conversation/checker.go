// Package conversation implements the lifecycle state machine for tracked
// comment threads: first replies, follow-up checks with exponential backoff,
// human-takeover detection via the automation marker, and closure.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warmbot/pkg/analyzer"
	"warmbot/pkg/boterrors"
	"warmbot/pkg/logx"
	"warmbot/pkg/metrics"
	"warmbot/pkg/platform"
	"warmbot/pkg/resilience/protect"
	"warmbot/pkg/store"
)

// Platform is the slice of the platform client the checker needs.
type Platform interface {
	GetReplies(ctx context.Context, oid, rootID string) ([]platform.Comment, error)
	PostReply(ctx context.Context, oid, rootID, parentID, message string) (string, error)
}

// Judge is the slice of the analyzer the checker needs.
type Judge interface {
	AnalyzeComment(ctx context.Context, commentID, comment, videoContext string) (*analyzer.Analysis, error)
	JudgeContinuation(ctx context.Context, transcript []analyzer.Turn, latest string) (*analyzer.Continuation, error)
}

// Config tunes the lifecycle policy.
type Config struct {
	// BotUserID is the bot account's own user id on the platform.
	BotUserID string

	// MaxChecks closes a replied conversation after this many no-reply checks.
	MaxChecks int

	// BackoffBase and MaxCheckInterval shape the no-reply check backoff.
	BackoffBase      time.Duration
	MaxCheckInterval time.Duration

	// FirstCheckDelay schedules the check after any reply the bot sends.
	FirstCheckDelay time.Duration

	// Retention closes conversations idle longer than this.
	Retention time.Duration

	PausedCheckInterval time.Duration
	PausedMaxChecks     int
}

// Checker applies lifecycle transitions to conversations. It is the only
// writer of conversation state.
type Checker struct {
	store     *store.Store
	platform  Platform
	judge     Judge
	invokers  *protect.Registry
	emergency *EmergencyLog
	recorder  metrics.Recorder
	cfg       Config
	logger    *logx.Logger

	now func() time.Time
}

// NewChecker wires a Checker. recorder may be a NoopRecorder.
func NewChecker(st *store.Store, pf Platform, judge Judge, invokers *protect.Registry,
	emergency *EmergencyLog, recorder metrics.Recorder, cfg Config) *Checker {
	return &Checker{
		store:     st,
		platform:  pf,
		judge:     judge,
		invokers:  invokers,
		emergency: emergency,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logx.NewLogger("conversation"),
		now:       time.Now,
	}
}

// ProcessNew runs the first transition for a freshly created conversation:
// ask the model whether the root comment deserves a reply, and either send
// one (new -> replied) or ignore the thread (new -> ignored).
func (ch *Checker) ProcessNew(ctx context.Context, c *store.Conversation, videoContext string) error {
	if c.Status != store.StatusNew {
		return nil
	}
	if len(c.Messages) == 0 {
		return fmt.Errorf("conversation %s has no root message", c.ID)
	}
	root := c.Messages[0]

	var analysis *analyzer.Analysis
	err := ch.invokers.AI().Do(ctx, func(ctx context.Context) error {
		var aerr error
		analysis, aerr = ch.judge.AnalyzeComment(ctx, c.RootCommentID, root.Content, videoContext)
		return aerr
	})
	if err != nil {
		// No verdict, no transition. The comment stays new and a later scan
		// may pick it up again.
		return fmt.Errorf("analysis unavailable for %s: %w", c.ID, err)
	}

	if analysis.Emergency {
		ch.recorder.IncEmergency()
		if rerr := ch.emergency.Record(EmergencyRecord{
			ItemID:        c.ItemID,
			RootCommentID: c.RootCommentID,
			UserID:        c.UserID,
			UserName:      c.UserName,
			Content:       root.Content,
			Reason:        analysis.Reason,
		}); rerr != nil {
			ch.logger.Error("failed to write emergency record: %v", rerr)
		}
		return ch.ignore(ctx, c, store.CloseEmergency)
	}

	if !analysis.ShouldReply {
		return ch.ignore(ctx, c, store.CloseNotWarranted)
	}

	if err := ch.sendReply(ctx, c, c.RootCommentID, analysis.Reply); err != nil {
		return err
	}

	c.Status = store.StatusReplied
	c.CheckCount = 0
	c.NextCheckAt = ch.now().Add(ch.cfg.FirstCheckDelay)
	ch.recorder.IncConversationTransition(string(store.StatusReplied), "first_reply")
	ch.logger.Info("replied to %s (score %.2f, emotion %s)", c.ID, analysis.Score, analysis.Emotion)
	return ch.store.UpdateConversation(ctx, c)
}

// Check runs one due-for-check pass over a replied or paused conversation.
// Dependency failures leave the conversation untouched so the next cycle
// retries from the same position.
func (ch *Checker) Check(ctx context.Context, c *store.Conversation) error {
	if !c.Status.Active() {
		return nil
	}

	if ch.cfg.Retention > 0 && !c.LastActivityAt.IsZero() &&
		ch.now().Sub(c.LastActivityAt) > ch.cfg.Retention {
		return ch.close(ctx, c, store.CloseTimeout)
	}

	replies, err := ch.fetchReplies(ctx, c)
	if err != nil {
		return ch.handleFetchError(ctx, c, err)
	}

	switch c.Status {
	case store.StatusReplied:
		return ch.checkReplied(ctx, c, replies)
	case store.StatusPaused:
		return ch.checkPaused(ctx, c, replies)
	default:
		return nil
	}
}

func (ch *Checker) fetchReplies(ctx context.Context, c *store.Conversation) ([]platform.Comment, error) {
	var replies []platform.Comment
	err := ch.invokers.Platform().Do(ctx, func(ctx context.Context) error {
		var ferr error
		replies, ferr = ch.platform.GetReplies(ctx, c.ItemID, c.RootCommentID)
		return ferr
	})
	return replies, err
}

// handleFetchError closes the conversation when the thread itself is gone,
// and defers it to the next cycle for every other failure.
func (ch *Checker) handleFetchError(ctx context.Context, c *store.Conversation, err error) error {
	if boterrors.IsUpstreamGone(err) {
		reason := store.CloseRootDeleted
		if errors.Is(err, platform.ErrCommentsDisabled) {
			reason = store.CloseCommentsDisabled
		}
		ch.logger.Info("thread gone for %s, closing (%s)", c.ID, reason)
		return ch.close(ctx, c, reason)
	}
	if boterrors.IsCircuitOpen(err) {
		ch.logger.Debug("platform breaker open, deferring %s", c.ID)
		return err
	}
	ch.logger.Warn("fetch failed for %s, deferring: %v", c.ID, err)
	return err
}

// replyEvent classifies one unseen reply in a thread.
type replyEvent int

const (
	eventChatter replyEvent = iota // other users, or not addressed to the bot
	eventBotEcho                   // the bot's own marked reply observed back
	eventManual                    // bot account posting without the marker
	eventUserReply                 // the target user answering the bot
)

func (ch *Checker) classifyReply(c *store.Conversation, r *platform.Comment) replyEvent {
	if r.UserID == ch.cfg.BotUserID {
		if platform.HasMarker(r.Content) {
			return eventBotEcho
		}
		return eventManual
	}
	if r.UserID == c.UserID && r.Parent == c.LastBotCommentID {
		return eventUserReply
	}
	return eventChatter
}

func (ch *Checker) checkReplied(ctx context.Context, c *store.Conversation, replies []platform.Comment) error {
	known := knownCommentIDs(c)

	// When several unseen replies arrive in one poll, all are recorded but
	// only the most recent actionable one drives a transition.
	var lastEvent replyEvent
	var lastActionable *platform.Comment
	sawUnseen := false

	for i := range replies {
		r := &replies[i]
		if known[r.ID] {
			continue
		}
		sawUnseen = true

		switch ch.classifyReply(c, r) {
		case eventBotEcho:
			c.AppendMessage(store.Message{
				Role: store.RoleBot, Content: r.Content, CommentID: r.ID, Timestamp: r.CreatedAt,
			})
		case eventUserReply:
			c.AppendMessage(store.Message{
				Role: store.RoleUser, Content: r.Content, CommentID: r.ID, Timestamp: r.CreatedAt,
			})
			lastEvent, lastActionable = eventUserReply, r
		case eventManual:
			lastEvent, lastActionable = eventManual, r
		case eventChatter:
			ch.logger.Debug("unrelated reply %s on %s ignored", r.ID, c.ID)
		}
	}

	if lastActionable != nil {
		switch lastEvent {
		case eventManual:
			return ch.handleManual(ctx, c)
		case eventUserReply:
			return ch.handleUserReply(ctx, c, lastActionable)
		}
	}

	if !sawUnseen {
		return ch.noReplyBackoff(ctx, c)
	}

	// Only echoes or chatter arrived. The check count does not advance;
	// reschedule at the current backoff position.
	c.NextCheckAt = ch.now().Add(ch.backoffDelay(c.CheckCount))
	return ch.store.UpdateConversation(ctx, c)
}

// handleManual reacts to the bot's own account posting without the marker:
// a human is typing through it.
func (ch *Checker) handleManual(ctx context.Context, c *store.Conversation) error {
	if !c.HasBotMessages() {
		// The human started this thread themselves; nothing to monitor.
		return ch.close(ctx, c, store.CloseManualInitiated)
	}

	c.Status = store.StatusPaused
	c.CloseReason = store.CloseManualIntervention
	c.PausedCheckCount = 0
	c.NextCheckAt = ch.now().Add(ch.cfg.PausedCheckInterval)
	ch.recorder.IncConversationTransition(string(store.StatusPaused), string(store.CloseManualIntervention))
	ch.logger.Info("human took over %s, pausing automation", c.ID)
	return ch.store.UpdateConversation(ctx, c)
}

// handleUserReply asks the model whether to keep the thread going and either
// sends a follow-up or closes with user_ended.
func (ch *Checker) handleUserReply(ctx context.Context, c *store.Conversation, r *platform.Comment) error {
	// History for the model: everything except the reply being judged.
	history := make([]store.Message, 0, len(c.Messages))
	for i := range c.Messages {
		if c.Messages[i].CommentID != r.ID {
			history = append(history, c.Messages[i])
		}
	}
	transcript := toTranscript(history)

	var verdict *analyzer.Continuation
	err := ch.invokers.AI().Do(ctx, func(ctx context.Context) error {
		var jerr error
		verdict, jerr = ch.judge.JudgeContinuation(ctx, transcript, r.Content)
		return jerr
	})
	if err != nil {
		// No verdict, no transition; the appended messages were not persisted
		// so the next cycle re-discovers this reply.
		return fmt.Errorf("continuation verdict unavailable for %s: %w", c.ID, err)
	}

	if !verdict.ShouldContinue {
		ch.logger.Info("ending %s: %s", c.ID, verdict.Reason)
		return ch.close(ctx, c, store.CloseUserEnded)
	}

	if err := ch.sendReply(ctx, c, r.ID, verdict.Reply); err != nil {
		return err
	}
	c.CheckCount = 0
	c.NextCheckAt = ch.now().Add(ch.cfg.FirstCheckDelay)
	ch.recorder.IncConversationTransition(string(store.StatusReplied), "follow_up")
	return ch.store.UpdateConversation(ctx, c)
}

func (ch *Checker) noReplyBackoff(ctx context.Context, c *store.Conversation) error {
	next := c.CheckCount + 1
	if next >= ch.cfg.MaxChecks {
		return ch.close(ctx, c, store.CloseMaxChecksReached)
	}
	c.CheckCount = next
	c.NextCheckAt = ch.now().Add(ch.backoffDelay(next))
	return ch.store.UpdateConversation(ctx, c)
}

// backoffDelay returns min(MaxCheckInterval, BackoffBase * 2^(count-1)),
// with count 0 treated as the first check.
func (ch *Checker) backoffDelay(count int) time.Duration {
	exp := count - 1
	if exp < 0 {
		exp = 0
	}
	d := ch.cfg.BackoffBase
	for i := 0; i < exp; i++ {
		d *= 2
		if d >= ch.cfg.MaxCheckInterval {
			return ch.cfg.MaxCheckInterval
		}
	}
	if d > ch.cfg.MaxCheckInterval {
		return ch.cfg.MaxCheckInterval
	}
	return d
}

func (ch *Checker) checkPaused(ctx context.Context, c *store.Conversation, replies []platform.Comment) error {
	known := knownCommentIDs(c)

	// Parents carrying the marker: recorded bot messages plus any marked
	// reply visible in this fetch.
	marked := make(map[string]bool)
	for i := range c.Messages {
		if c.Messages[i].Role == store.RoleBot && c.Messages[i].CommentID != "" {
			marked[c.Messages[i].CommentID] = true
		}
	}
	for i := range replies {
		if platform.HasMarker(replies[i].Content) {
			marked[replies[i].ID] = true
		}
	}

	reactivate := false
	for i := range replies {
		r := &replies[i]
		if known[r.ID] {
			continue
		}
		role := store.RoleUser
		if r.UserID == ch.cfg.BotUserID {
			role = store.RoleBot
		}
		c.AppendMessage(store.Message{Role: role, Content: r.Content, CommentID: r.ID, Timestamp: r.CreatedAt})

		// A reply threaded under a marked message hands the conversation
		// back to automation.
		if marked[r.Parent] && r.UserID != ch.cfg.BotUserID {
			reactivate = true
		}
	}

	if reactivate {
		c.Status = store.StatusReplied
		c.CloseReason = ""
		c.CheckCount = 0
		c.NextCheckAt = ch.now().Add(ch.cfg.FirstCheckDelay)
		ch.recorder.IncConversationTransition(string(store.StatusReplied), "reactivated")
		ch.logger.Info("conversation %s handed back to automation", c.ID)
		return ch.store.UpdateConversation(ctx, c)
	}

	c.PausedCheckCount++
	if c.PausedCheckCount >= ch.cfg.PausedMaxChecks {
		return ch.close(ctx, c, store.ClosePausedMaxChecks)
	}
	c.NextCheckAt = ch.now().Add(ch.cfg.PausedCheckInterval)
	return ch.store.UpdateConversation(ctx, c)
}

// CloseIdle closes every active conversation idle past the retention window.
// Returns the number closed.
func (ch *Checker) CloseIdle(ctx context.Context) (int, error) {
	if ch.cfg.Retention <= 0 {
		return 0, nil
	}
	idle, err := ch.store.IdleSince(ctx, ch.now().Add(-ch.cfg.Retention))
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, c := range idle {
		if err := ch.close(ctx, c, store.CloseTimeout); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// sendReply posts text under parentID and records it durably. Replies to a
// nested comment carry the platform's reply-to prefix.
func (ch *Checker) sendReply(ctx context.Context, c *store.Conversation, parentID, text string) error {
	msg := text
	if parentID != c.RootCommentID && c.UserName != "" {
		msg = fmt.Sprintf("回复 @%s :%s", c.UserName, text)
	}
	marked := platform.MarkContent(msg)

	var rpid string
	err := ch.invokers.Post().Do(ctx, func(ctx context.Context) error {
		var perr error
		rpid, perr = ch.platform.PostReply(ctx, c.ItemID, c.RootCommentID, parentID, marked)
		return perr
	})
	if err != nil {
		if errors.Is(err, platform.ErrDuplicateContent) {
			ch.logger.Warn("duplicate reply rejected on %s, skipping", c.ID)
		}
		return fmt.Errorf("failed to post reply on %s: %w", c.ID, err)
	}

	if err := ch.store.RecordBotComment(ctx, &store.BotComment{
		CommentID:      rpid,
		ConversationID: c.ID,
		ItemID:         c.ItemID,
		Content:        marked,
	}); err != nil {
		ch.logger.Error("failed to record bot comment %s: %v", rpid, err)
	}

	c.AppendMessage(store.Message{
		Role: store.RoleBot, Content: marked, CommentID: rpid, Timestamp: ch.now(),
	})
	ch.recorder.IncReplySent()
	return nil
}

func (ch *Checker) close(ctx context.Context, c *store.Conversation, reason store.CloseReason) error {
	c.Status = store.StatusClosed
	c.CloseReason = reason
	c.NextCheckAt = time.Time{}
	ch.recorder.IncConversationTransition(string(store.StatusClosed), string(reason))
	return ch.store.UpdateConversation(ctx, c)
}

func (ch *Checker) ignore(ctx context.Context, c *store.Conversation, reason store.CloseReason) error {
	c.Status = store.StatusIgnored
	c.CloseReason = reason
	c.NextCheckAt = time.Time{}
	ch.recorder.IncConversationTransition(string(store.StatusIgnored), string(reason))
	return ch.store.UpdateConversation(ctx, c)
}

func knownCommentIDs(c *store.Conversation) map[string]bool {
	known := make(map[string]bool, len(c.Messages)+1)
	known[c.RootCommentID] = true
	for i := range c.Messages {
		if id := c.Messages[i].CommentID; id != "" {
			known[id] = true
		}
	}
	return known
}

func toTranscript(messages []store.Message) []analyzer.Turn {
	turns := make([]analyzer.Turn, 0, len(messages))
	for i := range messages {
		turns = append(turns, analyzer.Turn{
			Role:    messages[i].Role,
			Content: platform.StripMarker(messages[i].Content),
		})
	}
	return turns
}
