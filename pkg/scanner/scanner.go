// Package scanner drives one bot cycle: checking due conversations, then
// discovering fresh videos and seeding new conversations from their comments.
package scanner

import (
	"context"
	"math/rand"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"warmbot/pkg/logx"
	"warmbot/pkg/metrics"
	"warmbot/pkg/platform"
	"warmbot/pkg/resilience/protect"
	"warmbot/pkg/store"
)

// minCommentRunes filters out stickers and one-word comments before spending
// a model call on them.
const minCommentRunes = 6

// Platform is the slice of the platform client the scanner needs.
type Platform interface {
	SearchVideos(ctx context.Context, keyword string, page int) ([]platform.Video, error)
	GetRootComments(ctx context.Context, oid string, page int) ([]platform.Comment, error)
}

// Checker is the conversation state machine surface the scanner drives.
type Checker interface {
	Check(ctx context.Context, c *store.Conversation) error
	ProcessNew(ctx context.Context, c *store.Conversation, videoContext string) error
	CloseIdle(ctx context.Context) (int, error)
}

// Extractor produces a content summary for a video, empty when none is
// available.
type Extractor interface {
	Extract(ctx context.Context, bvid string) string
}

// Config tunes the scan cycle.
type Config struct {
	// Keywords maps scene names to search keywords; Priority orders scenes.
	Keywords map[string][]string
	Priority [][]string // tiers, highest first

	BotUserID          string
	MaxVideosPerScan   int
	MaxRepliesPerVideo int
	TimeRangeDays      int
	InterItemDelay     time.Duration
	CommentsPerVideo   int
}

// Stats summarizes one cycle.
type Stats struct {
	CycleID          string
	DueChecked       int
	IdleClosed       int
	VideosScanned    int
	NewConversations int
	Errors           int
	Duration         time.Duration
}

// Scanner owns the cycle loop. All external calls go through the registry's
// invokers; a failure on one item never stops the cycle.
type Scanner struct {
	store     *store.Store
	platform  Platform
	checker   Checker
	extractor Extractor
	invokers  *protect.Registry
	recorder  metrics.Recorder
	cfg       Config
	logger    *logx.Logger

	now  func() time.Time
	rand *rand.Rand
}

// New wires a Scanner. extractor may be nil; analysis prompts then carry only
// the title, description, and comment ambiance.
func New(st *store.Store, pf Platform, checker Checker, extractor Extractor,
	invokers *protect.Registry, recorder metrics.Recorder, cfg Config) *Scanner {
	return &Scanner{
		store:     st,
		platform:  pf,
		checker:   checker,
		extractor: extractor,
		invokers:  invokers,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logx.NewLogger("scanner"),
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // keyword shuffling, not crypto
	}
}

// Cycle runs one full scan: due conversation checks, the idle sweep, then
// discovery of new conversations.
func (s *Scanner) Cycle(ctx context.Context) (Stats, error) {
	start := s.now()
	stats := Stats{CycleID: uuid.New().String()[:8]}
	s.logger.Info("cycle %s starting", stats.CycleID)

	s.checkDue(ctx, &stats)

	if closed, err := s.checker.CloseIdle(ctx); err != nil {
		s.logger.Warn("idle sweep failed: %v", err)
		stats.Errors++
	} else {
		stats.IdleClosed = closed
	}

	if ctx.Err() == nil {
		s.discover(ctx, &stats)
	}

	stats.Duration = s.now().Sub(start)
	s.recorder.ObserveCycle(stats.Duration)
	s.observeResilience()
	s.logger.Info("cycle %s done in %s: checked=%d new=%d idle_closed=%d errors=%d",
		stats.CycleID, stats.Duration.Round(time.Millisecond),
		stats.DueChecked, stats.NewConversations, stats.IdleClosed, stats.Errors)
	return stats, ctx.Err()
}

// checkDue runs every due conversation through the state machine, spacing
// items with the inter-item delay.
func (s *Scanner) checkDue(ctx context.Context, stats *Stats) {
	due, err := s.store.DueForCheck(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to load due conversations: %v", err)
		stats.Errors++
		return
	}

	for i, c := range due {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && !s.pause(ctx) {
			return
		}
		if err := s.checker.Check(ctx, c); err != nil {
			// Deferred to the next cycle; one bad item never halts the loop.
			s.logger.Debug("check deferred for %s: %v", c.ID, err)
			stats.Errors++
		}
		stats.DueChecked++
	}
}

// discover searches for fresh videos by scene priority and seeds new
// conversations from qualifying root comments.
func (s *Scanner) discover(ctx context.Context, stats *Stats) {
	cutoff := s.now().AddDate(0, 0, -s.cfg.TimeRangeDays)

	for _, tier := range s.cfg.Priority {
		for _, scene := range tier {
			if ctx.Err() != nil || stats.VideosScanned >= s.cfg.MaxVideosPerScan {
				return
			}
			keyword := s.pickKeyword(scene)
			if keyword == "" {
				continue
			}

			videos, err := s.searchVideos(ctx, keyword)
			if err != nil {
				s.logger.Warn("search %q failed: %v", keyword, err)
				stats.Errors++
				continue
			}

			for i := range videos {
				if ctx.Err() != nil || stats.VideosScanned >= s.cfg.MaxVideosPerScan {
					return
				}
				v := &videos[i]
				v.Scene = scene
				if v.PublishedAt.Before(cutoff) {
					continue
				}
				if !s.shouldScanVideo(ctx, v) {
					continue
				}
				if stats.VideosScanned > 0 && !s.pause(ctx) {
					return
				}
				s.scanVideo(ctx, v, stats)
				stats.VideosScanned++
			}
		}
	}
}

func (s *Scanner) pickKeyword(scene string) string {
	kws := s.cfg.Keywords[scene]
	if len(kws) == 0 {
		return ""
	}
	return kws[s.rand.Intn(len(kws))]
}

func (s *Scanner) searchVideos(ctx context.Context, keyword string) ([]platform.Video, error) {
	var videos []platform.Video
	err := s.invokers.Platform().Do(ctx, func(ctx context.Context) error {
		var serr error
		videos, serr = s.platform.SearchVideos(ctx, keyword, 1)
		return serr
	})
	return videos, err
}

// shouldScanVideo skips videos that already got their reply quota.
func (s *Scanner) shouldScanVideo(ctx context.Context, v *platform.Video) bool {
	tracked, err := s.store.GetTrackedVideo(ctx, oid(v))
	if err != nil {
		return true // not tracked yet
	}
	return tracked.RepliesSent < s.cfg.MaxRepliesPerVideo
}

// scanVideo reads a video's comment section and runs the first transition for
// each qualifying root comment.
func (s *Scanner) scanVideo(ctx context.Context, v *platform.Video, stats *Stats) {
	var comments []platform.Comment
	err := s.invokers.Platform().Do(ctx, func(ctx context.Context) error {
		var cerr error
		comments, cerr = s.platform.GetRootComments(ctx, oid(v), 1)
		return cerr
	})
	if err != nil {
		s.logger.Warn("failed to read comments of %s: %v", v.BVID, err)
		stats.Errors++
		return
	}

	if err := s.store.TrackVideo(ctx, &store.TrackedVideo{
		ItemID: oid(v), Title: v.Title, Scene: v.Scene,
	}); err != nil {
		s.logger.Error("failed to track video %s: %v", v.BVID, err)
	}

	if n := s.cfg.CommentsPerVideo; n > 0 && len(comments) > n {
		comments = comments[:n]
	}

	var summary string
	if s.extractor != nil {
		summary = s.extractor.Extract(ctx, v.BVID)
	}
	videoContext := platform.BuildVideoContext(v, summary, comments)
	replies := 0

	for i := range comments {
		if ctx.Err() != nil {
			return
		}
		cm := &comments[i]
		if !s.qualifies(cm) {
			continue
		}
		if replies >= s.cfg.MaxRepliesPerVideo {
			return
		}

		c, created, err := s.store.CreateConversation(ctx, &store.Conversation{
			ItemID:        oid(v),
			RootCommentID: cm.ID,
			UserID:        cm.UserID,
			UserName:      cm.UserName,
		})
		if err != nil {
			s.logger.Error("failed to create conversation for %s: %v", cm.ID, err)
			stats.Errors++
			continue
		}
		// A known conversation past its first transition is done here. One
		// still in new had that transition deferred by an earlier cycle and
		// gets another run until it lands in a real state.
		if !created && c.Status != store.StatusNew {
			continue
		}

		if len(c.Messages) == 0 {
			c.AppendMessage(store.Message{
				Role: store.RoleUser, Content: cm.Content, CommentID: cm.ID, Timestamp: cm.CreatedAt,
			})
			if err := s.store.UpdateConversation(ctx, c); err != nil {
				s.logger.Error("failed to persist root message for %s: %v", c.ID, err)
				stats.Errors++
				continue
			}
		}
		if created {
			stats.NewConversations++
		}

		if err := s.checker.ProcessNew(ctx, c, videoContext); err != nil {
			s.logger.Debug("first transition deferred for %s: %v", c.ID, err)
			stats.Errors++
			continue
		}
		if c.Status == store.StatusReplied {
			replies++
			if err := s.store.IncrementVideoReplies(ctx, oid(v)); err != nil {
				s.logger.Error("failed to bump reply count for %s: %v", v.BVID, err)
			}
			if !s.pause(ctx) {
				return
			}
		}
	}
}

// qualifies filters root comments worth a model call.
func (s *Scanner) qualifies(cm *platform.Comment) bool {
	if cm.UserID == s.cfg.BotUserID {
		return false
	}
	if platform.HasMarker(cm.Content) {
		return false
	}
	return utf8.RuneCountInString(cm.Content) >= minCommentRunes
}

// pause sleeps the inter-item delay, returning false on cancellation.
func (s *Scanner) pause(ctx context.Context) bool {
	if s.cfg.InterItemDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.cfg.InterItemDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// observeResilience exports breaker and limiter gauges after each cycle.
func (s *Scanner) observeResilience() {
	for _, inv := range s.invokers.Invokers() {
		s.recorder.SetBreakerState(inv.Name(), int(inv.BreakerState()))
		s.recorder.SetLimiterTokens(inv.Name(), inv.LimiterStats().Tokens)
	}
}

func oid(v *platform.Video) string {
	return strconv.FormatInt(v.AID, 10)
}
