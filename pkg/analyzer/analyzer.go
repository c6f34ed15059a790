// Package analyzer decides whether and how the bot replies, by asking an
// OpenAI-compatible chat model (DeepSeek in production) to judge comments and
// compose follow-ups.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"warmbot/pkg/boterrors"
	"warmbot/pkg/logx"
)

// Config configures the analyzer.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// ScoreThreshold gates first replies: below it the comment is ignored
	// even when the model says reply.
	ScoreThreshold float64

	CacheTTL  time.Duration
	CacheSize int
}

// Analyzer asks the model for reply decisions and caches verdicts.
type Analyzer struct {
	client    openai.Client
	model     string
	threshold float64
	cache     *resultCache
	logger    *logx.Logger
}

// New creates an Analyzer from config.
func New(cfg Config) *Analyzer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Analyzer{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		threshold: cfg.ScoreThreshold,
		cache:     newResultCache(cfg.CacheTTL, cfg.CacheSize),
		logger:    logx.NewLogger("analyzer"),
	}
}

// AnalyzeComment judges one root comment in its video context. Results are
// cached by comment ID for the configured TTL.
func (a *Analyzer) AnalyzeComment(ctx context.Context, commentID, comment, videoContext string) (*Analysis, error) {
	if cached, ok := a.cache.get(commentID); ok {
		a.logger.Debug("analysis cache hit for comment %s", commentID)
		return cached, nil
	}

	user := fmt.Sprintf("%s\n待判断的评论:\n%s", videoContext, comment)
	raw, err := a.complete(ctx, analyzeSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var result Analysis
	if err := decodeModelJSON(raw, &result); err != nil {
		return nil, boterrors.Wrap(boterrors.KindTransient, err, "unparseable analysis response")
	}
	a.sanitizeAnalysis(&result)

	a.cache.put(commentID, &result)
	return &result, nil
}

// sanitizeAnalysis enforces safe defaults on whatever the model returned.
func (a *Analyzer) sanitizeAnalysis(r *Analysis) {
	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > 1 {
		r.Score = 1
	}
	r.Reply = humanizeReply(r.Reply)

	// Emergencies are logged, never replied to.
	if r.Emergency {
		r.ShouldReply = false
	}
	if r.Score < a.threshold {
		r.ShouldReply = false
	}
	if r.ShouldReply && r.Reply == "" {
		r.ShouldReply = false
	}
}

// Short messages that read as the user wrapping up. Matching one skips the
// model call entirely.
var endSignals = []string{
	"晚安", "拜拜", "再见", "不聊了", "不用了", "别回了", "睡了", "到此为止",
}

// maxEndSignalRunes keeps the shortcut to genuinely short sign-offs; the
// phrases also occur mid-sentence in longer messages that deserve a reply.
const maxEndSignalRunes = 12

// JudgeContinuation decides whether to answer the user's latest reply in an
// ongoing thread.
func (a *Analyzer) JudgeContinuation(ctx context.Context, transcript []Turn, latest string) (*Continuation, error) {
	if isEndSignal(latest) {
		return &Continuation{IsEnding: true, Reason: "explicit sign-off"}, nil
	}

	var b strings.Builder
	b.WriteString("对话记录:\n")
	for _, t := range transcript {
		who := "对方"
		if t.Role == "bot" {
			who = "我"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, t.Content)
	}
	fmt.Fprintf(&b, "对方的最新回复:\n%s", latest)

	raw, err := a.complete(ctx, continuationSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var result Continuation
	if err := decodeModelJSON(raw, &result); err != nil {
		return nil, boterrors.Wrap(boterrors.KindTransient, err, "unparseable continuation response")
	}

	result.Reply = humanizeReply(result.Reply)
	if result.IsEnding {
		result.ShouldContinue = false
	}
	if result.ShouldContinue && result.Reply == "" {
		result.ShouldContinue = false
	}
	return &result, nil
}

func isEndSignal(msg string) bool {
	msg = strings.TrimSpace(msg)
	if len([]rune(msg)) > maxEndSignalRunes {
		return false
	}
	for _, sig := range endSignals {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func (a *Analyzer) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.8),
		MaxTokens:   openai.Int(400),
	})
	if err != nil {
		return "", classifyAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", boterrors.New(boterrors.KindTransient, "model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyAIError maps an openai-go error onto the bot's error taxonomy.
func classifyAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return boterrors.Wrap(boterrors.KindThrottled, err, "ai upstream rate limited")
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return boterrors.Wrap(boterrors.KindFatal, err, "ai authentication failed")
		case apiErr.StatusCode >= 500:
			return boterrors.Wrap(boterrors.KindTransient, err, "ai server error")
		default:
			return boterrors.Wrap(boterrors.KindFatal, err, "ai request rejected")
		}
	}
	return boterrors.Wrap(boterrors.KindOf(err), err, "ai request failed")
}
