package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"warmbot/pkg/logx"
)

const (
	// The platform only generates AI conclusions for videos of five minutes
	// and up; shorter videos go straight to subtitles.
	conclusionMinDuration = 5 * time.Minute

	maxSubtitleRunes = 1500
	maxOutlinePoints = 10
	maxKeywords      = 10
	maxPointRunes    = 50
)

// Invoker is the protected-call surface extraction runs platform requests
// through.
type Invoker interface {
	Do(ctx context.Context, op func(context.Context) error) error
}

// ContentExtractor builds a content summary for a video, best source first:
// the platform's AI conclusion for long videos, then subtitle text. When
// neither exists it returns empty and the title and description rendered by
// BuildVideoContext carry the analysis on their own.
type ContentExtractor struct {
	client  *Client
	invoker Invoker
	logger  *logx.Logger
}

// NewContentExtractor wires an extractor over the given client and invoker.
func NewContentExtractor(c *Client, inv Invoker) *ContentExtractor {
	return &ContentExtractor{
		client:  c,
		invoker: inv,
		logger:  logx.NewLogger("extractor"),
	}
}

// Extract returns the best available summary for the video, or empty. A
// summary is nice to have; failures degrade silently and never abort a scan.
func (e *ContentExtractor) Extract(ctx context.Context, bvid string) string {
	var detail *VideoDetail
	err := e.invoker.Do(ctx, func(ctx context.Context) error {
		var derr error
		detail, derr = e.client.GetVideoDetail(ctx, bvid)
		return derr
	})
	if err != nil {
		e.logger.Debug("no view detail for %s: %v", bvid, err)
		return ""
	}

	if detail.Duration >= conclusionMinDuration {
		if s := e.conclusion(ctx, detail); s != "" {
			return s
		}
	}
	return e.subtitle(ctx, detail)
}

func (e *ContentExtractor) conclusion(ctx context.Context, d *VideoDetail) string {
	var con *Conclusion
	err := e.invoker.Do(ctx, func(ctx context.Context) error {
		var cerr error
		con, cerr = e.client.GetConclusion(ctx, d.BVID, d.CID, d.AuthorID)
		return cerr
	})
	if err != nil {
		e.logger.Debug("no conclusion for %s: %v", d.BVID, err)
		return ""
	}
	if con.Summary == "" {
		return ""
	}
	return renderConclusion(con)
}

// renderConclusion formats a conclusion as summary, chapter outline, and
// keywords.
func renderConclusion(con *Conclusion) string {
	var b strings.Builder
	b.WriteString(con.Summary)

	wrote := 0
	for _, p := range con.Outline {
		if wrote >= maxOutlinePoints {
			break
		}
		if p.Title == "" {
			continue
		}
		if wrote == 0 {
			b.WriteString("\n\n【视频章节要点】\n")
		}
		wrote++
		fmt.Fprintf(&b, "%d. %s", wrote, p.Title)
		if p.Content != "" {
			fmt.Fprintf(&b, "：%s", truncateRunes(p.Content, maxPointRunes))
		}
		b.WriteString("\n")
	}

	if len(con.Keywords) > 0 {
		kw := con.Keywords
		if len(kw) > maxKeywords {
			kw = kw[:maxKeywords]
		}
		fmt.Fprintf(&b, "\n【关键词】%s", strings.Join(kw, ", "))
	}
	return b.String()
}

func (e *ContentExtractor) subtitle(ctx context.Context, d *VideoDetail) string {
	track := pickSubtitle(d.Subtitles)
	if track == "" {
		return ""
	}

	var text string
	err := e.invoker.Do(ctx, func(ctx context.Context) error {
		var serr error
		text, serr = e.client.GetSubtitle(ctx, track)
		return serr
	})
	if err != nil {
		e.logger.Debug("no subtitle for %s: %v", d.BVID, err)
		return ""
	}
	return truncateRunes(text, maxSubtitleRunes)
}

// pickSubtitle prefers the auto-generated Chinese track, then the first one.
func pickSubtitle(tracks []SubtitleTrack) string {
	for _, t := range tracks {
		if strings.Contains(t.Language, "中文") && strings.Contains(t.Language, "自动") {
			return t.URL
		}
	}
	if len(tracks) > 0 {
		return tracks[0].URL
	}
	return ""
}
