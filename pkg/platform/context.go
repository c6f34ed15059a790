package platform

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxDescriptionRunes = 200
	maxSummaryRunes     = 1600
	maxContextComments  = 10
	maxCommentRunes     = 80
)

// BuildVideoContext renders a video, an extracted content summary, and a
// sample of the comment section into a compact plain-text block for analysis
// prompts. summary may be empty; the title and description then stand in.
// Comments carrying the automation marker are skipped so the bot never reads
// its own words back as ambiance.
func BuildVideoContext(v *Video, summary string, comments []Comment) string {
	var b strings.Builder

	fmt.Fprintf(&b, "视频标题: %s\n", v.Title)
	fmt.Fprintf(&b, "UP主: %s\n", v.Author)
	if desc := strings.TrimSpace(v.Description); desc != "" {
		fmt.Fprintf(&b, "视频简介: %s\n", truncateRunes(desc, maxDescriptionRunes))
	}
	if summary = strings.TrimSpace(summary); summary != "" {
		fmt.Fprintf(&b, "视频内容摘要:\n%s\n", truncateRunes(summary, maxSummaryRunes))
	}

	n := 0
	for i := range comments {
		if HasMarker(comments[i].Content) {
			continue
		}
		if n == 0 {
			b.WriteString("评论区氛围:\n")
		}
		fmt.Fprintf(&b, "- %s\n", truncateRunes(strings.TrimSpace(comments[i].Content), maxCommentRunes))
		n++
		if n >= maxContextComments {
			break
		}
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
