package platform

import (
	"strings"
	"time"
)

// AutomationMarker is a zero-width space appended to every comment the bot
// posts. It is invisible to readers but lets the bot recognize its own
// messages on the wire, including after a restart with an empty database.
const AutomationMarker = "​"

// MarkContent appends the automation marker to a reply body.
func MarkContent(s string) string {
	if strings.HasSuffix(s, AutomationMarker) {
		return s
	}
	return s + AutomationMarker
}

// HasMarker reports whether content carries the automation marker.
func HasMarker(s string) bool {
	return strings.Contains(s, AutomationMarker)
}

// StripMarker removes all automation markers from content.
func StripMarker(s string) string {
	return strings.ReplaceAll(s, AutomationMarker, "")
}

// Video is one search result or video detail.
type Video struct {
	BVID        string
	AID         int64
	Title       string
	Description string
	Author      string
	AuthorID    int64
	PublishedAt time.Time

	// Scene records which keyword scene surfaced this video in search.
	Scene string
}

// VideoDetail is a Video plus the view-endpoint fields content extraction
// needs: the part identifier, the duration, and the subtitle tracks.
type VideoDetail struct {
	Video
	CID       int64
	Duration  time.Duration
	Subtitles []SubtitleTrack
}

// SubtitleTrack is one closed-caption track attached to a video.
type SubtitleTrack struct {
	Language string // human-readable, e.g. "中文（自动生成）"
	URL      string
}

// Conclusion is the platform's AI-generated summary of a video.
type Conclusion struct {
	Summary  string
	Outline  []OutlinePoint
	Keywords []string
}

// OutlinePoint is one chapter entry of a video conclusion.
type OutlinePoint struct {
	Title   string
	Content string
}

// Comment is one comment on a video.
type Comment struct {
	// ID is the comment's rpid. Root and Parent are "0" for root comments.
	ID     string
	Root   string
	Parent string

	UserID    string
	UserName  string
	Content   string
	Likes     int
	CreatedAt time.Time
}

// IsRoot reports whether this is a top-level comment.
func (c *Comment) IsRoot() bool {
	return c.Root == "" || c.Root == "0"
}
